package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/docket"
	"github.com/xraph/docket/engine"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
	"github.com/xraph/docket/notify"
	"github.com/xraph/docket/render"
	"github.com/xraph/docket/retry"
	"github.com/xraph/docket/store/memory"
)

// ──────────────────────────────────────────────────
// Fixtures
// ──────────────────────────────────────────────────

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// events records the engine-level lifecycle hooks.
type events struct {
	enqueued  atomic.Int64
	cancelled atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	shutdown  atomic.Int64
}

func (e *events) Name() string { return "events" }

func (e *events) OnJobEnqueued(context.Context, *job.Job) error {
	e.enqueued.Add(1)
	return nil
}

func (e *events) OnJobCancelled(context.Context, *job.Job) error {
	e.cancelled.Add(1)
	return nil
}

func (e *events) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	e.completed.Add(1)
	return nil
}

func (e *events) OnJobFailed(context.Context, *job.Job, error) error {
	e.failed.Add(1)
	return nil
}

func (e *events) OnShutdown(context.Context) error {
	e.shutdown.Add(1)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scripted returns a renderer that fails the first `failures` calls and
// succeeds afterwards.
func scripted(failures int, calls *atomic.Int64) render.Renderer {
	return render.Func(func(_ context.Context, req render.Request) (render.Artifact, error) {
		n := calls.Add(1)
		if int(n) <= failures {
			return render.Artifact{}, errors.New("renderer unavailable")
		}
		return render.Artifact{Ref: "s3://docs/" + req.JobID.String() + ".pdf", Summary: "3 pages"}, nil
	})
}

func newEngine(t *testing.T, r render.Renderer, opts ...engine.Option) (*engine.Engine, *memory.Store, *clock, *events) {
	t.Helper()
	s := memory.New()
	clk := &clock{now: t0}
	ev := &events{}
	base := []engine.Option{
		engine.WithRenderer(r),
		engine.WithLogger(quietLogger()),
		engine.WithClock(clk.Now),
		engine.WithExtension(ev),
	}
	eng, err := engine.New(s, append(base, opts...)...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng, s, clk, ev
}

func supplement() engine.EnqueueRequest {
	return engine.EnqueueRequest{
		TenantID:     "org_42",
		SubjectID:    "claim_981",
		Kind:         "SUPPLEMENT",
		Config:       job.Config{Sections: []string{"summary", "line_items"}, Title: "Supplement #1"},
		NotifyTarget: "user_7",
		RequestedBy:  "user_7",
	}
}

func mustEnqueue(t *testing.T, eng *engine.Engine, req engine.EnqueueRequest) id.JobID {
	t.Helper()
	jobID, err := eng.Enqueue(context.Background(), req)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return jobID
}

func runOnce(t *testing.T, eng *engine.Engine, want bool) {
	t.Helper()
	processed, err := eng.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if processed != want {
		t.Fatalf("RunOnce processed = %v, want %v", processed, want)
	}
}

func status(t *testing.T, eng *engine.Engine, jobID id.JobID) job.StatusView {
	t.Helper()
	v, err := eng.Status(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	return v
}

// ──────────────────────────────────────────────────
// Construction
// ──────────────────────────────────────────────────

func TestNew_RequiresStore(t *testing.T) {
	_, err := engine.New(nil, engine.WithRenderer(scripted(0, new(atomic.Int64))))
	if !errors.Is(err, docket.ErrNoStore) {
		t.Fatalf("err = %v, want ErrNoStore", err)
	}
}

func TestNew_RequiresRenderer(t *testing.T) {
	_, err := engine.New(memory.New())
	if !errors.Is(err, docket.ErrNoRenderer) {
		t.Fatalf("err = %v, want ErrNoRenderer", err)
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := engine.New(memory.New(),
		engine.WithRenderer(scripted(0, new(atomic.Int64))),
		engine.WithSettings(docket.WithConcurrency(0)),
	)
	if err == nil {
		t.Fatal("expected error for zero concurrency")
	}
}

func TestNew_SettingsApplyOverConfig(t *testing.T) {
	cfg := docket.DefaultConfig()
	cfg.Concurrency = 9
	eng, _, _, _ := newEngine(t, scripted(0, new(atomic.Int64)),
		engine.WithConfig(cfg),
		engine.WithSettings(docket.WithMaxAttempts(5)),
	)
	got := eng.Config()
	if got.Concurrency != 9 || got.MaxAttempts != 5 {
		t.Fatalf("config = %+v, want concurrency 9 and max attempts 5", got)
	}
}

// ──────────────────────────────────────────────────
// Enqueue
// ──────────────────────────────────────────────────

func TestEnqueue_CreatesQueuedJob(t *testing.T) {
	eng, s, _, ev := newEngine(t, scripted(0, new(atomic.Int64)))

	jobID := mustEnqueue(t, eng, supplement())
	if jobID.Prefix() != id.PrefixJob {
		t.Errorf("prefix = %q, want %q", jobID.Prefix(), id.PrefixJob)
	}

	j, err := s.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != job.StatusQueued || j.Attempts != 0 || j.MaxAttempts != retry.DefaultMaxAttempts {
		t.Errorf("job = %s attempts %d/%d, want queued 0/%d", j.Status, j.Attempts, j.MaxAttempts, retry.DefaultMaxAttempts)
	}
	if !j.NotBefore.Equal(t0) || !j.CreatedAt.Equal(t0) {
		t.Errorf("not_before = %s created_at = %s, want %s", j.NotBefore, j.CreatedAt, t0)
	}
	if ev.enqueued.Load() != 1 {
		t.Errorf("enqueued events = %d, want 1", ev.enqueued.Load())
	}

	v := status(t, eng, jobID)
	if v.Progress != 10 {
		t.Errorf("progress = %d, want 10", v.Progress)
	}
}

func TestEnqueue_MaxAttemptsOverride(t *testing.T) {
	eng, s, _, _ := newEngine(t, scripted(0, new(atomic.Int64)), engine.WithSettings(docket.WithMaxAttempts(5)))

	fromConfig := mustEnqueue(t, eng, supplement())
	req := supplement()
	req.MaxAttempts = 1
	explicit := mustEnqueue(t, eng, req)

	for jobID, want := range map[id.JobID]int{fromConfig: 5, explicit: 1} {
		j, err := s.GetJob(context.Background(), jobID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if j.MaxAttempts != want {
			t.Errorf("max attempts = %d, want %d", j.MaxAttempts, want)
		}
	}
}

func TestEnqueue_InvalidConfig(t *testing.T) {
	eng, s, _, ev := newEngine(t, scripted(0, new(atomic.Int64)),
		engine.WithKindValidator("SUPPLEMENT", job.RequireSections("line_items")),
		engine.WithKindValidator("INSPECTION", func(job.Kind, job.Config) error {
			return errors.New("inspections need a roof diagram")
		}),
	)

	cases := map[string]func(*engine.EnqueueRequest){
		"no sections":       func(r *engine.EnqueueRequest) { r.Config.Sections = nil },
		"blank section":     func(r *engine.EnqueueRequest) { r.Config.Sections = []string{"summary", " "} },
		"no tenant":         func(r *engine.EnqueueRequest) { r.TenantID = "" },
		"no subject":        func(r *engine.EnqueueRequest) { r.SubjectID = "  " },
		"no kind":           func(r *engine.EnqueueRequest) { r.Kind = "" },
		"negative attempts": func(r *engine.EnqueueRequest) { r.MaxAttempts = -1 },
		"kind rule":         func(r *engine.EnqueueRequest) { r.Config.Sections = []string{"summary"} },
		"plain kind error":  func(r *engine.EnqueueRequest) { r.Kind = "INSPECTION" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := supplement()
			mutate(&req)
			_, err := eng.Enqueue(context.Background(), req)
			if !errors.Is(err, docket.ErrInvalidConfig) {
				t.Fatalf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}

	counts, err := s.CountJobs(context.Background(), job.CountOpts{})
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if counts[job.StatusQueued] != 0 {
		t.Errorf("rejected requests created %d jobs", counts[job.StatusQueued])
	}
	if ev.enqueued.Load() != 0 {
		t.Errorf("enqueued events = %d, want 0", ev.enqueued.Load())
	}
}

// ──────────────────────────────────────────────────
// Processing scenarios
// ──────────────────────────────────────────────────

func TestEngine_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int64
	eng, _, _, ev := newEngine(t, scripted(2, &calls))
	jobID := mustEnqueue(t, eng, supplement())

	runOnce(t, eng, true)
	v := status(t, eng, jobID)
	if v.Status != job.StatusQueued || v.Attempts != 1 || v.LastError == "" {
		t.Fatalf("after first attempt: %+v, want queued attempt 1 with error", v)
	}

	runOnce(t, eng, true)
	runOnce(t, eng, true)

	v = status(t, eng, jobID)
	if v.Status != job.StatusCompleted {
		t.Fatalf("status = %s, want completed", v.Status)
	}
	if v.Attempts != 3 || v.Progress != 100 {
		t.Errorf("attempts = %d progress = %d, want 3 and 100", v.Attempts, v.Progress)
	}
	if v.ResultURL != "s3://docs/"+jobID.String()+".pdf" {
		t.Errorf("result url = %q", v.ResultURL)
	}
	if v.LastError != "renderer unavailable" {
		t.Errorf("last error = %q, want the most recent failure kept", v.LastError)
	}
	if calls.Load() != 3 || ev.completed.Load() != 1 {
		t.Errorf("calls = %d completed events = %d, want 3 and 1", calls.Load(), ev.completed.Load())
	}

	runOnce(t, eng, false)
}

func TestEngine_SingleAttemptFailure(t *testing.T) {
	var calls atomic.Int64
	eng, _, _, ev := newEngine(t, scripted(10, &calls))
	req := supplement()
	req.MaxAttempts = 1
	jobID := mustEnqueue(t, eng, req)

	runOnce(t, eng, true)

	v := status(t, eng, jobID)
	if v.Status != job.StatusFailed || v.Attempts != 1 || v.Progress != 0 {
		t.Fatalf("view = %+v, want failed after 1 attempt", v)
	}
	if v.LastError != "renderer unavailable" {
		t.Errorf("last error = %q", v.LastError)
	}
	if ev.failed.Load() != 1 {
		t.Errorf("failed events = %d, want 1", ev.failed.Load())
	}
	runOnce(t, eng, false)
}

func TestEngine_TimeoutIsRetryable(t *testing.T) {
	blocking := render.Func(func(ctx context.Context, _ render.Request) (render.Artifact, error) {
		<-ctx.Done()
		return render.Artifact{}, ctx.Err()
	})
	eng, _, _, _ := newEngine(t, blocking, engine.WithSettings(docket.WithRenderTimeout(20*time.Millisecond)))
	jobID := mustEnqueue(t, eng, supplement())

	runOnce(t, eng, true)

	v := status(t, eng, jobID)
	if v.Status != job.StatusQueued || v.Attempts != 1 {
		t.Fatalf("view = %+v, want queued after 1 attempt", v)
	}
	if v.LastError == "" {
		t.Error("expected timeout reason in last error")
	}
}

func TestEngine_TimeoutReleasesRendererIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := render.Func(func(context.Context, render.Request) (render.Artifact, error) {
		<-release
		return render.Artifact{Ref: "s3://docs/late.pdf"}, nil
	})
	eng, _, _, _ := newEngine(t, stuck, engine.WithSettings(docket.WithRenderTimeout(20*time.Millisecond)))
	jobID := mustEnqueue(t, eng, supplement())

	done := make(chan error, 1)
	go func() {
		_, err := eng.RunOnce(context.Background())
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunOnce still blocked long after the render timeout")
	}

	v := status(t, eng, jobID)
	if v.Status != job.StatusQueued || v.Attempts != 1 || v.ResultURL != "" {
		t.Fatalf("view = %+v, want queued after 1 attempt with no result", v)
	}
}

func TestEngine_BackoffDelaysEligibility(t *testing.T) {
	var calls atomic.Int64
	eng, _, clk, _ := newEngine(t, scripted(1, &calls), engine.WithBackoff(retry.NewConstant(time.Minute)))
	jobID := mustEnqueue(t, eng, supplement())

	runOnce(t, eng, true)
	runOnce(t, eng, false)

	clk.Advance(59 * time.Second)
	runOnce(t, eng, false)

	clk.Advance(time.Second)
	runOnce(t, eng, true)

	if v := status(t, eng, jobID); v.Status != job.StatusCompleted || v.Attempts != 2 {
		t.Fatalf("view = %+v, want completed after 2 attempts", v)
	}
}

func TestEngine_FIFOAcrossTenants(t *testing.T) {
	var order []string
	var mu sync.Mutex
	r := render.Func(func(_ context.Context, req render.Request) (render.Artifact, error) {
		mu.Lock()
		order = append(order, req.SubjectID)
		mu.Unlock()
		return render.Artifact{Ref: "ref"}, nil
	})
	eng, _, clk, _ := newEngine(t, r)

	for _, subject := range []string{"claim_1", "claim_2", "claim_3"} {
		req := supplement()
		req.SubjectID = subject
		req.TenantID = "org_" + subject
		mustEnqueue(t, eng, req)
		clk.Advance(time.Millisecond)
	}
	for range 3 {
		runOnce(t, eng, true)
	}

	want := []string{"claim_1", "claim_2", "claim_3"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("render order = %v, want %v", order, want)
		}
	}
}

func TestEngine_NotifierFailureKeepsCompletion(t *testing.T) {
	notified := make(chan notify.Message, 1)
	n := notify.Func(func(_ context.Context, msg notify.Message) error {
		notified <- msg
		return errors.New("nats: no responders")
	})
	eng, _, _, _ := newEngine(t, scripted(0, new(atomic.Int64)), engine.WithNotifier(n))
	jobID := mustEnqueue(t, eng, supplement())

	runOnce(t, eng, true)

	select {
	case msg := <-notified:
		if msg.JobID.String() != jobID.String() || msg.Target != "user_7" {
			t.Errorf("message = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notifier was not called")
	}

	if err := eng.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if v := status(t, eng, jobID); v.Status != job.StatusCompleted {
		t.Fatalf("status = %s, want completed", v.Status)
	}
}

func TestEngine_NoNotifyTargetSkipsNotifier(t *testing.T) {
	var called atomic.Bool
	n := notify.Func(func(context.Context, notify.Message) error {
		called.Store(true)
		return nil
	})
	eng, _, _, _ := newEngine(t, scripted(0, new(atomic.Int64)), engine.WithNotifier(n))
	req := supplement()
	req.NotifyTarget = ""
	mustEnqueue(t, eng, req)

	runOnce(t, eng, true)
	if err := eng.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if called.Load() {
		t.Error("notifier called for job without target")
	}
}

func TestEngine_ReapsAbandonedJob(t *testing.T) {
	eng, s, clk, _ := newEngine(t, scripted(0, new(atomic.Int64)))
	jobID := mustEnqueue(t, eng, supplement())

	// Another worker claims the job and then vanishes.
	if _, err := s.ClaimNext(context.Background(), id.NewWorkerID(), clk.Now()); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if got := eng.ReapStaleJobs(context.Background()); got != 0 {
		t.Fatalf("reaped %d fresh jobs", got)
	}

	clk.Advance(eng.Config().StaleJobThreshold + time.Second)
	if got := eng.ReapStaleJobs(context.Background()); got != 1 {
		t.Fatalf("reaped = %d, want 1", got)
	}

	v := status(t, eng, jobID)
	if v.Status != job.StatusQueued || v.LastError != job.ReasonWorkerLost {
		t.Fatalf("view = %+v, want queued with worker lost reason", v)
	}

	runOnce(t, eng, true)
	if v := status(t, eng, jobID); v.Status != job.StatusCompleted || v.Attempts != 2 {
		t.Fatalf("view = %+v, want completed after 2 attempts", v)
	}
}

func TestEngine_StartStop(t *testing.T) {
	var calls atomic.Int64
	eng, _, _, ev := newEngine(t, scripted(0, &calls),
		engine.WithSettings(docket.WithPollInterval(5*time.Millisecond), docket.WithConcurrency(2)),
	)
	ids := []id.JobID{
		mustEnqueue(t, eng, supplement()),
		mustEnqueue(t, eng, supplement()),
		mustEnqueue(t, eng, supplement()),
	}

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for ev.completed.Load() < int64(len(ids)) {
		select {
		case <-deadline:
			t.Fatalf("timed out: %d of %d completed", ev.completed.Load(), len(ids))
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if ev.shutdown.Load() != 1 {
		t.Errorf("shutdown events = %d, want 1", ev.shutdown.Load())
	}
	for _, jobID := range ids {
		if v := status(t, eng, jobID); v.Status != job.StatusCompleted || v.Attempts != 1 {
			t.Errorf("job %s: %+v, want completed once", jobID, v)
		}
	}
	if calls.Load() != int64(len(ids)) {
		t.Errorf("render calls = %d, want %d", calls.Load(), len(ids))
	}
}

// ──────────────────────────────────────────────────
// Cancel, Status, listings
// ──────────────────────────────────────────────────

func TestCancel_QueuedJob(t *testing.T) {
	var calls atomic.Int64
	eng, _, _, ev := newEngine(t, scripted(0, &calls))
	jobID := mustEnqueue(t, eng, supplement())

	j, err := eng.Cancel(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if j.Status != job.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", j.Status)
	}
	if ev.cancelled.Load() != 1 {
		t.Errorf("cancelled events = %d, want 1", ev.cancelled.Load())
	}

	runOnce(t, eng, false)
	if calls.Load() != 0 {
		t.Errorf("cancelled job was rendered")
	}
}

func TestCancel_NonQueuedJob(t *testing.T) {
	eng, _, _, ev := newEngine(t, scripted(0, new(atomic.Int64)))
	jobID := mustEnqueue(t, eng, supplement())
	runOnce(t, eng, true)

	j, err := eng.Cancel(context.Background(), jobID)
	if !errors.Is(err, docket.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if j == nil || j.Status != job.StatusCompleted {
		t.Fatalf("job = %+v, want current completed job", j)
	}
	if ev.cancelled.Load() != 0 {
		t.Errorf("cancelled events = %d, want 0", ev.cancelled.Load())
	}
}

func TestUnknownJob(t *testing.T) {
	eng, _, _, _ := newEngine(t, scripted(0, new(atomic.Int64)))
	missing := id.NewJobID()

	if _, err := eng.Status(context.Background(), missing); !errors.Is(err, docket.ErrJobNotFound) {
		t.Errorf("Status err = %v, want ErrJobNotFound", err)
	}
	if _, err := eng.Cancel(context.Background(), missing); !errors.Is(err, docket.ErrJobNotFound) {
		t.Errorf("Cancel err = %v, want ErrJobNotFound", err)
	}
}

func TestListRecent(t *testing.T) {
	eng, _, clk, _ := newEngine(t, scripted(0, new(atomic.Int64)))

	var ids []id.JobID
	for range 4 {
		ids = append(ids, mustEnqueue(t, eng, supplement()))
		clk.Advance(time.Second)
	}
	other := supplement()
	other.TenantID = "org_other"
	mustEnqueue(t, eng, other)

	if _, err := eng.Cancel(context.Background(), ids[0]); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	got, err := eng.ListRecent(context.Background(), job.ListOpts{TenantID: "org_42", Limit: 3})
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].ID.String() != ids[3].String() {
		t.Errorf("first = %s, want newest %s", got[0].ID, ids[3])
	}

	cancelled, err := eng.ListRecent(context.Background(), job.ListOpts{TenantID: "org_42", Status: job.StatusCancelled})
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(cancelled) != 1 || cancelled[0].ID.String() != ids[0].String() {
		t.Errorf("cancelled = %+v, want only %s", cancelled, ids[0])
	}

	if _, err := eng.ListRecent(context.Background(), job.ListOpts{}); !errors.Is(err, docket.ErrInvalidConfig) {
		t.Errorf("missing tenant err = %v, want ErrInvalidConfig", err)
	}
	if _, err := eng.ListRecent(context.Background(), job.ListOpts{TenantID: "org_42", Status: "archived"}); !errors.Is(err, docket.ErrInvalidConfig) {
		t.Errorf("unknown status err = %v, want ErrInvalidConfig", err)
	}
}

func TestCounts(t *testing.T) {
	eng, _, _, _ := newEngine(t, scripted(0, new(atomic.Int64)))
	mustEnqueue(t, eng, supplement())
	mustEnqueue(t, eng, supplement())
	cancel := mustEnqueue(t, eng, supplement())
	if _, err := eng.Cancel(context.Background(), cancel); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	runOnce(t, eng, true)

	counts, err := eng.Counts(context.Background(), "org_42")
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	want := map[job.Status]int64{
		job.StatusQueued:     1,
		job.StatusProcessing: 0,
		job.StatusCompleted:  1,
		job.StatusFailed:     0,
		job.StatusCancelled:  1,
	}
	for st, n := range want {
		got, ok := counts[st]
		if !ok {
			t.Errorf("status %s missing from counts", st)
		}
		if got != n {
			t.Errorf("counts[%s] = %d, want %d", st, got, n)
		}
	}
}
