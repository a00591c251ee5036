// Package storetest provides a conformance suite that every store.Store
// backend runs from its own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xraph/docket"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
	"github.com/xraph/docket/store"
)

// Factory returns an empty store. It is called once per subtest; the
// backend is responsible for isolation and cleanup.
type Factory func(t *testing.T) store.Store

// base is the reference clock for every case. Backends persist at least
// millisecond precision.
var base = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"ClaimEmpty", testClaimEmpty},
		{"ClaimOldestFirst", testClaimOldestFirst},
		{"ClaimRespectsNotBefore", testClaimRespectsNotBefore},
		{"FailExhausted", testFailExhausted},
		{"ConcurrentClaimSingleJob", testConcurrentClaimSingleJob},
		{"ConcurrentClaimDrain", testConcurrentClaimDrain},
		{"MarkFailedRequeues", testMarkFailedRequeues},
		{"MarkFailedTerminal", testMarkFailedTerminal},
		{"MarkCompleted", testMarkCompleted},
		{"LeaseChecks", testLeaseChecks},
		{"Cancel", testCancel},
		{"CancelTerminal", testCancelTerminal},
		{"ListJobs", testListJobs},
		{"CountJobs", testCountJobs},
		{"HeartbeatAndStale", testHeartbeatAndStale},
		{"Lifecycle", testLifecycle},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

// NewJob returns a valid queued job for tenant created at createdAt.
func NewJob(tenant string, createdAt time.Time) *job.Job {
	return &job.Job{
		Entity:      docket.Entity{CreatedAt: createdAt, UpdatedAt: createdAt},
		ID:          id.NewJobID(),
		TenantID:    tenant,
		SubjectID:   "claim_123",
		Kind:        "SUPPLEMENT",
		Status:      job.StatusQueued,
		MaxAttempts: 3,
		NotBefore:   createdAt,
		RequestedBy: "user_42",
		Config: job.Config{
			Sections: []string{"summary", "line_items"},
			Options:  map[string]any{"includePhotos": true},
			Title:    "Supplement request",
		},
	}
}

func create(t *testing.T, s store.Store, jobs ...*job.Job) {
	t.Helper()
	for _, j := range jobs {
		require.NoError(t, s.CreateJob(context.Background(), j))
	}
}

func get(t *testing.T, s store.Store, jobID id.JobID) *job.Job {
	t.Helper()
	j, err := s.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	return j
}

func claim(t *testing.T, s store.Store, now time.Time) *job.Job {
	t.Helper()
	j, err := s.ClaimNext(context.Background(), id.NewWorkerID(), now)
	require.NoError(t, err)
	require.NotNil(t, j, "expected a job to be claimed")
	return j
}

func sameTime(t *testing.T, want time.Time, got time.Time) {
	t.Helper()
	require.WithinDuration(t, want, got, time.Millisecond)
}

func testCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("org_1", base)
	j.NotifyTarget = "https://hooks.example.com/docs"
	create(t, s, j)

	got := get(t, s, j.ID)
	require.Equal(t, j.ID.String(), got.ID.String())
	require.Equal(t, job.StatusQueued, got.Status)
	require.Zero(t, got.Attempts)
	require.Equal(t, 3, got.MaxAttempts)
	require.Equal(t, "org_1", got.TenantID)
	require.Equal(t, "claim_123", got.SubjectID)
	require.Equal(t, job.Kind("SUPPLEMENT"), got.Kind)
	require.Equal(t, "user_42", got.RequestedBy)
	require.Equal(t, "https://hooks.example.com/docs", got.NotifyTarget)
	require.Equal(t, []string{"summary", "line_items"}, got.Config.Sections)
	require.Equal(t, true, got.Config.Options["includePhotos"])
	require.Equal(t, "Supplement request", got.Config.Title)
	require.True(t, got.WorkerID.IsNil())
	require.Nil(t, got.StartedAt)
	require.Nil(t, got.CompletedAt)
	sameTime(t, base, got.CreatedAt)

	err := s.CreateJob(ctx, j)
	require.ErrorIs(t, err, docket.ErrJobAlreadyExists)

	_, err = s.GetJob(ctx, id.NewJobID())
	require.ErrorIs(t, err, docket.ErrJobNotFound)
}

func testClaimEmpty(t *testing.T, s store.Store) {
	j, err := s.ClaimNext(context.Background(), id.NewWorkerID(), base)
	require.NoError(t, err)
	require.Nil(t, j)
}

func testClaimOldestFirst(t *testing.T, s store.Store) {
	ctx := context.Background()
	older := NewJob("org_1", base)
	newer := NewJob("org_2", base.Add(time.Second))
	create(t, s, newer, older)

	worker := id.NewWorkerID()
	now := base.Add(time.Minute)
	got, err := s.ClaimNext(ctx, worker, now)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, older.ID.String(), got.ID.String())
	require.Equal(t, job.StatusProcessing, got.Status)
	require.Equal(t, 1, got.Attempts)
	require.Equal(t, worker.String(), got.WorkerID.String())
	require.NotNil(t, got.StartedAt)
	sameTime(t, now, *got.StartedAt)
	require.NotNil(t, got.HeartbeatAt)

	stored := get(t, s, older.ID)
	require.Equal(t, job.StatusProcessing, stored.Status)
	require.Equal(t, 1, stored.Attempts)

	untouched := get(t, s, newer.ID)
	require.Equal(t, job.StatusQueued, untouched.Status)
	require.Zero(t, untouched.Attempts)

	second := claim(t, s, now)
	require.Equal(t, newer.ID.String(), second.ID.String())

	none, err := s.ClaimNext(ctx, worker, now)
	require.NoError(t, err)
	require.Nil(t, none)
}

func testClaimRespectsNotBefore(t *testing.T, s store.Store) {
	ctx := context.Background()
	later := NewJob("org_1", base)
	later.NotBefore = base.Add(time.Hour)
	create(t, s, later)

	none, err := s.ClaimNext(ctx, id.NewWorkerID(), base.Add(time.Minute))
	require.NoError(t, err)
	require.Nil(t, none)

	got := claim(t, s, base.Add(time.Hour))
	require.Equal(t, later.ID.String(), got.ID.String())
}

func testFailExhausted(t *testing.T, s store.Store) {
	ctx := context.Background()
	spent := NewJob("org_1", base)
	spent.Attempts = 3
	spent.MaxAttempts = 3
	withReason := NewJob("org_2", base.Add(time.Second))
	withReason.Attempts = 2
	withReason.MaxAttempts = 2
	withReason.LastError = "renderer returned 502"
	fresh := NewJob("org_1", base.Add(2*time.Second))
	create(t, s, spent, withReason, fresh)

	none, err := s.ClaimNext(ctx, id.NewWorkerID(), base.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, none)
	require.Equal(t, fresh.ID.String(), none.ID.String(), "exhausted jobs must never be claimed")
	require.Equal(t, job.StatusQueued, get(t, s, spent.ID).Status, "claim leaves exhausted jobs to the sweep")

	swept, err := s.FailExhausted(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, swept, 2)
	sweptIDs := []string{swept[0].ID.String(), swept[1].ID.String()}
	require.ElementsMatch(t, []string{spent.ID.String(), withReason.ID.String()}, sweptIDs)
	for _, j := range swept {
		require.Equal(t, job.StatusFailed, j.Status)
	}

	got := get(t, s, spent.ID)
	require.Equal(t, job.StatusFailed, got.Status)
	require.Equal(t, 3, got.Attempts)
	require.Equal(t, job.ReasonQuotaExhausted, got.LastError)
	require.NotNil(t, got.CompletedAt)
	require.Equal(t, "renderer returned 502", get(t, s, withReason.ID).LastError)

	again, err := s.FailExhausted(ctx, base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Empty(t, again)

	counts, err := s.CountJobs(ctx, job.CountOpts{TenantID: "org_1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), counts[job.StatusFailed])
	require.Equal(t, int64(1), counts[job.StatusProcessing])
}

func testConcurrentClaimSingleJob(t *testing.T, s store.Store) {
	create(t, s, NewJob("org_1", base))

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed []*job.Job
		errs    []error
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j, err := s.ClaimNext(context.Background(), id.NewWorkerID(), base.Add(time.Minute))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if j != nil {
				claimed = append(claimed, j)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, claimed, 1)
	require.Equal(t, 1, claimed[0].Attempts)
}

func testConcurrentClaimDrain(t *testing.T, s store.Store) {
	const total = 20
	want := make(map[string]bool, total)
	for i := range total {
		j := NewJob(fmt.Sprintf("org_%d", i%3), base.Add(time.Duration(i)*time.Millisecond))
		create(t, s, j)
		want[j.ID.String()] = true
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]int)
		errs []error
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker := id.NewWorkerID()
			for {
				j, err := s.ClaimNext(context.Background(), worker, base.Add(time.Minute))
				mu.Lock()
				if err != nil {
					errs = append(errs, err)
				}
				if j != nil {
					seen[j.ID.String()]++
				}
				mu.Unlock()
				if err != nil || j == nil {
					return
				}
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, seen, total)
	for jobID, n := range seen {
		require.True(t, want[jobID], "claimed unknown job %s", jobID)
		require.Equal(t, 1, n, "job %s claimed %d times", jobID, n)
	}
}

func testMarkFailedRequeues(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("org_1", base)
	create(t, s, j)

	now := base.Add(time.Minute)
	claimed := claim(t, s, now)
	retryAt := now.Add(30 * time.Second)

	got, err := s.MarkFailed(ctx, claimed.Lease(), "renderer returned 502", retryAt, now)
	require.NoError(t, err)
	require.Equal(t, job.StatusQueued, got.Status)
	require.Equal(t, 1, got.Attempts)
	require.Equal(t, "renderer returned 502", got.LastError)
	require.True(t, got.WorkerID.IsNil())
	sameTime(t, retryAt, got.NotBefore)

	stored := get(t, s, j.ID)
	require.Equal(t, job.StatusQueued, stored.Status)
	sameTime(t, retryAt, stored.NotBefore)

	none, err := s.ClaimNext(ctx, id.NewWorkerID(), now.Add(time.Second))
	require.NoError(t, err)
	require.Nil(t, none, "job must not be claimable before its retry time")

	again := claim(t, s, retryAt)
	require.Equal(t, 2, again.Attempts)
	require.Equal(t, "renderer returned 502", again.LastError)
}

func testMarkFailedTerminal(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("org_1", base)
	j.MaxAttempts = 1
	create(t, s, j)

	now := base.Add(time.Minute)
	claimed := claim(t, s, now)

	got, err := s.MarkFailed(ctx, claimed.Lease(), "template missing", now, now)
	require.NoError(t, err)
	require.Equal(t, job.StatusFailed, got.Status)
	require.Equal(t, 1, got.Attempts)
	require.Equal(t, "template missing", got.LastError)
	require.NotNil(t, got.CompletedAt)

	none, err := s.ClaimNext(ctx, id.NewWorkerID(), now.Add(time.Hour))
	require.NoError(t, err)
	require.Nil(t, none)
}

func testMarkCompleted(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("org_1", base)
	create(t, s, j)

	now := base.Add(time.Minute)
	first := claim(t, s, now)
	_, err := s.MarkFailed(ctx, first.Lease(), "timeout", now, now)
	require.NoError(t, err)

	second := claim(t, s, now.Add(time.Second))
	done := now.Add(2 * time.Second)
	got, err := s.MarkCompleted(ctx, second.Lease(), job.Result{
		URL:     "s3://docs/org_1/claim_123.pdf",
		Summary: "4 pages",
	}, done)
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, got.Status)
	require.Equal(t, 2, got.Attempts)
	require.Equal(t, "s3://docs/org_1/claim_123.pdf", got.ResultURL)
	require.Equal(t, "4 pages", got.ResultSummary)
	require.Equal(t, "timeout", got.LastError)
	require.NotNil(t, got.CompletedAt)
	sameTime(t, done, *got.CompletedAt)

	stored := get(t, s, j.ID)
	require.Equal(t, job.StatusCompleted, stored.Status)
	require.Equal(t, "s3://docs/org_1/claim_123.pdf", stored.ResultURL)
}

func testLeaseChecks(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("org_1", base)
	create(t, s, j)
	now := base.Add(time.Minute)
	claimed := claim(t, s, now)
	lease := claimed.Lease()

	wrongWorker := lease
	wrongWorker.WorkerID = id.NewWorkerID()
	_, err := s.MarkCompleted(ctx, wrongWorker, job.Result{URL: "s3://x"}, now)
	require.ErrorIs(t, err, docket.ErrLeaseLost)
	require.ErrorIs(t, s.HeartbeatJob(ctx, wrongWorker, now), docket.ErrLeaseLost)

	wrongAttempt := lease
	wrongAttempt.Attempt = 2
	_, err = s.MarkFailed(ctx, wrongAttempt, "boom", now, now)
	require.ErrorIs(t, err, docket.ErrLeaseLost)

	missing := job.Lease{JobID: id.NewJobID(), WorkerID: lease.WorkerID, Attempt: 1}
	_, err = s.MarkCompleted(ctx, missing, job.Result{URL: "s3://x"}, now)
	require.ErrorIs(t, err, docket.ErrJobNotFound)
	_, err = s.MarkFailed(ctx, missing, "boom", now, now)
	require.ErrorIs(t, err, docket.ErrJobNotFound)
	require.ErrorIs(t, s.HeartbeatJob(ctx, missing, now), docket.ErrJobNotFound)

	stored := get(t, s, j.ID)
	require.Equal(t, job.StatusProcessing, stored.Status)

	_, err = s.MarkCompleted(ctx, lease, job.Result{URL: "s3://x"}, now)
	require.NoError(t, err)
	_, err = s.MarkCompleted(ctx, lease, job.Result{URL: "s3://y"}, now)
	require.ErrorIs(t, err, docket.ErrLeaseLost)
	_, err = s.MarkFailed(ctx, lease, "late", now, now)
	require.ErrorIs(t, err, docket.ErrLeaseLost)

	final := get(t, s, j.ID)
	require.Equal(t, job.StatusCompleted, final.Status)
	require.Equal(t, "s3://x", final.ResultURL)
}

func testCancel(t *testing.T, s store.Store) {
	ctx := context.Background()
	queued := NewJob("org_1", base)
	busy := NewJob("org_1", base.Add(time.Second))
	busy.NotBefore = base.Add(time.Hour)
	create(t, s, queued, busy)

	now := base.Add(time.Minute)
	got, err := s.CancelJob(ctx, queued.ID, now)
	require.NoError(t, err)
	require.Equal(t, job.StatusCancelled, got.Status)
	require.Zero(t, got.Attempts)

	_, err = s.CancelJob(ctx, queued.ID, now)
	require.ErrorIs(t, err, docket.ErrInvalidTransition)

	_, err = s.CancelJob(ctx, id.NewJobID(), now)
	require.ErrorIs(t, err, docket.ErrJobNotFound)

	none, err := s.ClaimNext(ctx, id.NewWorkerID(), now)
	require.NoError(t, err)
	require.Nil(t, none, "cancelled job must never be claimed")

	processing := claim(t, s, base.Add(time.Hour))
	require.Equal(t, busy.ID.String(), processing.ID.String())
	_, err = s.CancelJob(ctx, busy.ID, now)
	require.ErrorIs(t, err, docket.ErrInvalidTransition)
	require.Equal(t, job.StatusProcessing, get(t, s, busy.ID).Status)
}

func testCancelTerminal(t *testing.T, s store.Store) {
	ctx := context.Background()
	once := NewJob("org_1", base)
	once.MaxAttempts = 1
	done := NewJob("org_1", base.Add(time.Second))
	create(t, s, once, done)

	now := base.Add(time.Minute)
	first := claim(t, s, now)
	require.Equal(t, once.ID.String(), first.ID.String())
	failed, err := s.MarkFailed(ctx, first.Lease(), "template missing", now, now)
	require.NoError(t, err)
	require.Equal(t, job.StatusFailed, failed.Status)

	second := claim(t, s, now)
	_, err = s.MarkCompleted(ctx, second.Lease(), job.Result{URL: "s3://docs/done.pdf"}, now)
	require.NoError(t, err)

	for _, jobID := range []id.JobID{once.ID, done.ID} {
		before := get(t, s, jobID)

		_, err := s.CancelJob(ctx, jobID, now.Add(time.Minute))
		require.ErrorIs(t, err, docket.ErrInvalidTransition)

		after := get(t, s, jobID)
		require.Equal(t, before.Status, after.Status)
		require.Equal(t, before.Attempts, after.Attempts)
		require.Equal(t, before.LastError, after.LastError)
		require.Equal(t, before.ResultURL, after.ResultURL)
		require.NotNil(t, after.CompletedAt)
		require.True(t, before.CompletedAt.Equal(*after.CompletedAt))
		require.True(t, before.UpdatedAt.Equal(after.UpdatedAt))
	}
	require.Equal(t, "template missing", get(t, s, once.ID).LastError)
}

func testListJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	var ids []string
	for i := range 4 {
		j := NewJob("org_1", base.Add(time.Duration(i)*time.Second))
		if i == 3 {
			j.SubjectID = "claim_999"
		}
		create(t, s, j)
		ids = append(ids, j.ID.String())
	}
	create(t, s, NewJob("org_2", base.Add(time.Hour)))

	_, err := s.CancelJob(ctx, id.MustParse(ids[0]), base.Add(time.Minute))
	require.NoError(t, err)

	all, err := s.ListJobs(ctx, job.ListOpts{TenantID: "org_1"})
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, j := range all {
		require.Equal(t, ids[3-i], j.ID.String(), "listing must be newest first")
		require.Equal(t, "org_1", j.TenantID)
	}

	limited, err := s.ListJobs(ctx, job.ListOpts{TenantID: "org_1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, ids[3], limited[0].ID.String())

	cancelled, err := s.ListJobs(ctx, job.ListOpts{TenantID: "org_1", Status: job.StatusCancelled})
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	require.Equal(t, ids[0], cancelled[0].ID.String())

	bySubject, err := s.ListJobs(ctx, job.ListOpts{TenantID: "org_1", SubjectID: "claim_999"})
	require.NoError(t, err)
	require.Len(t, bySubject, 1)
	require.Equal(t, ids[3], bySubject[0].ID.String())

	none, err := s.ListJobs(ctx, job.ListOpts{TenantID: "org_404"})
	require.NoError(t, err)
	require.Empty(t, none)
}

func testCountJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := NewJob("org_1", base)
	b := NewJob("org_1", base.Add(time.Second))
	c := NewJob("org_1", base.Add(2*time.Second))
	d := NewJob("org_2", base.Add(3*time.Second))
	create(t, s, a, b, c, d)

	now := base.Add(time.Minute)
	claimed := claim(t, s, now)
	require.Equal(t, a.ID.String(), claimed.ID.String())
	_, err := s.CancelJob(ctx, c.ID, now)
	require.NoError(t, err)

	counts, err := s.CountJobs(ctx, job.CountOpts{TenantID: "org_1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), counts[job.StatusQueued])
	require.Equal(t, int64(1), counts[job.StatusProcessing])
	require.Equal(t, int64(1), counts[job.StatusCancelled])
	require.Zero(t, counts[job.StatusCompleted])
	require.Zero(t, counts[job.StatusFailed])

	all, err := s.CountJobs(ctx, job.CountOpts{})
	require.NoError(t, err)
	require.Equal(t, int64(2), all[job.StatusQueued])
	require.Equal(t, int64(1), all[job.StatusProcessing])
	require.Equal(t, int64(1), all[job.StatusCancelled])
}

func testHeartbeatAndStale(t *testing.T, s store.Store) {
	ctx := context.Background()
	create(t, s, NewJob("org_1", base), NewJob("org_1", base.Add(time.Second)))

	claimedAt := base.Add(time.Minute)
	first := claim(t, s, claimedAt)
	second := claim(t, s, claimedAt.Add(10*time.Second))

	cutoff := claimedAt.Add(5 * time.Second)
	stale, err := s.ListStaleJobs(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, first.ID.String(), stale[0].ID.String())

	require.NoError(t, s.HeartbeatJob(ctx, first.Lease(), claimedAt.Add(20*time.Second)))
	stale, err = s.ListStaleJobs(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Empty(t, stale)

	stale, err = s.ListStaleJobs(ctx, claimedAt.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	require.Equal(t, second.ID.String(), stale[0].ID.String(), "oldest heartbeat first")

	stale, err = s.ListStaleJobs(ctx, claimedAt.Add(time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, stale, 1)
}

func testLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx), "migrate must be idempotent")
	require.NoError(t, s.Ping(ctx))
}
