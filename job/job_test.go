package job_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/docket"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
)

func newQueued(maxAttempts int) *job.Job {
	now := time.Now().UTC()
	return &job.Job{
		Entity:      docket.Entity{CreatedAt: now, UpdatedAt: now},
		ID:          id.NewJobID(),
		TenantID:    "org_1",
		SubjectID:   "claim_1",
		Kind:        "SUPPLEMENT",
		Status:      job.StatusQueued,
		Config:      job.Config{Sections: []string{"summary"}},
		MaxAttempts: maxAttempts,
		NotBefore:   now,
	}
}

func TestProgress(t *testing.T) {
	tests := []struct {
		status job.Status
		want   int
	}{
		{job.StatusQueued, 10},
		{job.StatusProcessing, 50},
		{job.StatusCompleted, 100},
		{job.StatusFailed, 0},
		{job.StatusCancelled, 0},
	}
	for _, tt := range tests {
		if got := tt.status.Progress(); got != tt.want {
			t.Errorf("%s.Progress() = %d, want %d", tt.status, got, tt.want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]job.Status]bool{}
	for _, edge := range [][2]job.Status{
		{job.StatusQueued, job.StatusProcessing},
		{job.StatusQueued, job.StatusFailed},
		{job.StatusQueued, job.StatusCancelled},
		{job.StatusProcessing, job.StatusCompleted},
		{job.StatusProcessing, job.StatusQueued},
		{job.StatusProcessing, job.StatusFailed},
	} {
		allowed[edge] = true
	}
	for _, from := range job.Statuses {
		for _, to := range job.Statuses {
			want := allowed[[2]job.Status{from, to}]
			if got := job.CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
	for _, s := range job.Statuses {
		if s.Terminal() && len(allowedFrom(allowed, s)) > 0 {
			t.Errorf("terminal status %s has outgoing edges", s)
		}
	}
}

func allowedFrom(allowed map[[2]job.Status]bool, from job.Status) []job.Status {
	var out []job.Status
	for edge := range allowed {
		if edge[0] == from {
			out = append(out, edge[1])
		}
	}
	return out
}

func TestClaimConsumesOneAttempt(t *testing.T) {
	j := newQueued(3)
	w := id.NewWorkerID()
	now := time.Now().UTC()

	if err := j.Claim(w, now); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if j.Status != job.StatusProcessing {
		t.Errorf("Status = %s, want processing", j.Status)
	}
	if j.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", j.Attempts)
	}
	if j.WorkerID.String() != w.String() {
		t.Errorf("WorkerID = %s, want %s", j.WorkerID, w)
	}
	if j.HeartbeatAt == nil || j.StartedAt == nil {
		t.Error("expected StartedAt and HeartbeatAt to be set")
	}
	if !j.Holds(job.Lease{JobID: j.ID, WorkerID: w, Attempt: 1}) {
		t.Error("job should hold the lease it was just claimed with")
	}
	if j.Holds(job.Lease{JobID: j.ID, WorkerID: w, Attempt: 2}) {
		t.Error("job should not hold a lease for a different attempt")
	}
}

func TestClaimRejectsExhausted(t *testing.T) {
	j := newQueued(1)
	j.Attempts = 1
	err := j.Claim(id.NewWorkerID(), time.Now())
	if !errors.Is(err, docket.ErrQuotaExhausted) {
		t.Fatalf("Claim error = %v, want ErrQuotaExhausted", err)
	}
}

func TestFailRequeuesUntilQuota(t *testing.T) {
	j := newQueued(2)
	now := time.Now().UTC()
	retryAt := now.Add(time.Minute)

	if err := j.Claim(id.NewWorkerID(), now); err != nil {
		t.Fatal(err)
	}
	if err := j.Fail("renderer unavailable", retryAt, now); err != nil {
		t.Fatal(err)
	}
	if j.Status != job.StatusQueued {
		t.Fatalf("Status = %s, want queued", j.Status)
	}
	if !j.NotBefore.Equal(retryAt) {
		t.Errorf("NotBefore = %s, want %s", j.NotBefore, retryAt)
	}
	if !j.WorkerID.IsNil() {
		t.Error("requeued job should have no owner")
	}
	if j.Eligible(now) {
		t.Error("job should not be eligible before retryAt")
	}
	if !j.Eligible(retryAt) {
		t.Error("job should be eligible at retryAt")
	}

	if err := j.Claim(id.NewWorkerID(), retryAt); err != nil {
		t.Fatal(err)
	}
	if err := j.Fail("timeout", time.Time{}, retryAt); err != nil {
		t.Fatal(err)
	}
	if j.Status != job.StatusFailed {
		t.Fatalf("Status = %s, want failed", j.Status)
	}
	if j.LastError != "timeout" {
		t.Errorf("LastError = %q, want timeout", j.LastError)
	}
	if j.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", j.Attempts)
	}
	if j.CompletedAt == nil {
		t.Error("expected CompletedAt on terminal failure")
	}
}

func TestFailClampsRetryAtToNow(t *testing.T) {
	j := newQueued(3)
	now := time.Now().UTC()
	if err := j.Claim(id.NewWorkerID(), now); err != nil {
		t.Fatal(err)
	}
	if err := j.Fail("boom", time.Time{}, now); err != nil {
		t.Fatal(err)
	}
	if !j.NotBefore.Equal(now) {
		t.Errorf("NotBefore = %s, want %s", j.NotBefore, now)
	}
}

func TestCompleteKeepsLastError(t *testing.T) {
	j := newQueued(3)
	now := time.Now().UTC()
	_ = j.Claim(id.NewWorkerID(), now)
	_ = j.Fail("first attempt failed", now, now)
	_ = j.Claim(id.NewWorkerID(), now)

	if err := j.Complete(job.Result{URL: "s3://docs/a.pdf", Summary: "4 pages"}, now); err != nil {
		t.Fatal(err)
	}
	if j.Status != job.StatusCompleted || j.ResultURL != "s3://docs/a.pdf" {
		t.Fatalf("unexpected job after Complete: %+v", j)
	}
	if j.LastError != "first attempt failed" {
		t.Errorf("LastError = %q, want history preserved", j.LastError)
	}
}

func TestCompleteRequiresProcessing(t *testing.T) {
	j := newQueued(3)
	err := j.Complete(job.Result{URL: "x"}, time.Now())
	if !errors.Is(err, docket.ErrInvalidTransition) {
		t.Fatalf("Complete error = %v, want ErrInvalidTransition", err)
	}
}

func TestCancelOnlyFromQueued(t *testing.T) {
	j := newQueued(3)
	if err := j.Cancel(time.Now()); err != nil {
		t.Fatalf("Cancel queued: %v", err)
	}
	if j.Status != job.StatusCancelled {
		t.Errorf("Status = %s, want cancelled", j.Status)
	}

	p := newQueued(3)
	_ = p.Claim(id.NewWorkerID(), time.Now())
	if err := p.Cancel(time.Now()); !errors.Is(err, docket.ErrInvalidTransition) {
		t.Fatalf("Cancel processing error = %v, want ErrInvalidTransition", err)
	}
	if p.Status != job.StatusProcessing {
		t.Errorf("Status = %s, want untouched processing", p.Status)
	}
}

func TestExhaustPreservesLastError(t *testing.T) {
	j := newQueued(1)
	j.Attempts = 1
	j.LastError = "renderer 503"
	j.Exhaust(time.Now())
	if j.Status != job.StatusFailed || j.LastError != "renderer 503" {
		t.Fatalf("unexpected job after Exhaust: status=%s lastError=%q", j.Status, j.LastError)
	}

	k := newQueued(1)
	k.Attempts = 1
	k.Exhaust(time.Now())
	if k.LastError != job.ReasonQuotaExhausted {
		t.Errorf("LastError = %q, want %q", k.LastError, job.ReasonQuotaExhausted)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(j *job.Job)
		ok     bool
	}{
		{"valid", func(*job.Job) {}, true},
		{"no tenant", func(j *job.Job) { j.TenantID = "" }, false},
		{"no subject", func(j *job.Job) { j.SubjectID = " " }, false},
		{"no kind", func(j *job.Job) { j.Kind = "" }, false},
		{"zero max attempts", func(j *job.Job) { j.MaxAttempts = 0 }, false},
		{"no sections", func(j *job.Job) { j.Config.Sections = nil }, false},
		{"blank section", func(j *job.Job) { j.Config.Sections = []string{"summary", ""} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			j := newQueued(3)
			tt.mutate(j)
			err := j.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, docket.ErrInvalidConfig) {
				t.Fatalf("error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestRequireSections(t *testing.T) {
	v := job.RequireSections("line_items", "photos")
	if err := v("PACKET", job.Config{Sections: []string{"line_items", "photos", "notes"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := v("PACKET", job.Config{Sections: []string{"line_items"}})
	if !errors.Is(err, docket.ErrInvalidConfig) {
		t.Fatalf("error = %v, want ErrInvalidConfig", err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	j := newQueued(3)
	now := time.Now()
	j.StartedAt = &now
	cp := j.Clone()
	cp.Config.Sections[0] = "changed"
	*cp.StartedAt = now.Add(time.Hour)
	if j.Config.Sections[0] != "summary" {
		t.Error("Clone shares the section slice")
	}
	if !j.StartedAt.Equal(now) {
		t.Error("Clone shares StartedAt")
	}
}

func TestListOptsEffectiveLimit(t *testing.T) {
	tests := []struct {
		limit, want int
	}{
		{0, job.DefaultListLimit},
		{-5, job.DefaultListLimit},
		{20, 20},
		{10_000, job.MaxListLimit},
	}
	for _, tt := range tests {
		if got := (job.ListOpts{Limit: tt.limit}).EffectiveLimit(); got != tt.want {
			t.Errorf("EffectiveLimit(%d) = %d, want %d", tt.limit, got, tt.want)
		}
	}
}

func TestSanitizeReason(t *testing.T) {
	cases := map[string]string{
		"renderer returned 502":  "renderer returned 502",
		"résumé":                 "résumé",
		"cut \xc3":               "cut \uFFFD",
		"bad \xff\xfe in middle": "bad \uFFFD in middle",
	}
	for in, want := range cases {
		if got := job.SanitizeReason(in); got != want {
			t.Errorf("SanitizeReason(%q) = %q, want %q", in, got, want)
		}
	}
}
