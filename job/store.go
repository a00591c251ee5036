package job

import (
	"context"
	"time"

	"github.com/xraph/docket/id"
)

// List limits.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ListOpts controls filtering for recent-job listings.
type ListOpts struct {
	// TenantID scopes the listing. Required.
	TenantID string
	// Status filters by status. Empty means all statuses.
	Status Status
	// SubjectID filters by subject. Empty means all subjects.
	SubjectID string
	// Limit is the maximum number of jobs to return. Zero means
	// DefaultListLimit; values above MaxListLimit are capped.
	Limit int
}

// EffectiveLimit resolves Limit against the defaults and the cap.
func (o ListOpts) EffectiveLimit() int {
	switch {
	case o.Limit <= 0:
		return DefaultListLimit
	case o.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return o.Limit
	}
}

// CountOpts controls filtering for per-status counts.
type CountOpts struct {
	// TenantID scopes the counts. Empty means all tenants.
	TenantID string
}

// Store defines the persistence contract for jobs.
//
// Every method that changes a job's status is atomic with respect to
// concurrent callers, including callers in other processes sharing the same
// backend. Lease-taking methods return docket.ErrJobNotFound when the job
// does not exist and docket.ErrLeaseLost when it exists but the lease no
// longer matches.
type Store interface {
	// CreateJob persists a new queued job.
	CreateJob(ctx context.Context, j *Job) error

	// ClaimNext atomically claims the oldest eligible queued job for
	// workerID: status becomes processing, attempts is incremented, and
	// StartedAt and HeartbeatAt are set to now. Queued jobs with no
	// attempts left are never claimed. Returns nil, nil when no job is
	// eligible.
	ClaimNext(ctx context.Context, workerID id.WorkerID, now time.Time) (*Job, error)

	// FailExhausted fails every queued job with no attempts left and
	// returns the jobs it failed. LastError keeps the previous attempt's
	// reason, or ReasonQuotaExhausted when there was none.
	FailExhausted(ctx context.Context, now time.Time) ([]*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// MarkCompleted records a successful render for the lease holder.
	MarkCompleted(ctx context.Context, lease Lease, res Result, now time.Time) (*Job, error)

	// MarkFailed records a failed attempt for the lease holder. The job is
	// requeued with NotBefore = retryAt while attempts remain, and failed
	// terminally otherwise.
	MarkFailed(ctx context.Context, lease Lease, reason string, retryAt, now time.Time) (*Job, error)

	// CancelJob cancels a queued job. Any other status yields
	// docket.ErrInvalidTransition and leaves the job untouched.
	CancelJob(ctx context.Context, jobID id.JobID, now time.Time) (*Job, error)

	// ListJobs returns a tenant's jobs newest first.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs per status.
	CountJobs(ctx context.Context, opts CountOpts) (map[Status]int64, error)

	// HeartbeatJob refreshes HeartbeatAt for the lease holder.
	HeartbeatJob(ctx context.Context, lease Lease, now time.Time) error

	// ListStaleJobs returns processing jobs whose last heartbeat is older
	// than cutoff, oldest first.
	ListStaleJobs(ctx context.Context, cutoff time.Time, limit int) ([]*Job, error)
}
