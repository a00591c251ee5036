// Package ext defines the extension system for docket.
// Extensions are notified of job lifecycle events and can react to them
// with logging, metrics, audit trails and the like.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/docket/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// JobEnqueued is called after a job is persisted in queued.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobClaimed is called when a worker claims a job and starts rendering it.
type JobClaimed interface {
	OnJobClaimed(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job is marked completed.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRequeued is called when a failed attempt returns the job to the queue.
type JobRequeued interface {
	OnJobRequeued(ctx context.Context, j *job.Job, reason string, retryAt time.Time) error
}

// JobFailed is called when a job fails terminally.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobCancelled is called after a queued job is cancelled.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// NotifyFailed is called when the completion notifier fails for a job.
// The job stays completed.
type NotifyFailed interface {
	OnNotifyFailed(ctx context.Context, j *job.Job, err error) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
