package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/docket/job"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register all extensions before the first emit; emits may then run
// concurrently.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobEnqueued  []entry[JobEnqueued]
	jobClaimed   []entry[JobClaimed]
	jobCompleted []entry[JobCompleted]
	jobRequeued  []entry[JobRequeued]
	jobFailed    []entry[JobFailed]
	jobCancelled []entry[JobCancelled]
	notifyFailed []entry[NotifyFailed]
	shutdown     []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobEnqueued); ok {
		r.jobEnqueued = append(r.jobEnqueued, entry[JobEnqueued]{name, h})
	}
	if h, ok := e.(JobClaimed); ok {
		r.jobClaimed = append(r.jobClaimed, entry[JobClaimed]{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, entry[JobCompleted]{name, h})
	}
	if h, ok := e.(JobRequeued); ok {
		r.jobRequeued = append(r.jobRequeued, entry[JobRequeued]{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, entry[JobFailed]{name, h})
	}
	if h, ok := e.(JobCancelled); ok {
		r.jobCancelled = append(r.jobCancelled, entry[JobCancelled]{name, h})
	}
	if h, ok := e.(NotifyFailed); ok {
		r.notifyFailed = append(r.notifyFailed, entry[NotifyFailed]{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, entry[Shutdown]{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// EmitJobEnqueued notifies all extensions that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobEnqueued {
		if err := e.hook.OnJobEnqueued(ctx, j); err != nil {
			r.logHookError("OnJobEnqueued", e.name, err)
		}
	}
}

// EmitJobClaimed notifies all extensions that implement JobClaimed.
func (r *Registry) EmitJobClaimed(ctx context.Context, j *job.Job) {
	for _, e := range r.jobClaimed {
		if err := e.hook.OnJobClaimed(ctx, j); err != nil {
			r.logHookError("OnJobClaimed", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobRequeued notifies all extensions that implement JobRequeued.
func (r *Registry) EmitJobRequeued(ctx context.Context, j *job.Job, reason string, retryAt time.Time) {
	for _, e := range r.jobRequeued {
		if err := e.hook.OnJobRequeued(ctx, j, reason, retryAt); err != nil {
			r.logHookError("OnJobRequeued", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobCancelled notifies all extensions that implement JobCancelled.
func (r *Registry) EmitJobCancelled(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCancelled {
		if err := e.hook.OnJobCancelled(ctx, j); err != nil {
			r.logHookError("OnJobCancelled", e.name, err)
		}
	}
}

// EmitNotifyFailed notifies all extensions that implement NotifyFailed.
func (r *Registry) EmitNotifyFailed(ctx context.Context, j *job.Job, notifyErr error) {
	for _, e := range r.notifyFailed {
		if err := e.hook.OnNotifyFailed(ctx, j, notifyErr); err != nil {
			r.logHookError("OnNotifyFailed", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
