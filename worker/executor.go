// Package worker provides the dispatcher: an Executor that renders one
// claimed job through middleware and records its outcome, and a Pool that
// runs concurrent claim loops plus the heartbeat and stale-job reaper.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/docket"
	"github.com/xraph/docket/ext"
	"github.com/xraph/docket/job"
	"github.com/xraph/docket/middleware"
	"github.com/xraph/docket/notify"
	"github.com/xraph/docket/render"
	"github.com/xraph/docket/retry"
	"github.com/xraph/docket/scope"
)

// Executor renders a single claimed job through the middleware chain, then
// records the outcome under the job's lease and emits lifecycle events.
// No renderer error escapes into bookkeeping: every failure becomes a
// recorded attempt.
type Executor struct {
	store         job.Store
	renderer      render.Renderer
	notifier      notify.Notifier
	extensions    *ext.Registry
	policy        retry.Policy
	mw            middleware.Middleware
	logger        *slog.Logger
	notifyTimeout time.Duration
	now           func() time.Time

	notifyWG sync.WaitGroup
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithNotifier sets the completion notifier.
func WithNotifier(n notify.Notifier) ExecutorOption {
	return func(e *Executor) { e.notifier = n }
}

// WithMiddleware sets the middleware wrapped around every render call.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = middleware.Chain(mws...) }
}

// WithNotifyTimeout bounds each completion notification.
func WithNotifyTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.notifyTimeout = d }
}

// WithExecutorClock overrides the time source used for outcome timestamps.
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	store job.Store,
	renderer render.Renderer,
	extensions *ext.Registry,
	policy retry.Policy,
	logger *slog.Logger,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		store:         store,
		renderer:      renderer,
		extensions:    extensions,
		policy:        policy,
		mw:            middleware.Chain(),
		logger:        logger,
		notifyTimeout: 10 * time.Second,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute renders j, which must have just been claimed, and records the
// outcome. The returned error describes a failed attempt or a failed
// outcome write and is informational; the job's state is already recorded.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	lease := j.Lease()
	start := time.Now()

	// The artifact travels over a channel rather than a captured variable:
	// Timeout may abandon a render that keeps running after the attempt ends.
	result := make(chan render.Artifact, 1)
	terminal := func(ctx context.Context) error {
		a, err := e.renderer.Render(ctx, render.RequestFor(j))
		if err != nil {
			return err
		}
		if a.Ref == "" {
			return render.ErrEmptyArtifact
		}
		select {
		case result <- a:
		default:
		}
		return nil
	}

	renderErr := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	// Outcome writes must land even when the render context was cancelled.
	storeCtx := context.WithoutCancel(ctx)
	now := e.now().UTC()

	if renderErr != nil {
		return e.recordFailure(storeCtx, j, lease, renderErr, now)
	}

	var art render.Artifact
	select {
	case art = <-result:
	default:
		// A middleware returned success without reaching the renderer.
		return e.recordFailure(storeCtx, j, lease, render.ErrEmptyArtifact, now)
	}
	return e.recordSuccess(storeCtx, j, lease, art, now, elapsed)
}

// Reap fails the current attempt of a processing job whose worker stopped
// sending heartbeats. The lease fences the write, so a worker that is merely
// slow loses the race cleanly.
func (e *Executor) Reap(ctx context.Context, j *job.Job) error {
	_, err := e.fail(ctx, j, j.Lease(), errors.New(job.ReasonWorkerLost), e.now().UTC())
	return err
}

// Wait blocks until every in-flight completion notification has finished.
func (e *Executor) Wait() {
	e.notifyWG.Wait()
}

func (e *Executor) recordSuccess(
	ctx context.Context,
	j *job.Job,
	lease job.Lease,
	art render.Artifact,
	now time.Time,
	elapsed time.Duration,
) error {
	updated, err := e.store.MarkCompleted(ctx, lease, job.Result{URL: art.Ref, Summary: art.Summary}, now)
	if err != nil {
		e.logOutcomeError("mark completed", j, err)
		return err
	}

	e.extensions.EmitJobCompleted(ctx, updated, elapsed)

	if updated.NotifyTarget != "" && e.notifier != nil {
		e.notifyAsync(updated)
	}
	return nil
}

func (e *Executor) recordFailure(ctx context.Context, j *job.Job, lease job.Lease, cause error, now time.Time) error {
	updated, err := e.fail(ctx, j, lease, cause, now)
	if err != nil {
		return err
	}
	attemptErr := fmt.Errorf("%w: %w", docket.ErrRenderFailure, cause)
	if updated.Status == job.StatusFailed {
		return fmt.Errorf("%w: %w", docket.ErrQuotaExhausted, attemptErr)
	}
	return attemptErr
}

// fail records a failed attempt under lease and emits the matching event.
// It only returns an error when the outcome could not be written.
func (e *Executor) fail(ctx context.Context, j *job.Job, lease job.Lease, cause error, now time.Time) (*job.Job, error) {
	reason := job.SanitizeReason(cause.Error())
	retryAt := now
	if e.policy.Decide(lease.Attempt, j.MaxAttempts) == retry.Requeue {
		retryAt = e.policy.RetryAt(now, lease.Attempt)
	}

	updated, err := e.store.MarkFailed(ctx, lease, reason, retryAt, now)
	if err != nil {
		e.logOutcomeError("mark failed", j, err)
		return nil, err
	}

	switch updated.Status {
	case job.StatusQueued:
		e.extensions.EmitJobRequeued(ctx, updated, reason, updated.NotBefore)
		e.logger.Info("job requeued",
			slog.String("job_id", j.ID.String()),
			slog.Int("attempt", lease.Attempt),
			slog.Int("max_attempts", j.MaxAttempts),
			slog.Time("retry_at", updated.NotBefore),
			slog.String("error", reason),
		)
	case job.StatusFailed:
		e.extensions.EmitJobFailed(ctx, updated,
			fmt.Errorf("%w: %w", docket.ErrQuotaExhausted, cause))
		e.logger.Warn("job failed after exhausting attempts",
			slog.String("job_id", j.ID.String()),
			slog.String("tenant_id", j.TenantID),
			slog.Int("attempts", updated.Attempts),
			slog.String("error", reason),
		)
	}
	return updated, nil
}

func (e *Executor) notifyAsync(j *job.Job) {
	e.notifyWG.Add(1)
	go func() {
		defer e.notifyWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), e.notifyTimeout)
		defer cancel()
		ctx = scope.With(ctx, scope.Tenant{TenantID: j.TenantID, RequestedBy: j.RequestedBy})

		if err := e.notifier.Notify(ctx, notify.MessageFor(j)); err != nil {
			e.logger.Warn("completion notification failed",
				slog.String("job_id", j.ID.String()),
				slog.String("target", j.NotifyTarget),
				slog.String("error", err.Error()),
			)
			e.extensions.EmitNotifyFailed(ctx, j, fmt.Errorf("%w: %w", docket.ErrNotifyFailed, err))
		}
	}()
}

func (e *Executor) logOutcomeError(op string, j *job.Job, err error) {
	if errors.Is(err, docket.ErrLeaseLost) {
		e.logger.Warn("lease lost before outcome was recorded",
			slog.String("op", op),
			slog.String("job_id", j.ID.String()),
			slog.Int("attempt", j.Attempts),
		)
		return
	}
	e.logger.Error("failed to record job outcome",
		slog.String("op", op),
		slog.String("job_id", j.ID.String()),
		slog.String("error", err.Error()),
	)
}
