package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/xraph/docket/job"
)

// Timeout returns middleware that bounds every render with d. When the
// deadline passes the renderer's context is cancelled and the attempt fails
// with an error describing the timeout, even if the renderer ignored the
// context and returned success late.
//
// The rest of the chain runs on its own goroutine so a renderer that never
// looks at its context cannot hold the worker past the deadline. Its late
// result is discarded.
func Timeout(d time.Duration, logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				// Recover sits outside this goroutine and cannot see its panics.
				if r := recover(); r != nil {
					logger.Error("renderer panicked",
						slog.String("job_id", j.ID.String()),
						slog.String("kind", string(j.Kind)),
						slog.Any("panic", r),
						slog.String("stack", string(debug.Stack())),
					)
					done <- fmt.Errorf("renderer panic: %v", r)
				}
			}()
			done <- next(ctx)
		}()

		select {
		case err := <-done:
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				logTimeout(logger, j, d, false)
				if err == nil || errors.Is(err, context.DeadlineExceeded) {
					return fmt.Errorf("render timed out after %s: %w", d, context.DeadlineExceeded)
				}
			}
			return err
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				logTimeout(logger, j, d, true)
				return fmt.Errorf("render timed out after %s: %w", d, context.DeadlineExceeded)
			}
			logger.Warn("render abandoned",
				slog.String("job_id", j.ID.String()),
				slog.String("error", ctx.Err().Error()),
			)
			return fmt.Errorf("render abandoned: %w", ctx.Err())
		}
	}
}

func logTimeout(logger *slog.Logger, j *job.Job, d time.Duration, abandoned bool) {
	logger.Warn("render timed out",
		slog.String("job_id", j.ID.String()),
		slog.Duration("timeout", d),
		slog.Bool("abandoned", abandoned),
	)
}
