package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/docket/job"
)

// Recover returns middleware that converts a renderer panic into an error,
// so a misbehaving adapter fails the attempt instead of the worker.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("renderer panicked",
					slog.String("job_id", j.ID.String()),
					slog.String("kind", string(j.Kind)),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("renderer panic: %v", r)
			}
		}()
		return next(ctx)
	}
}
