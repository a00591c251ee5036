package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/docket/job"
)

// Logging returns middleware that logs render start and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.Info("render started",
			slog.String("job_id", j.ID.String()),
			slog.String("tenant_id", j.TenantID),
			slog.String("kind", string(j.Kind)),
			slog.Int("attempt", j.Attempts),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("render failed",
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("render completed",
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
