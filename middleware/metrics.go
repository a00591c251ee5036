package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/docket/job"
)

// meterName is the instrumentation scope name for docket metrics.
const meterName = "github.com/xraph/docket"

// Metrics returns middleware that records render metrics using the global
// OTel MeterProvider.
//
// Instruments:
//   - docket.render.duration (Float64Histogram): render time in seconds
//   - docket.render.executions (Int64Counter): render attempts
//
// Both carry the attributes kind and status ("ok" or "error").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the OTel API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"docket.render.duration",
		metric.WithDescription("Duration of render calls in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"docket.render.executions",
		metric.WithDescription("Total number of render attempts"),
		metric.WithUnit("{attempt}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("kind", string(j.Kind)),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}
