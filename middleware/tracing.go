package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/docket/job"
)

// tracerName is the instrumentation scope name for docket tracing.
const tracerName = "github.com/xraph/docket"

// Tracing returns middleware that wraps each render in an OpenTelemetry span
// named docket.render. With no global TracerProvider the noop tracer is used.
//
// Span attributes: docket.job.id, docket.tenant_id, docket.subject_id,
// docket.kind, docket.attempt. On error the span status is codes.Error.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "docket.render",
			trace.WithAttributes(
				attribute.String("docket.job.id", j.ID.String()),
				attribute.String("docket.tenant_id", j.TenantID),
				attribute.String("docket.subject_id", j.SubjectID),
				attribute.String("docket.kind", string(j.Kind)),
				attribute.Int("docket.attempt", j.Attempts),
			),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
