package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/docket/ext"
	"github.com/xraph/docket/job"
)

const meterName = "github.com/xraph/docket/observability"

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobEnqueued  = (*MetricsExtension)(nil)
	_ ext.JobClaimed   = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobRequeued  = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobCancelled = (*MetricsExtension)(nil)
	_ ext.NotifyFailed = (*MetricsExtension)(nil)
)

// MetricsExtension records lifecycle counters and end-to-end job latency.
type MetricsExtension struct {
	JobEnqueued  metric.Int64Counter
	JobClaimed   metric.Int64Counter
	JobCompleted metric.Int64Counter
	JobRequeued  metric.Int64Counter
	JobFailed    metric.Int64Counter
	JobCancelled metric.Int64Counter
	NotifyFailed metric.Int64Counter
	JobLatency   metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// The OTel API returns a noop instrument alongside any error.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{job}"))
		return c
	}
	latency, _ := meter.Float64Histogram("docket.job.latency",
		metric.WithDescription("Time from enqueue to completion in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		JobEnqueued:  counter("docket.job.enqueued", "Jobs accepted into the queue"),
		JobClaimed:   counter("docket.job.claimed", "Attempts started by a worker"),
		JobCompleted: counter("docket.job.completed", "Jobs rendered successfully"),
		JobRequeued:  counter("docket.job.requeued", "Failed attempts returned to the queue"),
		JobFailed:    counter("docket.job.failed", "Jobs failed with the attempt quota exhausted"),
		JobCancelled: counter("docket.job.cancelled", "Jobs cancelled before dispatch"),
		NotifyFailed: counter("docket.notify.failed", "Completion notifications that failed"),
		JobLatency:   latency,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func kindAttr(j *job.Job) metric.AddOption {
	return metric.WithAttributes(attribute.String("kind", string(j.Kind)))
}

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.JobEnqueued.Add(ctx, 1, kindAttr(j))
	return nil
}

// OnJobClaimed implements ext.JobClaimed.
func (m *MetricsExtension) OnJobClaimed(ctx context.Context, j *job.Job) error {
	m.JobClaimed.Add(ctx, 1, kindAttr(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1, kindAttr(j))
	if j.CompletedAt != nil && !j.CreatedAt.IsZero() {
		m.JobLatency.Record(ctx, j.CompletedAt.Sub(j.CreatedAt).Seconds(),
			metric.WithAttributes(attribute.String("kind", string(j.Kind))))
	}
	return nil
}

// OnJobRequeued implements ext.JobRequeued.
func (m *MetricsExtension) OnJobRequeued(ctx context.Context, j *job.Job, _ string, _ time.Time) error {
	m.JobRequeued.Add(ctx, 1, kindAttr(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, kindAttr(j))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.JobCancelled.Add(ctx, 1, kindAttr(j))
	return nil
}

// OnNotifyFailed implements ext.NotifyFailed.
func (m *MetricsExtension) OnNotifyFailed(ctx context.Context, j *job.Job, _ error) error {
	m.NotifyFailed.Add(ctx, 1, kindAttr(j))
	return nil
}
