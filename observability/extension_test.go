package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/docket"
	"github.com/xraph/docket/ext"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
	"github.com/xraph/docket/observability"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func newTestJob() *job.Job {
	created := time.Now().Add(-3 * time.Second)
	done := time.Now()
	return &job.Job{
		Entity:      docket.Entity{CreatedAt: created, UpdatedAt: created},
		ID:          id.NewJobID(),
		Kind:        "SUPPLEMENT",
		CompletedAt: &done,
	}
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: unexpected data type %T", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_Counters(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		metric string
		fire   func(e *observability.MetricsExtension, j *job.Job) error
	}{
		{"docket.job.enqueued", func(e *observability.MetricsExtension, j *job.Job) error { return e.OnJobEnqueued(ctx, j) }},
		{"docket.job.claimed", func(e *observability.MetricsExtension, j *job.Job) error { return e.OnJobClaimed(ctx, j) }},
		{"docket.job.completed", func(e *observability.MetricsExtension, j *job.Job) error { return e.OnJobCompleted(ctx, j, time.Second) }},
		{"docket.job.requeued", func(e *observability.MetricsExtension, j *job.Job) error {
			return e.OnJobRequeued(ctx, j, "renderer 503", time.Now())
		}},
		{"docket.job.failed", func(e *observability.MetricsExtension, j *job.Job) error { return e.OnJobFailed(ctx, j, errors.New("x")) }},
		{"docket.job.cancelled", func(e *observability.MetricsExtension, j *job.Job) error { return e.OnJobCancelled(ctx, j) }},
		{"docket.notify.failed", func(e *observability.MetricsExtension, j *job.Job) error {
			return e.OnNotifyFailed(ctx, j, errors.New("nats down"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			e, reader := newTestExtension()
			if err := tt.fire(e, newTestJob()); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := counterValue(t, reader, tt.metric); got != 1 {
				t.Errorf("%s = %d, want 1", tt.metric, got)
			}
		})
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e, reader := newTestExtension()
	r := ext.NewRegistry(slog.Default())
	r.Register(e)

	ctx := context.Background()
	j := newTestJob()
	r.EmitJobEnqueued(ctx, j)
	r.EmitJobEnqueued(ctx, j)
	r.EmitJobClaimed(ctx, j)
	r.EmitJobCompleted(ctx, j, time.Second)

	if got := counterValue(t, reader, "docket.job.enqueued"); got != 2 {
		t.Errorf("enqueued = %d, want 2", got)
	}
	if got := counterValue(t, reader, "docket.job.completed"); got != 1 {
		t.Errorf("completed = %d, want 1", got)
	}
}
