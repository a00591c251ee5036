package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/docket/ext"
	"github.com/xraph/docket/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*Extension)(nil)
	_ ext.JobEnqueued  = (*Extension)(nil)
	_ ext.JobClaimed   = (*Extension)(nil)
	_ ext.JobCompleted = (*Extension)(nil)
	_ ext.JobRequeued  = (*Extension)(nil)
	_ ext.JobFailed    = (*Extension)(nil)
	_ ext.JobCancelled = (*Extension)(nil)
	_ ext.NotifyFailed = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Who
	TenantID string `json:"tenant_id"`
	Actor    string `json:"actor,omitempty"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// LogRecorder returns a Recorder that writes each event as one structured
// log line. Point it at a dedicated handler to keep the trail separate from
// operational logs.
func LogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("resource_id", evt.ResourceID),
			slog.String("tenant_id", evt.TenantID),
			slog.String("actor", evt.Actor),
			slog.String("outcome", evt.Outcome),
			slog.String("severity", evt.Severity),
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		for k, v := range evt.Metadata {
			attrs = append(attrs, slog.Any(k, v))
		}
		logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
		return nil
	})
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges docket lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// OnJobEnqueued implements ext.JobEnqueued.
func (e *Extension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobEnqueued, SeverityInfo, OutcomeSuccess, j, nil,
		"kind", string(j.Kind),
		"subject_id", j.SubjectID,
		"max_attempts", j.MaxAttempts,
	)
}

// OnJobClaimed implements ext.JobClaimed.
func (e *Extension) OnJobClaimed(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobClaimed, SeverityInfo, OutcomeSuccess, j, nil,
		"kind", string(j.Kind),
		"attempt", j.Attempts,
		"worker_id", j.WorkerID.String(),
	)
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return e.record(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess, j, nil,
		"kind", string(j.Kind),
		"attempt", j.Attempts,
		"result_url", j.ResultURL,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobRequeued implements ext.JobRequeued.
func (e *Extension) OnJobRequeued(ctx context.Context, j *job.Job, reason string, retryAt time.Time) error {
	return e.record(ctx, ActionJobRequeued, SeverityWarning, OutcomeFailure, j, nil,
		"kind", string(j.Kind),
		"attempt", j.Attempts,
		"max_attempts", j.MaxAttempts,
		"last_error", reason,
		"retry_at", retryAt.UTC().Format(time.RFC3339),
	)
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return e.record(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure, j, jobErr,
		"kind", string(j.Kind),
		"attempts", j.Attempts,
		"max_attempts", j.MaxAttempts,
	)
}

// OnJobCancelled implements ext.JobCancelled.
func (e *Extension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobCancelled, SeverityInfo, OutcomeSuccess, j, nil,
		"kind", string(j.Kind),
	)
}

// OnNotifyFailed implements ext.NotifyFailed.
func (e *Extension) OnNotifyFailed(ctx context.Context, j *job.Job, notifyErr error) error {
	return e.record(ctx, ActionNotifyFailed, SeverityWarning, OutcomeFailure, j, notifyErr,
		"notify_target", j.NotifyTarget,
	)
}

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	j *job.Job,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   ResourceJob,
		Category:   CategoryJob,
		TenantID:   j.TenantID,
		Actor:      j.RequestedBy,
		ResourceID: j.ID.String(),
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
		OccurredAt: e.now().UTC(),
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", evt.ResourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
