// Package notify delivers best-effort completion notifications.
//
// A notification is fired once, after a job has been durably marked
// completed. Delivery failures are reported to the caller for logging and
// never affect the job's recorded outcome.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
)

// Message is the payload of a completion notification.
type Message struct {
	Target      string   `json:"target"`
	JobID       id.JobID `json:"jobId"`
	TenantID    string   `json:"tenantId"`
	SubjectID   string   `json:"subjectId"`
	Kind        job.Kind `json:"kind"`
	ArtifactRef string   `json:"artifactRef"`
	Summary     string   `json:"summary,omitempty"`
}

// MessageFor builds the notification for a completed job.
func MessageFor(j *job.Job) Message {
	return Message{
		Target:      j.NotifyTarget,
		JobID:       j.ID,
		TenantID:    j.TenantID,
		SubjectID:   j.SubjectID,
		Kind:        j.Kind,
		ArtifactRef: j.ResultURL,
		Summary:     j.ResultSummary,
	}
}

// Notifier delivers a completion notification.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Func adapts a function to the Notifier interface.
type Func func(ctx context.Context, msg Message) error

// Notify calls f.
func (f Func) Notify(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Log is a Notifier that only logs. Useful in development and as the
// default when no transport is configured.
type Log struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l Log) Notify(ctx context.Context, msg Message) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "document ready",
		slog.String("job_id", msg.JobID.String()),
		slog.String("tenant_id", msg.TenantID),
		slog.String("kind", string(msg.Kind)),
		slog.String("target", msg.Target),
		slog.String("artifact_ref", msg.ArtifactRef),
	)
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
