package job

import (
	"fmt"
	"time"

	"github.com/xraph/docket"
	"github.com/xraph/docket/id"
)

var transitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusQueued, StatusFailed},
}

// CanTransition reports whether the state machine has an edge from -> to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Claim moves a queued job to processing under workerID and consumes one
// attempt. The caller must have checked Eligible.
func (j *Job) Claim(workerID id.WorkerID, now time.Time) error {
	if !CanTransition(j.Status, StatusProcessing) {
		return fmt.Errorf("%w: claim %s job", docket.ErrInvalidTransition, j.Status)
	}
	if j.Attempts >= j.MaxAttempts {
		return fmt.Errorf("%w: claim job at %d/%d attempts", docket.ErrQuotaExhausted, j.Attempts, j.MaxAttempts)
	}
	j.Status = StatusProcessing
	j.Attempts++
	j.WorkerID = workerID
	j.StartedAt = &now
	j.HeartbeatAt = &now
	j.UpdatedAt = now
	return nil
}

// Exhaust fails a queued job that has no attempts left.
func (j *Job) Exhaust(now time.Time) {
	j.Status = StatusFailed
	if j.LastError == "" {
		j.LastError = ReasonQuotaExhausted
	}
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Complete records a successful render. LastError keeps the most recent
// failure for history.
func (j *Job) Complete(res Result, now time.Time) error {
	if j.Status != StatusProcessing {
		return fmt.Errorf("%w: complete %s job", docket.ErrInvalidTransition, j.Status)
	}
	j.Status = StatusCompleted
	j.ResultURL = res.URL
	j.ResultSummary = res.Summary
	j.CompletedAt = &now
	j.HeartbeatAt = nil
	j.UpdatedAt = now
	return nil
}

// Fail records a failed attempt. The job goes back to queued, eligible at
// retryAt, while attempts remain; otherwise it fails terminally.
func (j *Job) Fail(reason string, retryAt, now time.Time) error {
	if j.Status != StatusProcessing {
		return fmt.Errorf("%w: fail %s job", docket.ErrInvalidTransition, j.Status)
	}
	j.LastError = reason
	j.HeartbeatAt = nil
	j.UpdatedAt = now
	if j.Attempts < j.MaxAttempts {
		j.Status = StatusQueued
		j.WorkerID = id.Nil
		if retryAt.Before(now) {
			retryAt = now
		}
		j.NotBefore = retryAt
		return nil
	}
	j.Status = StatusFailed
	j.CompletedAt = &now
	return nil
}

// Cancel moves a queued job to cancelled.
func (j *Job) Cancel(now time.Time) error {
	if j.Status != StatusQueued {
		return fmt.Errorf("%w: cancel %s job", docket.ErrInvalidTransition, j.Status)
	}
	j.Status = StatusCancelled
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}
