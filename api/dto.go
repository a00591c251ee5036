package api

import (
	"time"

	"github.com/xraph/docket/job"
)

// ConfigDTO is the wire form of job.Config.
type ConfigDTO struct {
	Sections []string       `json:"sections"`
	Options  map[string]any `json:"options,omitempty"`
	Title    string         `json:"title,omitempty"`
}

// EnqueueRequest is the body of POST /v1/jobs.
type EnqueueRequest struct {
	TenantID     string    `json:"tenantId"`
	SubjectID    string    `json:"subjectId"`
	Kind         string    `json:"kind"`
	Config       ConfigDTO `json:"config"`
	NotifyTarget string    `json:"notifyTarget,omitempty"`
	RequestedBy  string    `json:"requestedBy"`
	MaxAttempts  int       `json:"maxAttempts,omitempty"`
}

// EnqueueResponse is returned with 201 Created.
type EnqueueResponse struct {
	JobID string `json:"jobId"`
}

// StatusResponse is the body of GET /v1/jobs/{jobId}.
type StatusResponse struct {
	Status      job.Status `json:"status"`
	ResultURL   *string    `json:"resultUrl"`
	LastError   *string    `json:"lastError"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"maxAttempts"`
	Progress    int        `json:"progress"`
}

// CancelResponse is the body of POST /v1/jobs/{jobId}/cancel.
type CancelResponse struct {
	Cancelled bool       `json:"cancelled"`
	Status    job.Status `json:"status"`
}

// JobSummary is one row of GET /v1/jobs.
type JobSummary struct {
	JobID       string     `json:"jobId"`
	SubjectID   string     `json:"subjectId"`
	Kind        job.Kind   `json:"kind"`
	Status      job.Status `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"maxAttempts"`
	ResultURL   *string    `json:"resultUrl"`
	LastError   *string    `json:"lastError"`
	RequestedBy string     `json:"requestedBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	TenantID string               `json:"tenantId,omitempty"`
	Counts   map[job.Status]int64 `json:"counts"`
	Total    int64                `json:"total"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// NewStatusResponse converts a status view to its wire form.
func NewStatusResponse(v job.StatusView) StatusResponse {
	return StatusResponse{
		Status:      v.Status,
		ResultURL:   nullable(v.ResultURL),
		LastError:   nullable(v.LastError),
		Attempts:    v.Attempts,
		MaxAttempts: v.MaxAttempts,
		Progress:    v.Progress,
	}
}

// NewJobSummary converts a listing row to its wire form.
func NewJobSummary(s job.Summary) JobSummary {
	return JobSummary{
		JobID:       s.ID.String(),
		SubjectID:   s.SubjectID,
		Kind:        s.Kind,
		Status:      s.Status,
		Attempts:    s.Attempts,
		MaxAttempts: s.MaxAttempts,
		ResultURL:   nullable(s.ResultURL),
		LastError:   nullable(s.LastError),
		RequestedBy: s.RequestedBy,
		CreatedAt:   s.CreatedAt,
		CompletedAt: s.CompletedAt,
	}
}
