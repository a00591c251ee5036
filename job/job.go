package job

import (
	"strings"
	"time"

	"github.com/xraph/docket"
	"github.com/xraph/docket/id"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusQueued means the job is waiting to be claimed by a worker.
	StatusQueued Status = "queued"
	// StatusProcessing means a worker holds the job and is rendering it.
	StatusProcessing Status = "processing"
	// StatusCompleted means the document was rendered and stored.
	StatusCompleted Status = "completed"
	// StatusFailed means the attempt quota was exhausted.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was cancelled before dispatch.
	StatusCancelled Status = "cancelled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusQueued,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// ParseStatus returns the Status named by s.
func ParseStatus(s string) (Status, bool) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Progress is the coarse completion percentage reported to pollers.
func (s Status) Progress() int {
	switch s {
	case StatusQueued:
		return 10
	case StatusProcessing:
		return 50
	case StatusCompleted:
		return 100
	default:
		return 0
	}
}

// Kind names the type of document to generate, e.g. "SUPPLEMENT".
type Kind string

// Reasons recorded in LastError by the dispatcher itself.
const (
	ReasonQuotaExhausted = "attempt quota exhausted"
	ReasonWorkerLost     = "worker lost: heartbeat expired"
)

// SanitizeReason makes a failure reason safe to store as text. Invalid
// UTF-8, usually from an upstream error body, is replaced with U+FFFD.
func SanitizeReason(reason string) string {
	return strings.ToValidUTF8(reason, "\uFFFD")
}

// Job is one request to render one document.
type Job struct {
	docket.Entity

	ID            id.JobID    `json:"id"`
	TenantID      string      `json:"tenant_id"`
	SubjectID     string      `json:"subject_id"`
	Kind          Kind        `json:"kind"`
	Status        Status      `json:"status"`
	Config        Config      `json:"config"`
	Attempts      int         `json:"attempts"`
	MaxAttempts   int         `json:"max_attempts"`
	LastError     string      `json:"last_error,omitempty"`
	ResultURL     string      `json:"result_url,omitempty"`
	ResultSummary string      `json:"result_summary,omitempty"`
	NotifyTarget  string      `json:"notify_target,omitempty"`
	RequestedBy   string      `json:"requested_by,omitempty"`
	WorkerID      id.WorkerID `json:"worker_id,omitempty"`
	NotBefore     time.Time   `json:"not_before"`
	StartedAt     *time.Time  `json:"started_at,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	HeartbeatAt   *time.Time  `json:"heartbeat_at,omitempty"`
}

// Lease identifies one worker's ownership of one processing attempt.
type Lease struct {
	JobID    id.JobID
	WorkerID id.WorkerID
	Attempt  int
}

// Lease returns the lease held by the job's current owner.
func (j *Job) Lease() Lease {
	return Lease{JobID: j.ID, WorkerID: j.WorkerID, Attempt: j.Attempts}
}

// Holds reports whether l is the job's current lease.
func (j *Job) Holds(l Lease) bool {
	return j.Status == StatusProcessing &&
		j.ID.String() == l.JobID.String() &&
		j.WorkerID.String() == l.WorkerID.String() &&
		j.Attempts == l.Attempt
}

// Eligible reports whether the job may be claimed at now.
func (j *Job) Eligible(now time.Time) bool {
	return j.Status == StatusQueued && j.Attempts < j.MaxAttempts && !j.NotBefore.After(now)
}

// Result is what a successful render produced.
type Result struct {
	// URL references the stored artifact.
	URL string
	// Summary optionally describes the rendered content.
	Summary string
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Config = j.Config.Clone()
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	cp.HeartbeatAt = cloneTime(j.HeartbeatAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
