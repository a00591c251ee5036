package job

import (
	"time"

	"github.com/xraph/docket/id"
)

// StatusView is the poll-facing projection of a job.
type StatusView struct {
	Status      Status
	ResultURL   string
	LastError   string
	Attempts    int
	MaxAttempts int
	Progress    int
}

// View projects j for status polling.
func (j *Job) View() StatusView {
	return StatusView{
		Status:      j.Status,
		ResultURL:   j.ResultURL,
		LastError:   j.LastError,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		Progress:    j.Status.Progress(),
	}
}

// Summary is one row of a recent-jobs listing.
type Summary struct {
	ID          id.JobID
	SubjectID   string
	Kind        Kind
	Status      Status
	Attempts    int
	MaxAttempts int
	ResultURL   string
	LastError   string
	RequestedBy string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Summarize projects j for listings.
func (j *Job) Summarize() Summary {
	return Summary{
		ID:          j.ID,
		SubjectID:   j.SubjectID,
		Kind:        j.Kind,
		Status:      j.Status,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		ResultURL:   j.ResultURL,
		LastError:   j.LastError,
		RequestedBy: j.RequestedBy,
		CreatedAt:   j.CreatedAt,
		CompletedAt: cloneTime(j.CompletedAt),
	}
}
