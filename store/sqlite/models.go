package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/docket"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
)

const jobColumns = `
	id, tenant_id, subject_id, kind, status, config,
	attempts, max_attempts, last_error, result_url, result_summary,
	notify_target, requested_by, worker_id,
	not_before, started_at, completed_at, heartbeat_at, created_at, updated_at`

// jobRow mirrors a docket_jobs row as SQLite stores it.
type jobRow struct {
	ID            string
	TenantID      string
	SubjectID     string
	Kind          string
	Status        string
	Config        string
	Attempts      int
	MaxAttempts   int
	LastError     string
	ResultURL     string
	ResultSummary string
	NotifyTarget  string
	RequestedBy   string
	WorkerID      string
	NotBefore     int64
	StartedAt     sql.NullInt64
	CompletedAt   sql.NullInt64
	HeartbeatAt   sql.NullInt64
	CreatedAt     int64
	UpdatedAt     int64
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (r *jobRow) scan(sc scanner) error {
	return sc.Scan(
		&r.ID, &r.TenantID, &r.SubjectID, &r.Kind, &r.Status, &r.Config,
		&r.Attempts, &r.MaxAttempts, &r.LastError, &r.ResultURL, &r.ResultSummary,
		&r.NotifyTarget, &r.RequestedBy, &r.WorkerID,
		&r.NotBefore, &r.StartedAt, &r.CompletedAt, &r.HeartbeatAt, &r.CreatedAt, &r.UpdatedAt,
	)
}

func toJobRow(j *job.Job) (*jobRow, error) {
	cfg, err := json.Marshal(j.Config)
	if err != nil {
		return nil, fmt.Errorf("docket/sqlite: encode config: %w", err)
	}
	return &jobRow{
		ID:            j.ID.String(),
		TenantID:      j.TenantID,
		SubjectID:     j.SubjectID,
		Kind:          string(j.Kind),
		Status:        string(j.Status),
		Config:        string(cfg),
		Attempts:      j.Attempts,
		MaxAttempts:   j.MaxAttempts,
		LastError:     j.LastError,
		ResultURL:     j.ResultURL,
		ResultSummary: j.ResultSummary,
		NotifyTarget:  j.NotifyTarget,
		RequestedBy:   j.RequestedBy,
		WorkerID:      j.WorkerID.String(),
		NotBefore:     micros(j.NotBefore),
		StartedAt:     nullMicros(j.StartedAt),
		CompletedAt:   nullMicros(j.CompletedAt),
		HeartbeatAt:   nullMicros(j.HeartbeatAt),
		CreatedAt:     micros(j.CreatedAt),
		UpdatedAt:     micros(j.UpdatedAt),
	}, nil
}

func fromJobRow(r *jobRow) (*job.Job, error) {
	parsedID, err := id.ParseJobID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("docket/sqlite: parse job id %q: %w", r.ID, err)
	}

	j := &job.Job{
		Entity: docket.Entity{
			CreatedAt: fromMicros(r.CreatedAt),
			UpdatedAt: fromMicros(r.UpdatedAt),
		},
		ID:            parsedID,
		TenantID:      r.TenantID,
		SubjectID:     r.SubjectID,
		Kind:          job.Kind(r.Kind),
		Status:        job.Status(r.Status),
		Attempts:      r.Attempts,
		MaxAttempts:   r.MaxAttempts,
		LastError:     r.LastError,
		ResultURL:     r.ResultURL,
		ResultSummary: r.ResultSummary,
		NotifyTarget:  r.NotifyTarget,
		RequestedBy:   r.RequestedBy,
		NotBefore:     fromMicros(r.NotBefore),
		StartedAt:     fromNullMicros(r.StartedAt),
		CompletedAt:   fromNullMicros(r.CompletedAt),
		HeartbeatAt:   fromNullMicros(r.HeartbeatAt),
	}
	if err := json.Unmarshal([]byte(r.Config), &j.Config); err != nil {
		return nil, fmt.Errorf("docket/sqlite: decode config for %s: %w", r.ID, err)
	}
	if r.WorkerID != "" {
		if w, werr := id.ParseWorkerID(r.WorkerID); werr == nil {
			j.WorkerID = w
		}
	}
	return j, nil
}

func micros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMicro(), Valid: true}
}

func fromNullMicros(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMicros(v.Int64)
	return &t
}
