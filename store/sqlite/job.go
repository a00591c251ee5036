package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/docket"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
)

// leaseMatch is the predicate every lease-taking write shares. It expects
// the job id, worker id and attempt as ?1, ?2 and ?3.
const leaseMatch = `id = ?1 AND status = 'processing' AND worker_id = ?2 AND attempts = ?3`

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	r, err := toJobRow(j)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO docket_jobs (`+jobColumns+`
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TenantID, r.SubjectID, r.Kind, r.Status, r.Config,
		r.Attempts, r.MaxAttempts, r.LastError, r.ResultURL, r.ResultSummary,
		r.NotifyTarget, r.RequestedBy, r.WorkerID,
		r.NotBefore, r.StartedAt, r.CompletedAt, r.HeartbeatAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return docket.ErrJobAlreadyExists
		}
		return fmt.Errorf("docket/sqlite: create job: %w", err)
	}
	return nil
}

// ClaimNext claims the oldest eligible queued job. The statement runs
// under SQLite's database write lock, so two claimers can never select the
// same row.
func (s *Store) ClaimNext(ctx context.Context, workerID id.WorkerID, now time.Time) (*job.Job, error) {
	ts := micros(now)
	row := s.db.QueryRowContext(ctx, `
		UPDATE docket_jobs SET
			status = 'processing',
			attempts = attempts + 1,
			worker_id = ?1,
			started_at = ?2, heartbeat_at = ?2, updated_at = ?2
		WHERE id = (
			SELECT id FROM docket_jobs
			WHERE status = 'queued'
			  AND attempts < max_attempts
			  AND not_before <= ?2
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		) AND status = 'queued'
		RETURNING`+jobColumns,
		workerID.String(), ts,
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("docket/sqlite: claim job: %w", err)
	}
	return j, nil
}

// FailExhausted fails queued jobs with no attempts left in one statement.
func (s *Store) FailExhausted(ctx context.Context, now time.Time) ([]*job.Job, error) {
	ts := micros(now)
	return s.queryJobs(ctx, "fail exhausted jobs", `
		UPDATE docket_jobs SET
			status = 'failed',
			last_error = CASE WHEN last_error = '' THEN ?1 ELSE last_error END,
			completed_at = ?2, updated_at = ?2
		WHERE status = 'queued' AND attempts >= max_attempts
		RETURNING`+jobColumns,
		job.ReasonQuotaExhausted, ts,
	)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+jobColumns+` FROM docket_jobs WHERE id = ?`, jobID.String())
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, docket.ErrJobNotFound
		}
		return nil, fmt.Errorf("docket/sqlite: get job: %w", err)
	}
	return j, nil
}

// MarkCompleted records a successful render for the lease holder.
func (s *Store) MarkCompleted(ctx context.Context, lease job.Lease, res job.Result, now time.Time) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE docket_jobs SET
			status = 'completed',
			result_url = ?4, result_summary = ?5,
			completed_at = ?6, heartbeat_at = NULL, updated_at = ?6
		WHERE `+leaseMatch+`
		RETURNING`+jobColumns,
		lease.JobID.String(), lease.WorkerID.String(), lease.Attempt,
		res.URL, res.Summary, micros(now),
	)
	return s.leasedResult(ctx, lease, row, "mark completed")
}

// MarkFailed records a failed attempt for the lease holder. The requeue
// decision is made in the same statement as the write.
func (s *Store) MarkFailed(ctx context.Context, lease job.Lease, reason string, retryAt, now time.Time) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE docket_jobs SET
			last_error = ?4,
			heartbeat_at = NULL,
			updated_at = ?6,
			status = CASE WHEN attempts < max_attempts THEN 'queued' ELSE 'failed' END,
			worker_id = CASE WHEN attempts < max_attempts THEN '' ELSE worker_id END,
			not_before = CASE WHEN attempts < max_attempts THEN MAX(?5, ?6) ELSE not_before END,
			completed_at = CASE WHEN attempts < max_attempts THEN completed_at ELSE ?6 END
		WHERE `+leaseMatch+`
		RETURNING`+jobColumns,
		lease.JobID.String(), lease.WorkerID.String(), lease.Attempt,
		reason, micros(retryAt), micros(now),
	)
	return s.leasedResult(ctx, lease, row, "mark failed")
}

// CancelJob cancels a queued job.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE docket_jobs SET
			status = 'cancelled', completed_at = ?2, updated_at = ?2
		WHERE id = ?1 AND status = 'queued'
		RETURNING`+jobColumns,
		jobID.String(), micros(now),
	)
	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("docket/sqlite: cancel job: %w", err)
	}
	current, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return current, fmt.Errorf("%w: cancel %s job", docket.ErrInvalidTransition, current.Status)
}

// ListJobs returns a tenant's jobs newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT` + jobColumns + ` FROM docket_jobs WHERE tenant_id = ?`
	args := []any{opts.TenantID}

	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(opts.Status))
	}
	if opts.SubjectID != "" {
		query += ` AND subject_id = ?`
		args = append(args, opts.SubjectID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, opts.EffectiveLimit())

	return s.queryJobs(ctx, "list jobs", query, args...)
}

// CountJobs returns the number of jobs per status.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (map[job.Status]int64, error) {
	query := `SELECT status, COUNT(*) FROM docket_jobs`
	var args []any
	if opts.TenantID != "" {
		query += ` WHERE tenant_id = ?`
		args = append(args, opts.TenantID)
	}
	query += ` GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("docket/sqlite: count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[job.Status]int64, len(job.Statuses))
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("docket/sqlite: scan count row: %w", err)
		}
		counts[job.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docket/sqlite: iterate count rows: %w", err)
	}
	return counts, nil
}

// HeartbeatJob refreshes HeartbeatAt for the lease holder.
func (s *Store) HeartbeatJob(ctx context.Context, lease job.Lease, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE docket_jobs SET heartbeat_at = ?4, updated_at = ?4
		WHERE `+leaseMatch,
		lease.JobID.String(), lease.WorkerID.String(), lease.Attempt, micros(now),
	)
	if err != nil {
		return fmt.Errorf("docket/sqlite: heartbeat job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("docket/sqlite: heartbeat job: %w", err)
	}
	if n == 0 {
		return s.leaseMiss(ctx, lease.JobID)
	}
	return nil
}

// ListStaleJobs returns processing jobs whose heartbeat is older than cutoff.
func (s *Store) ListStaleJobs(ctx context.Context, cutoff time.Time, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryJobs(ctx, "list stale jobs", `
		SELECT`+jobColumns+`
		FROM docket_jobs
		WHERE status = 'processing'
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < ?
		ORDER BY heartbeat_at ASC
		LIMIT ?`,
		micros(cutoff), limit,
	)
}

func (s *Store) queryJobs(ctx context.Context, op, query string, args ...any) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("docket/sqlite: %s: %w", op, err)
	}
	defer rows.Close()

	jobs := make([]*job.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("docket/sqlite: %s: %w", op, err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docket/sqlite: %s: %w", op, err)
	}
	return jobs, nil
}

// leasedResult resolves the row returned by a lease-conditional update and
// explains a miss.
func (s *Store) leasedResult(ctx context.Context, lease job.Lease, row scanner, op string) (*job.Job, error) {
	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("docket/sqlite: %s: %w", op, err)
	}
	return nil, s.leaseMiss(ctx, lease.JobID)
}

// leaseMiss distinguishes a missing job from one whose lease moved on.
func (s *Store) leaseMiss(ctx context.Context, jobID id.JobID) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM docket_jobs WHERE id = ?)`, jobID.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("docket/sqlite: check job: %w", err)
	}
	if !exists {
		return docket.ErrJobNotFound
	}
	return docket.ErrLeaseLost
}

func scanJob(sc scanner) (*job.Job, error) {
	var r jobRow
	if err := r.scan(sc); err != nil {
		return nil, err
	}
	return fromJobRow(&r)
}
