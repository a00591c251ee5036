package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/docket"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
)

const jobColumns = `
	id, tenant_id, subject_id, kind, status, config,
	attempts, max_attempts, last_error, result_url, result_summary,
	notify_target, requested_by, worker_id,
	not_before, started_at, completed_at, heartbeat_at, created_at, updated_at`

// leaseMatch is the predicate every lease-taking write shares. It expects
// the job id, worker id and attempt as $1, $2 and $3.
const leaseMatch = `id = $1 AND status = 'processing' AND worker_id = $2 AND attempts = $3`

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	cfg, err := json.Marshal(j.Config)
	if err != nil {
		return fmt.Errorf("docket/postgres: encode config: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO docket_jobs (`+jobColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14,
			$15, $16, $17, $18, $19, $20
		)`,
		j.ID.String(), j.TenantID, j.SubjectID, string(j.Kind), string(j.Status), cfg,
		j.Attempts, j.MaxAttempts, j.LastError, j.ResultURL, j.ResultSummary,
		j.NotifyTarget, j.RequestedBy, j.WorkerID.String(),
		j.NotBefore, j.StartedAt, j.CompletedAt, j.HeartbeatAt, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return docket.ErrJobAlreadyExists
		}
		return fmt.Errorf("docket/postgres: create job: %w", err)
	}
	return nil
}

// ClaimNext claims the oldest eligible queued job. SKIP LOCKED lets
// concurrent claimers pass over a row another transaction is taking.
func (s *Store) ClaimNext(ctx context.Context, workerID id.WorkerID, now time.Time) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE docket_jobs SET
			status = 'processing',
			attempts = attempts + 1,
			worker_id = $1,
			started_at = $2, heartbeat_at = $2, updated_at = $2
		WHERE id = (
			SELECT id FROM docket_jobs
			WHERE status = 'queued'
			  AND attempts < max_attempts
			  AND not_before <= $2
			ORDER BY created_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING`+jobColumns,
		workerID.String(), now,
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("docket/postgres: claim job: %w", err)
	}
	return j, nil
}

// FailExhausted fails queued jobs with no attempts left. Rows another
// transaction holds are left for the next sweep.
func (s *Store) FailExhausted(ctx context.Context, now time.Time) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE docket_jobs SET
			status = 'failed',
			last_error = CASE WHEN last_error = '' THEN $1 ELSE last_error END,
			completed_at = $2, updated_at = $2
		WHERE id IN (
			SELECT id FROM docket_jobs
			WHERE status = 'queued' AND attempts >= max_attempts
			FOR UPDATE SKIP LOCKED
		)
		RETURNING`+jobColumns,
		job.ReasonQuotaExhausted, now,
	)
	if err != nil {
		return nil, fmt.Errorf("docket/postgres: fail exhausted jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+jobColumns+` FROM docket_jobs WHERE id = $1`, jobID.String())
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, docket.ErrJobNotFound
		}
		return nil, fmt.Errorf("docket/postgres: get job: %w", err)
	}
	return j, nil
}

// MarkCompleted records a successful render for the lease holder.
func (s *Store) MarkCompleted(ctx context.Context, lease job.Lease, res job.Result, now time.Time) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE docket_jobs SET
			status = 'completed',
			result_url = $4, result_summary = $5,
			completed_at = $6, heartbeat_at = NULL, updated_at = $6
		WHERE `+leaseMatch+`
		RETURNING`+jobColumns,
		lease.JobID.String(), lease.WorkerID.String(), lease.Attempt,
		res.URL, res.Summary, now,
	)
	return s.leasedResult(ctx, lease, row, "mark completed")
}

// MarkFailed records a failed attempt for the lease holder. The requeue
// decision is made in the same statement as the write.
func (s *Store) MarkFailed(ctx context.Context, lease job.Lease, reason string, retryAt, now time.Time) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE docket_jobs SET
			last_error = $4,
			heartbeat_at = NULL,
			updated_at = $6,
			status = CASE WHEN attempts < max_attempts THEN 'queued' ELSE 'failed' END,
			worker_id = CASE WHEN attempts < max_attempts THEN '' ELSE worker_id END,
			not_before = CASE WHEN attempts < max_attempts THEN GREATEST($5::timestamptz, $6::timestamptz) ELSE not_before END,
			completed_at = CASE WHEN attempts < max_attempts THEN completed_at ELSE $6::timestamptz END
		WHERE `+leaseMatch+`
		RETURNING`+jobColumns,
		lease.JobID.String(), lease.WorkerID.String(), lease.Attempt,
		reason, retryAt, now,
	)
	return s.leasedResult(ctx, lease, row, "mark failed")
}

// CancelJob cancels a queued job.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE docket_jobs SET
			status = 'cancelled', completed_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'queued'
		RETURNING`+jobColumns,
		jobID.String(), now,
	)
	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("docket/postgres: cancel job: %w", err)
	}
	current, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return current, fmt.Errorf("%w: cancel %s job", docket.ErrInvalidTransition, current.Status)
}

// ListJobs returns a tenant's jobs newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT` + jobColumns + ` FROM docket_jobs WHERE tenant_id = $1`
	args := []any{opts.TenantID}
	argIdx := 2

	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}
	if opts.SubjectID != "" {
		query += fmt.Sprintf(" AND subject_id = $%d", argIdx)
		args = append(args, opts.SubjectID)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", argIdx)
	args = append(args, opts.EffectiveLimit())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("docket/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs per status.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (map[job.Status]int64, error) {
	query := `SELECT status, COUNT(*) FROM docket_jobs`
	var args []any
	if opts.TenantID != "" {
		query += ` WHERE tenant_id = $1`
		args = append(args, opts.TenantID)
	}
	query += ` GROUP BY status`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("docket/postgres: count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[job.Status]int64, len(job.Statuses))
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("docket/postgres: scan count row: %w", err)
		}
		counts[job.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docket/postgres: iterate count rows: %w", err)
	}
	return counts, nil
}

// HeartbeatJob refreshes HeartbeatAt for the lease holder.
func (s *Store) HeartbeatJob(ctx context.Context, lease job.Lease, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE docket_jobs SET heartbeat_at = $4, updated_at = $4
		WHERE `+leaseMatch,
		lease.JobID.String(), lease.WorkerID.String(), lease.Attempt, now,
	)
	if err != nil {
		return fmt.Errorf("docket/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.leaseMiss(ctx, lease.JobID)
	}
	return nil
}

// ListStaleJobs returns processing jobs whose heartbeat is older than cutoff.
func (s *Store) ListStaleJobs(ctx context.Context, cutoff time.Time, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+jobColumns+`
		FROM docket_jobs
		WHERE status = 'processing'
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < $1
		ORDER BY heartbeat_at ASC
		LIMIT NULLIF($2::int, 0)`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("docket/postgres: list stale jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// leasedResult scans the row returned by a lease-conditional update and
// explains a miss.
func (s *Store) leasedResult(ctx context.Context, lease job.Lease, row pgx.Row, op string) (*job.Job, error) {
	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("docket/postgres: %s: %w", op, err)
	}
	return nil, s.leaseMiss(ctx, lease.JobID)
}

// leaseMiss distinguishes a missing job from one whose lease moved on.
func (s *Store) leaseMiss(ctx context.Context, jobID id.JobID) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM docket_jobs WHERE id = $1)`, jobID.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("docket/postgres: check job: %w", err)
	}
	if !exists {
		return docket.ErrJobNotFound
	}
	return docket.ErrLeaseLost
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		kind      string
		status    string
		cfg       []byte
		workerStr string
	)
	err := row.Scan(
		&idStr, &j.TenantID, &j.SubjectID, &kind, &status, &cfg,
		&j.Attempts, &j.MaxAttempts, &j.LastError, &j.ResultURL, &j.ResultSummary,
		&j.NotifyTarget, &j.RequestedBy, &workerStr,
		&j.NotBefore, &j.StartedAt, &j.CompletedAt, &j.HeartbeatAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Kind = job.Kind(kind)
	j.Status = job.Status(status)
	j.NotBefore = j.NotBefore.UTC()
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	j.StartedAt = utc(j.StartedAt)
	j.CompletedAt = utc(j.CompletedAt)
	j.HeartbeatAt = utc(j.HeartbeatAt)
	if err := json.Unmarshal(cfg, &j.Config); err != nil {
		return nil, fmt.Errorf("docket/postgres: decode config for %s: %w", idStr, err)
	}

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("docket/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		parsedWorker, workerErr := id.ParseWorkerID(workerStr)
		if workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("docket/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docket/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
