package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/docket"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
)

// listPage is how many tenant index entries ListJobs fetches per round.
const listPage = 200

// CreateJob stores the job as a Hash and indexes it.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	fields, err := jobToFields(j)
	if err != nil {
		return err
	}
	jID := j.ID.String()
	args := append([]any{jID, micros(j.CreatedAt), string(j.Status)}, fields...)

	created, err := createScript.Run(ctx, s.client,
		[]string{jobKey(jID), queuedKey, tenantJobsKey(j.TenantID), countsKey, tenantCountsKey(j.TenantID)},
		args...,
	).Int()
	if err != nil {
		return fmt.Errorf("docket/redis: create job: %w", err)
	}
	if created == 0 {
		return docket.ErrJobAlreadyExists
	}
	return nil
}

// ClaimNext claims the oldest eligible queued job in one script run.
func (s *Store) ClaimNext(ctx context.Context, workerID id.WorkerID, now time.Time) (*job.Job, error) {
	res, err := claimScript.Run(ctx, s.client,
		[]string{queuedKey, processingKey, countsKey},
		micros(now), workerID.String(), jobKeyPrefix, tenantCountsPrefix,
	).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("docket/redis: claim job: %w", err)
	}
	return replyToJob(res)
}

// FailExhausted fails queued jobs with no attempts left. The sweep is one
// script; the failed jobs are read back afterwards.
func (s *Store) FailExhausted(ctx context.Context, now time.Time) ([]*job.Job, error) {
	ids, err := sweepScript.Run(ctx, s.client,
		[]string{queuedKey, countsKey},
		micros(now), jobKeyPrefix, tenantCountsPrefix, job.ReasonQuotaExhausted,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("docket/redis: fail exhausted jobs: %w", err)
	}

	swept := make([]*job.Job, 0, len(ids))
	for _, jid := range ids {
		vals, err := s.client.HGetAll(ctx, jobKey(jid)).Result()
		if err != nil {
			return nil, fmt.Errorf("docket/redis: fail exhausted jobs: %w", err)
		}
		if len(vals) == 0 {
			continue
		}
		j, err := fieldsToJob(vals)
		if err != nil {
			return nil, fmt.Errorf("docket/redis: fail exhausted jobs: %w", err)
		}
		swept = append(swept, j)
	}
	return swept, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, jobKey(jobID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("docket/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, docket.ErrJobNotFound
	}
	return fieldsToJob(vals)
}

// MarkCompleted records a successful render for the lease holder.
func (s *Store) MarkCompleted(ctx context.Context, lease job.Lease, res job.Result, now time.Time) (*job.Job, error) {
	jID := lease.JobID.String()
	reply, err := completeScript.Run(ctx, s.client,
		[]string{jobKey(jID), processingKey, countsKey},
		lease.WorkerID.String(), lease.Attempt, res.URL, res.Summary, micros(now), tenantCountsPrefix, jID,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("docket/redis: mark completed: %w", err)
	}
	return leasedReply(reply)
}

// MarkFailed records a failed attempt for the lease holder.
func (s *Store) MarkFailed(ctx context.Context, lease job.Lease, reason string, retryAt, now time.Time) (*job.Job, error) {
	jID := lease.JobID.String()
	reply, err := failScript.Run(ctx, s.client,
		[]string{jobKey(jID), processingKey, queuedKey, countsKey},
		lease.WorkerID.String(), lease.Attempt, reason, micros(retryAt), micros(now), tenantCountsPrefix, jID,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("docket/redis: mark failed: %w", err)
	}
	return leasedReply(reply)
}

// CancelJob cancels a queued job.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	jID := jobID.String()
	reply, err := cancelScript.Run(ctx, s.client,
		[]string{jobKey(jID), queuedKey, countsKey},
		micros(now), tenantCountsPrefix, jID,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("docket/redis: cancel job: %w", err)
	}
	if code, ok := reply.(int64); ok {
		if code < 0 {
			return nil, docket.ErrJobNotFound
		}
		current, getErr := s.GetJob(ctx, jobID)
		if getErr != nil {
			return nil, getErr
		}
		return current, fmt.Errorf("%w: cancel %s job", docket.ErrInvalidTransition, current.Status)
	}
	return replyToJob(reply)
}

// ListJobs returns a tenant's jobs newest first. Filters are applied while
// paging through the tenant index.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	limit := opts.EffectiveLimit()
	key := tenantJobsKey(opts.TenantID)
	jobs := make([]*job.Job, 0)

	for start := int64(0); len(jobs) < limit; start += listPage {
		ids, err := s.client.ZRevRange(ctx, key, start, start+listPage-1).Result()
		if err != nil {
			return nil, fmt.Errorf("docket/redis: list jobs: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		page, err := s.getJobs(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, j := range page {
			if opts.Status != "" && j.Status != opts.Status {
				continue
			}
			if opts.SubjectID != "" && j.SubjectID != opts.SubjectID {
				continue
			}
			jobs = append(jobs, j)
			if len(jobs) == limit {
				break
			}
		}
	}
	return jobs, nil
}

// CountJobs returns the number of jobs per status.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (map[job.Status]int64, error) {
	key := countsKey
	if opts.TenantID != "" {
		key = tenantCountsKey(opts.TenantID)
	}
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("docket/redis: count jobs: %w", err)
	}

	counts := make(map[job.Status]int64, len(job.Statuses))
	for status, raw := range vals {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("docket/redis: parse count for %s: %w", status, err)
		}
		if n > 0 {
			counts[job.Status(status)] = n
		}
	}
	return counts, nil
}

// HeartbeatJob refreshes HeartbeatAt for the lease holder.
func (s *Store) HeartbeatJob(ctx context.Context, lease job.Lease, now time.Time) error {
	jID := lease.JobID.String()
	code, err := heartbeatScript.Run(ctx, s.client,
		[]string{jobKey(jID), processingKey},
		lease.WorkerID.String(), lease.Attempt, micros(now), jID,
	).Int64()
	if err != nil {
		return fmt.Errorf("docket/redis: heartbeat job: %w", err)
	}
	return leaseCode(code)
}

// ListStaleJobs returns processing jobs whose heartbeat is older than cutoff.
func (s *Store) ListStaleJobs(ctx context.Context, cutoff time.Time, limit int) ([]*job.Job, error) {
	by := &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(micros(cutoff), 10),
	}
	if limit > 0 {
		by.Count = int64(limit)
	}
	ids, err := s.client.ZRangeByScore(ctx, processingKey, by).Result()
	if err != nil {
		return nil, fmt.Errorf("docket/redis: list stale jobs: %w", err)
	}
	jobs, err := s.getJobs(ctx, ids)
	if err != nil {
		return nil, err
	}
	stale := jobs[:0]
	for _, j := range jobs {
		if j.Status == job.StatusProcessing {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

// getJobs fetches jobs in order with one pipeline round trip. IDs whose
// Hash is gone are skipped.
func (s *Store) getJobs(ctx context.Context, ids []string) ([]*job.Job, error) {
	if len(ids) == 0 {
		return []*job.Job{}, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, jID := range ids {
		cmds[i] = pipe.HGetAll(ctx, jobKey(jID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("docket/redis: fetch jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		j, err := fieldsToJob(vals)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// ── helpers ──

func leaseCode(code int64) error {
	switch {
	case code < 0:
		return docket.ErrJobNotFound
	case code == 0:
		return docket.ErrLeaseLost
	default:
		return nil
	}
}

// leasedReply decodes the reply of a lease-checked script.
func leasedReply(reply any) (*job.Job, error) {
	if code, ok := reply.(int64); ok {
		if err := leaseCode(code); err != nil {
			return nil, err
		}
	}
	return replyToJob(reply)
}

// replyToJob decodes a flat HGETALL reply returned from a script.
func replyToJob(reply any) (*job.Job, error) {
	flat, ok := reply.([]any)
	if !ok || len(flat)%2 != 0 {
		return nil, fmt.Errorf("docket/redis: unexpected script reply %T", reply)
	}
	vals := make(map[string]string, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		vals[k] = v
	}
	return fieldsToJob(vals)
}

func jobToFields(j *job.Job) ([]any, error) {
	cfg, err := json.Marshal(j.Config)
	if err != nil {
		return nil, fmt.Errorf("docket/redis: encode config: %w", err)
	}
	fields := []any{
		"id", j.ID.String(),
		"tenant_id", j.TenantID,
		"subject_id", j.SubjectID,
		"kind", string(j.Kind),
		"status", string(j.Status),
		"config", string(cfg),
		"attempts", strconv.Itoa(j.Attempts),
		"max_attempts", strconv.Itoa(j.MaxAttempts),
		"last_error", j.LastError,
		"result_url", j.ResultURL,
		"result_summary", j.ResultSummary,
		"notify_target", j.NotifyTarget,
		"requested_by", j.RequestedBy,
		"worker_id", j.WorkerID.String(),
		"not_before", strconv.FormatInt(micros(j.NotBefore), 10),
		"created_at", strconv.FormatInt(micros(j.CreatedAt), 10),
		"updated_at", strconv.FormatInt(micros(j.UpdatedAt), 10),
	}
	for _, opt := range []struct {
		name string
		t    *time.Time
	}{
		{"started_at", j.StartedAt},
		{"completed_at", j.CompletedAt},
		{"heartbeat_at", j.HeartbeatAt},
	} {
		if opt.t != nil {
			fields = append(fields, opt.name, strconv.FormatInt(micros(*opt.t), 10))
		}
	}
	return fields, nil
}

func fieldsToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("docket/redis: parse job id: %w", err)
	}

	attempts, _ := strconv.Atoi(m["attempts"])        //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: docket.Entity{
			CreatedAt: parseMicros(m["created_at"]),
			UpdatedAt: parseMicros(m["updated_at"]),
		},
		ID:            jID,
		TenantID:      m["tenant_id"],
		SubjectID:     m["subject_id"],
		Kind:          job.Kind(m["kind"]),
		Status:        job.Status(m["status"]),
		Attempts:      attempts,
		MaxAttempts:   maxAttempts,
		LastError:     m["last_error"],
		ResultURL:     m["result_url"],
		ResultSummary: m["result_summary"],
		NotifyTarget:  m["notify_target"],
		RequestedBy:   m["requested_by"],
		NotBefore:     parseMicros(m["not_before"]),
		StartedAt:     parseOptionalMicros(m["started_at"]),
		CompletedAt:   parseOptionalMicros(m["completed_at"]),
		HeartbeatAt:   parseOptionalMicros(m["heartbeat_at"]),
	}
	if err := json.Unmarshal([]byte(m["config"]), &j.Config); err != nil {
		return nil, fmt.Errorf("docket/redis: decode config for %s: %w", m["id"], err)
	}
	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	return j, nil
}

func micros(t time.Time) int64 { return t.UnixMicro() }

func parseMicros(s string) time.Time {
	v, _ := strconv.ParseInt(s, 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
	return time.UnixMicro(v).UTC()
}

func parseOptionalMicros(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := parseMicros(s)
	return &t
}
