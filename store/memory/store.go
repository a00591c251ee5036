// Package memory provides an in-memory store.Store for tests and
// single-process development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/docket"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
	"github.com/xraph/docket/store"
)

var _ store.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Jobs are copied on the way in and out so
// callers can never mutate stored state.
type Store struct {
	mu     sync.RWMutex
	jobs   map[string]*job.Job
	closed bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{jobs: make(map[string]*job.Job)}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping fails only after Close.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return docket.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Stored jobs remain readable.
func (m *Store) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return docket.ErrJobAlreadyExists
	}
	m.jobs[key] = j.Clone()
	return nil
}

// ClaimNext claims the oldest eligible queued job under the store lock.
func (m *Store) ClaimNext(_ context.Context, workerID id.WorkerID, now time.Time) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next *job.Job
	for _, j := range m.jobs {
		if j.Status != job.StatusQueued {
			continue
		}
		if j.Attempts >= j.MaxAttempts {
			continue
		}
		if !j.Eligible(now) {
			continue
		}
		if next == nil || older(j, next) {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}
	if err := next.Claim(workerID, now); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// FailExhausted fails queued jobs with no attempts left.
func (m *Store) FailExhausted(_ context.Context, now time.Time) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	swept := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if j.Status != job.StatusQueued || j.Attempts < j.MaxAttempts {
			continue
		}
		j.Exhaust(now)
		swept = append(swept, j.Clone())
	}
	sort.Slice(swept, func(a, b int) bool { return older(swept[a], swept[b]) })
	return swept, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, docket.ErrJobNotFound
	}
	return j.Clone(), nil
}

// MarkCompleted records a successful render for the lease holder.
func (m *Store) MarkCompleted(_ context.Context, lease job.Lease, res job.Result, now time.Time) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.leased(lease)
	if err != nil {
		return nil, err
	}
	if err := j.Complete(res, now); err != nil {
		return nil, err
	}
	return j.Clone(), nil
}

// MarkFailed records a failed attempt for the lease holder.
func (m *Store) MarkFailed(_ context.Context, lease job.Lease, reason string, retryAt, now time.Time) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.leased(lease)
	if err != nil {
		return nil, err
	}
	if err := j.Fail(reason, retryAt, now); err != nil {
		return nil, err
	}
	return j.Clone(), nil
}

// CancelJob cancels a queued job.
func (m *Store) CancelJob(_ context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, docket.ErrJobNotFound
	}
	if err := j.Cancel(now); err != nil {
		return j.Clone(), err
	}
	return j.Clone(), nil
}

// ListJobs returns a tenant's jobs newest first.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if j.TenantID != opts.TenantID {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if opts.SubjectID != "" && j.SubjectID != opts.SubjectID {
			continue
		}
		result = append(result, j.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		return older(result[k], result[i])
	})

	if limit := opts.EffectiveLimit(); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CountJobs returns the number of jobs per status.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (map[job.Status]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[job.Status]int64, len(job.Statuses))
	for _, j := range m.jobs {
		if opts.TenantID != "" && j.TenantID != opts.TenantID {
			continue
		}
		counts[j.Status]++
	}
	return counts, nil
}

// HeartbeatJob refreshes HeartbeatAt for the lease holder.
func (m *Store) HeartbeatJob(_ context.Context, lease job.Lease, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.leased(lease)
	if err != nil {
		return err
	}
	j.HeartbeatAt = &now
	j.UpdatedAt = now
	return nil
}

// ListStaleJobs returns processing jobs whose heartbeat is older than cutoff.
func (m *Store) ListStaleJobs(_ context.Context, cutoff time.Time, limit int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []*job.Job
	for _, j := range m.jobs {
		if j.Status != job.StatusProcessing || j.HeartbeatAt == nil {
			continue
		}
		if j.HeartbeatAt.Before(cutoff) {
			stale = append(stale, j.Clone())
		}
	}
	sort.Slice(stale, func(i, k int) bool {
		return stale[i].HeartbeatAt.Before(*stale[k].HeartbeatAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// leased returns the stored job if lease is current. Callers hold m.mu.
func (m *Store) leased(lease job.Lease) (*job.Job, error) {
	j, ok := m.jobs[lease.JobID.String()]
	if !ok {
		return nil, docket.ErrJobNotFound
	}
	if !j.Holds(lease) {
		return nil, docket.ErrLeaseLost
	}
	return j, nil
}

// older orders jobs by creation time, breaking ties by ID.
func older(a, b *job.Job) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}
