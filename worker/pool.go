package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/docket"
	"github.com/xraph/docket/ext"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
)

// Pool manages a set of concurrent worker goroutines that claim jobs from
// the store and render them through the Executor.
type Pool struct {
	store        job.Store
	executor     *Executor
	extensions   *ext.Registry
	concurrency  int
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger
	now          func() time.Time

	// Heartbeat / reaper configuration.
	heartbeatInterval time.Duration
	staleJobThreshold time.Duration

	// Claim rate limiter (optional).
	limiter *rate.Limiter

	stopCh     chan struct{}
	loopCtx    context.Context
	loopCancel context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]activeJob
	activeMu   sync.Mutex
}

type activeJob struct {
	lease  job.Lease
	cancel context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how long an idle worker waits before polling again.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often the pool sends heartbeats for
// active jobs. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleJobThreshold sets the age after which a processing job without
// a heartbeat is reaped. A zero value disables reaping.
func WithStaleJobThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleJobThreshold = d }
}

// WithClaimLimiter bounds how fast the pool claims jobs, protecting the
// downstream renderer from bursts after an outage.
func WithClaimLimiter(l *rate.Limiter) PoolOption {
	return func(p *Pool) { p.limiter = l }
}

// WithWorkerID sets the pool's worker identity.
func WithWorkerID(w id.WorkerID) PoolOption {
	return func(p *Pool) { p.workerID = w }
}

// WithPoolClock overrides the time source used for claims and heartbeats.
func WithPoolClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		extensions:   extensions,
		concurrency:  4,
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		now:          time.Now,
		activeJobs:   make(map[string]activeJob),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Active returns the number of jobs currently being rendered.
func (p *Pool) Active() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.activeJobs)
}

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.loopCtx, p.loopCancel = context.WithCancel(context.Background())

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.claimLoop()
	}

	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}

	if p.staleJobThreshold > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for in-flight renders and
// completion notifications. When ctx expires first, active renders are
// cancelled and recorded as failed attempts.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)
	p.loopCancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		p.executor.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active renders")
		p.cancelActiveJobs()
		<-done
	}

	return nil
}

// RunOnce claims at most one job and renders it synchronously. It reports
// whether a job was processed.
func (p *Pool) RunOnce(ctx context.Context) (bool, error) {
	return p.runOne(ctx, ctx)
}

func (p *Pool) claimLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		processed, err := p.runOne(p.loopCtx, context.Background())
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				p.logger.Error("claim error", slog.String("error", err.Error()))
			}
			p.sleep()
			continue
		}
		if !processed {
			p.sleep()
		}
	}
}

// runOne claims one job using claimCtx and renders it under a context
// derived from renderParent.
func (p *Pool) runOne(claimCtx, renderParent context.Context) (bool, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(claimCtx); err != nil {
			return false, err
		}
	}

	if err := p.failExhausted(claimCtx); err != nil {
		return false, err
	}

	j, err := p.store.ClaimNext(claimCtx, p.workerID, p.now().UTC())
	if err != nil {
		return false, err
	}
	if j == nil {
		return false, nil
	}

	p.extensions.EmitJobClaimed(claimCtx, j)

	ctx, cancel := context.WithCancel(renderParent)
	p.trackJob(j, cancel)

	if execErr := p.executor.Execute(ctx, j); execErr != nil {
		p.logger.Debug("job attempt did not complete",
			slog.String("job_id", j.ID.String()),
			slog.Int("attempt", j.Attempts),
			slog.String("error", execErr.Error()),
		)
	}

	p.untrackJob(j)
	cancel()
	return true, nil
}

// failExhausted fails queued jobs that have no attempts left, for example
// after max_attempts was lowered in the store, and reports each one.
func (p *Pool) failExhausted(ctx context.Context) error {
	swept, err := p.store.FailExhausted(ctx, p.now().UTC())
	if err != nil {
		return err
	}
	for _, j := range swept {
		p.logger.Warn("job failed after exhausting attempts",
			slog.String("job_id", j.ID.String()),
			slog.String("tenant_id", j.TenantID),
			slog.Int("attempts", j.Attempts),
			slog.String("error", j.LastError),
		)
		p.extensions.EmitJobFailed(ctx, j, fmt.Errorf("%w: %s", docket.ErrQuotaExhausted, j.LastError))
	}
	return nil
}

// heartbeatLoop periodically sends heartbeats for all active jobs.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats(context.Background())
		}
	}
}

func (p *Pool) sendHeartbeats(ctx context.Context) {
	p.activeMu.Lock()
	active := make([]activeJob, 0, len(p.activeJobs))
	for _, a := range p.activeJobs {
		active = append(active, a)
	}
	p.activeMu.Unlock()

	now := p.now().UTC()
	for _, a := range active {
		err := p.store.HeartbeatJob(ctx, a.lease, now)
		switch {
		case err == nil:
		case errors.Is(err, docket.ErrLeaseLost), errors.Is(err, docket.ErrJobNotFound):
			// The job was reaped or otherwise moved on; stop rendering it.
			p.logger.Warn("lease lost during render, abandoning",
				slog.String("job_id", a.lease.JobID.String()),
				slog.Int("attempt", a.lease.Attempt),
			)
			a.cancel()
		default:
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", a.lease.JobID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reaperLoop periodically fails attempts whose heartbeat has expired.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	interval := p.staleJobThreshold / 2
	if interval <= 0 {
		interval = p.staleJobThreshold
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.ReapStaleJobs(context.Background())
		}
	}
}

// ReapStaleJobs fails the current attempt of every processing job whose
// heartbeat is older than the stale threshold. It returns how many were
// reaped.
func (p *Pool) ReapStaleJobs(ctx context.Context) int {
	if p.staleJobThreshold <= 0 {
		return 0
	}
	cutoff := p.now().UTC().Add(-p.staleJobThreshold)
	stale, err := p.store.ListStaleJobs(ctx, cutoff, 100)
	if err != nil {
		p.logger.Error("list stale jobs error", slog.String("error", err.Error()))
		return 0
	}

	var reaped int
	for _, j := range stale {
		if err := p.executor.Reap(ctx, j); err != nil {
			continue
		}
		reaped++
		p.logger.Info("reaped stale job",
			slog.String("job_id", j.ID.String()),
			slog.String("worker_id", j.WorkerID.String()),
			slog.Int("attempt", j.Attempts),
		)
	}
	return reaped
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(j *job.Job, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[j.ID.String()] = activeJob{lease: j.Lease(), cancel: cancel}
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(j *job.Job) {
	p.activeMu.Lock()
	delete(p.activeJobs, j.ID.String())
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, a := range p.activeJobs {
		p.logger.Warn("cancelling active render", slog.String("job_id", jobID))
		a.cancel()
	}
}
