// Package engine wires the docket subsystems together. It creates the
// extension registry, middleware chain, executor and worker pool around a
// store, and provides the Enqueue, Status, Cancel and listing operations.
//
// This package exists to break the import cycle: the root docket package
// defines Entity and the sentinel errors (imported by job, worker, etc.) and
// so cannot import those packages back. The engine package sits above all
// subsystem packages and below the application layer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/xraph/docket"
	"github.com/xraph/docket/ext"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
	mw "github.com/xraph/docket/middleware"
	"github.com/xraph/docket/notify"
	"github.com/xraph/docket/observability"
	"github.com/xraph/docket/render"
	"github.com/xraph/docket/retry"
	"github.com/xraph/docket/store"
	"github.com/xraph/docket/worker"
)

// Engine owns a worker pool over a store and exposes the job operations.
// Use New to create one.
type Engine struct {
	store      store.Store
	config     docket.Config
	configOpts []docket.Option
	extensions *ext.Registry
	exts       []ext.Extension
	renderer   render.Renderer
	notifier   notify.Notifier
	backoff    retry.Strategy
	validators map[job.Kind][]job.Validator
	executor   *worker.Executor
	pool       *worker.Pool
	mws        []mw.Middleware
	logger     *slog.Logger
	now        func() time.Time
	workerID   id.WorkerID

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the engine configuration. Later WithSettings options
// are applied on top of it.
func WithConfig(cfg docket.Config) Option {
	return func(eng *Engine) { eng.config = cfg }
}

// WithSettings applies docket configuration options over the current
// configuration.
func WithSettings(opts ...docket.Option) Option {
	return func(eng *Engine) { eng.configOpts = append(eng.configOpts, opts...) }
}

// WithRenderer sets the document renderer. It is required.
func WithRenderer(r render.Renderer) Option {
	return func(eng *Engine) { eng.renderer = r }
}

// WithNotifier sets the completion notifier. Without one, completions are
// only logged.
func WithNotifier(n notify.Notifier) Option {
	return func(eng *Engine) { eng.notifier = n }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.exts = append(eng.exts, e) }
}

// WithMiddleware adds middleware to the engine's chain. It runs inside the
// default stack, closest to the renderer.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithBackoff sets the delay applied to requeued jobs.
// If not set, failed jobs are requeued immediately.
func WithBackoff(b retry.Strategy) Option {
	return func(eng *Engine) { eng.backoff = b }
}

// WithKindValidator adds a kind-specific config rule checked on Enqueue.
// Validators for the same kind run in registration order.
func WithKindValidator(kind job.Kind, v job.Validator) Option {
	return func(eng *Engine) {
		eng.validators[kind] = append(eng.validators[kind], v)
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithClock overrides the time source used for enqueue, claim and outcome
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(eng *Engine) { eng.now = now }
}

// WithWorkerID sets the identity the pool claims jobs under.
func WithWorkerID(w id.WorkerID) Option {
	return func(eng *Engine) { eng.workerID = w }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the global one.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New creates an Engine over s.
func New(s store.Store, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, docket.ErrNoStore
	}

	eng := &Engine{
		store:      s,
		config:     docket.DefaultConfig(),
		validators: make(map[job.Kind][]job.Validator),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(eng)
	}

	for _, opt := range eng.configOpts {
		opt(&eng.config)
	}
	if err := eng.config.Validate(); err != nil {
		return nil, err
	}
	if eng.renderer == nil {
		return nil, docket.ErrNoRenderer
	}
	if eng.backoff == nil {
		eng.backoff = retry.None{}
	}
	logger := eng.logger

	eng.extensions = ext.NewRegistry(logger)
	for _, e := range eng.exts {
		eng.extensions.Register(e)
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/xraph/docket")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/xraph/docket")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/xraph/docket/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default stack: recover → tracing → metrics → logging → scope → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Scope(),
		mw.Timeout(eng.config.RenderTimeout, logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	execOpts := []worker.ExecutorOption{
		worker.WithMiddleware(allMws...),
		worker.WithNotifyTimeout(eng.config.NotifyTimeout),
		worker.WithExecutorClock(eng.now),
	}
	if eng.notifier == nil {
		eng.notifier = notify.Log{Logger: logger}
	}
	execOpts = append(execOpts, worker.WithNotifier(eng.notifier))
	eng.executor = worker.NewExecutor(s, eng.renderer, eng.extensions, eng.policy(), logger, execOpts...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(eng.config.Concurrency),
		worker.WithPollInterval(eng.config.PollInterval),
		worker.WithHeartbeatInterval(eng.config.HeartbeatInterval),
		worker.WithStaleJobThreshold(eng.config.StaleJobThreshold),
		worker.WithPoolClock(eng.now),
	}
	if !eng.workerID.IsNil() {
		poolOpts = append(poolOpts, worker.WithWorkerID(eng.workerID))
	}
	if eng.config.ClaimRate > 0 {
		burst := max(eng.config.ClaimBurst, 1)
		poolOpts = append(poolOpts, worker.WithClaimLimiter(rate.NewLimiter(rate.Limit(eng.config.ClaimRate), burst)))
	}
	eng.pool = worker.NewPool(s, eng.executor, eng.extensions, logger, poolOpts...)

	return eng, nil
}

func (eng *Engine) policy() retry.Policy {
	return retry.Policy{MaxAttempts: eng.config.MaxAttempts, Backoff: eng.backoff}
}

// EnqueueRequest describes a document to render.
type EnqueueRequest struct {
	TenantID     string
	SubjectID    string
	Kind         job.Kind
	Config       job.Config
	NotifyTarget string
	RequestedBy  string
	// MaxAttempts overrides the configured quota when positive.
	MaxAttempts int
}

// Enqueue validates req and persists a queued job, returning its ID. No
// rendering happens here.
func (eng *Engine) Enqueue(ctx context.Context, req EnqueueRequest) (id.JobID, error) {
	if req.MaxAttempts < 0 {
		return id.Nil, fmt.Errorf("%w: max attempts must not be negative, got %d", docket.ErrInvalidConfig, req.MaxAttempts)
	}

	now := eng.now().UTC()
	j := &job.Job{
		Entity:       docket.Entity{CreatedAt: now, UpdatedAt: now},
		ID:           id.NewJobID(),
		TenantID:     strings.TrimSpace(req.TenantID),
		SubjectID:    strings.TrimSpace(req.SubjectID),
		Kind:         job.Kind(strings.TrimSpace(string(req.Kind))),
		Status:       job.StatusQueued,
		Config:       req.Config.Clone(),
		MaxAttempts:  eng.policy().Quota(req.MaxAttempts),
		NotifyTarget: req.NotifyTarget,
		RequestedBy:  req.RequestedBy,
		NotBefore:    now,
	}

	if err := j.Validate(); err != nil {
		return id.Nil, err
	}
	for _, v := range eng.validators[j.Kind] {
		if err := v(j.Kind, j.Config); err != nil {
			if !errors.Is(err, docket.ErrInvalidConfig) {
				err = fmt.Errorf("%w: %w", docket.ErrInvalidConfig, err)
			}
			return id.Nil, err
		}
	}

	if err := eng.store.CreateJob(ctx, j); err != nil {
		return id.Nil, fmt.Errorf("enqueue job: %w", err)
	}

	eng.logger.Info("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("tenant_id", j.TenantID),
		slog.String("subject_id", j.SubjectID),
		slog.String("kind", string(j.Kind)),
		slog.Int("max_attempts", j.MaxAttempts),
	)
	eng.extensions.EmitJobEnqueued(ctx, j)
	return j.ID, nil
}

// Status returns the poll-facing view of a job. Unknown IDs yield
// docket.ErrJobNotFound.
func (eng *Engine) Status(ctx context.Context, jobID id.JobID) (job.StatusView, error) {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return job.StatusView{}, err
	}
	return j.View(), nil
}

// Get returns the full job record.
func (eng *Engine) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.store.GetJob(ctx, jobID)
}

// Cancel cancels a queued job. Jobs in any other status are returned
// unchanged with an error wrapping docket.ErrInvalidTransition; unknown IDs
// yield docket.ErrJobNotFound.
func (eng *Engine) Cancel(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := eng.store.CancelJob(ctx, jobID, eng.now().UTC())
	if err != nil {
		return j, err
	}
	eng.logger.Info("job cancelled",
		slog.String("job_id", j.ID.String()),
		slog.String("tenant_id", j.TenantID),
	)
	eng.extensions.EmitJobCancelled(ctx, j)
	return j, nil
}

// ListRecent returns a tenant's jobs newest first.
func (eng *Engine) ListRecent(ctx context.Context, opts job.ListOpts) ([]job.Summary, error) {
	if strings.TrimSpace(opts.TenantID) == "" {
		return nil, fmt.Errorf("%w: tenant id is required", docket.ErrInvalidConfig)
	}
	if opts.Status != "" {
		if _, ok := job.ParseStatus(string(opts.Status)); !ok {
			return nil, fmt.Errorf("%w: unknown status %q", docket.ErrInvalidConfig, opts.Status)
		}
	}
	opts.Limit = opts.EffectiveLimit()

	jobs, err := eng.store.ListJobs(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := make([]job.Summary, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Summarize())
	}
	return out, nil
}

// Counts returns per-status job counts. Every status is present in the
// result, zero when no job has it. An empty tenant counts all tenants.
func (eng *Engine) Counts(ctx context.Context, tenantID string) (map[job.Status]int64, error) {
	counts, err := eng.store.CountJobs(ctx, job.CountOpts{TenantID: tenantID})
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	out := make(map[job.Status]int64, len(job.Statuses))
	for _, st := range job.Statuses {
		out[st] = counts[st]
	}
	return out, nil
}

// Start begins job processing. It returns immediately.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.pool.Start(ctx)
}

// Stop gracefully shuts down the pool, waiting up to the configured
// shutdown timeout (or ctx, whichever ends first) for in-flight renders.
func (eng *Engine) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, eng.config.ShutdownTimeout)
	defer cancel()

	err := eng.pool.Stop(ctx)

	// RunOnce callers never start the pool, so notifications may still be
	// in flight.
	drained := make(chan struct{})
	go func() {
		eng.executor.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		eng.logger.Warn("shutdown timed out waiting for completion notifications")
	}

	eng.extensions.EmitShutdown(ctx)
	return err
}

// RunOnce claims and renders at most one job synchronously. It reports
// whether a job was processed.
func (eng *Engine) RunOnce(ctx context.Context) (bool, error) {
	return eng.pool.RunOnce(ctx)
}

// ReapStaleJobs fails back processing jobs whose heartbeat expired and
// returns how many were reaped.
func (eng *Engine) ReapStaleJobs(ctx context.Context) int {
	return eng.pool.ReapStaleJobs(ctx)
}

// Config returns the resolved configuration.
func (eng *Engine) Config() docket.Config { return eng.config }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Store returns the underlying store.
func (eng *Engine) Store() store.Store { return eng.store }

// Logger returns the engine logger.
func (eng *Engine) Logger() *slog.Logger { return eng.logger }
