package docket

import "time"

// Option configures a Config.
type Option func(*Config)

// NewConfig applies opts over DefaultConfig and validates the result.
func NewConfig(opts ...Option) (Config, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WithConcurrency sets the maximum number of concurrent renders.
func WithConcurrency(n int) Option {
	return func(c *Config) { c.Concurrency = n }
}

// WithPollInterval sets how often idle workers poll the store.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) { c.PollInterval = d }
}

// WithShutdownTimeout sets the graceful shutdown timeout.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Config) { c.ShutdownTimeout = d }
}

// WithRenderTimeout sets the per-attempt render deadline.
func WithRenderTimeout(d time.Duration) Option {
	return func(c *Config) { c.RenderTimeout = d }
}

// WithNotifyTimeout sets the completion notifier deadline.
func WithNotifyTimeout(d time.Duration) Option {
	return func(c *Config) { c.NotifyTimeout = d }
}

// WithHeartbeat sets the heartbeat interval and the stale job threshold.
func WithHeartbeat(interval, staleAfter time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = interval
		c.StaleJobThreshold = staleAfter
	}
}

// WithMaxAttempts sets the default attempt quota for new jobs.
func WithMaxAttempts(n int) Option {
	return func(c *Config) { c.MaxAttempts = n }
}

// WithClaimRate limits how many jobs per second the pool may claim.
func WithClaimRate(perSecond float64, burst int) Option {
	return func(c *Config) {
		c.ClaimRate = perSecond
		c.ClaimBurst = burst
	}
}
