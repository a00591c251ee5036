package docket

import (
	"fmt"
	"time"
)

// Config holds configuration for the engine and its worker pool.
type Config struct {
	// Concurrency is the maximum number of jobs rendered concurrently.
	Concurrency int

	// PollInterval is how often an idle worker polls for new jobs.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight renders
	// during graceful shutdown.
	ShutdownTimeout time.Duration

	// RenderTimeout bounds every call to the renderer.
	RenderTimeout time.Duration

	// NotifyTimeout bounds every call to the completion notifier.
	NotifyTimeout time.Duration

	// HeartbeatInterval is how often processing jobs send heartbeats.
	HeartbeatInterval time.Duration

	// StaleJobThreshold is how long a processing job may go without a
	// heartbeat before it is treated as abandoned and failed back.
	StaleJobThreshold time.Duration

	// MaxAttempts is the attempt quota given to new jobs that do not
	// request their own.
	MaxAttempts int

	// ClaimRate limits claims per second across the pool. Zero disables
	// the limit.
	ClaimRate float64

	// ClaimBurst is the burst size of the claim limiter.
	ClaimBurst int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       4,
		PollInterval:      1 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		RenderTimeout:     2 * time.Minute,
		NotifyTimeout:     10 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StaleJobThreshold: 5 * time.Minute,
		MaxAttempts:       3,
		ClaimBurst:        1,
	}
}

// Validate reports the first out-of-range field.
func (c Config) Validate() error {
	switch {
	case c.Concurrency <= 0:
		return fmt.Errorf("docket: concurrency must be positive, got %d", c.Concurrency)
	case c.PollInterval <= 0:
		return fmt.Errorf("docket: poll interval must be positive, got %s", c.PollInterval)
	case c.RenderTimeout <= 0:
		return fmt.Errorf("docket: render timeout must be positive, got %s", c.RenderTimeout)
	case c.NotifyTimeout <= 0:
		return fmt.Errorf("docket: notify timeout must be positive, got %s", c.NotifyTimeout)
	case c.HeartbeatInterval <= 0:
		return fmt.Errorf("docket: heartbeat interval must be positive, got %s", c.HeartbeatInterval)
	case c.StaleJobThreshold <= c.HeartbeatInterval:
		return fmt.Errorf("docket: stale job threshold %s must exceed heartbeat interval %s",
			c.StaleJobThreshold, c.HeartbeatInterval)
	case c.MaxAttempts <= 0:
		return fmt.Errorf("docket: max attempts must be positive, got %d", c.MaxAttempts)
	case c.ClaimRate < 0:
		return fmt.Errorf("docket: claim rate must not be negative, got %v", c.ClaimRate)
	}
	return nil
}
