package docket_test

import (
	"testing"
	"time"

	"github.com/xraph/docket"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := docket.DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestNewConfig(t *testing.T) {
	cfg, err := docket.NewConfig(
		docket.WithConcurrency(8),
		docket.WithRenderTimeout(30*time.Second),
		docket.WithMaxAttempts(5),
	)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if cfg.Concurrency != 8 {
		t.Errorf("Concurrency = %d, want 8", cfg.Concurrency)
	}
	if cfg.RenderTimeout != 30*time.Second {
		t.Errorf("RenderTimeout = %s, want 30s", cfg.RenderTimeout)
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.MaxAttempts)
	}
	if cfg.PollInterval != docket.DefaultConfig().PollInterval {
		t.Errorf("PollInterval changed unexpectedly: %s", cfg.PollInterval)
	}
}

func TestNewConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		opt  docket.Option
	}{
		{"zero concurrency", docket.WithConcurrency(0)},
		{"negative poll interval", docket.WithPollInterval(-time.Second)},
		{"zero render timeout", docket.WithRenderTimeout(0)},
		{"zero notify timeout", docket.WithNotifyTimeout(0)},
		{"stale threshold below heartbeat", docket.WithHeartbeat(time.Minute, time.Second)},
		{"zero max attempts", docket.WithMaxAttempts(0)},
		{"negative claim rate", docket.WithClaimRate(-1, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := docket.NewConfig(tt.opt); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
