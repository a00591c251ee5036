package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xraph/docket"
	"github.com/xraph/docket/job"
	"github.com/xraph/docket/notify"
	"github.com/xraph/docket/retry"
)

// config is the process configuration read from DOCKET_* variables.
type config struct {
	StoreURL    string
	AutoMigrate bool
	AuditLog    bool

	RendererURL    string
	RendererToken  string
	RendererRoutes map[job.Kind]string

	NATSURL     string
	NATSSubject string

	HTTPAddr string

	LogFormat string
	LogLevel  slog.Level

	Engine  docket.Config
	Backoff retry.Strategy
}

func loadConfig() (config, error) {
	cfg := config{
		StoreURL:      getenv("DOCKET_STORE_URL", "memory://"),
		RendererURL:   os.Getenv("DOCKET_RENDERER_URL"),
		RendererToken: os.Getenv("DOCKET_RENDERER_TOKEN"),
		NATSURL:       os.Getenv("DOCKET_NATS_URL"),
		NATSSubject:   getenv("DOCKET_NATS_SUBJECT", notify.DefaultSubject),
		HTTPAddr:      getenv("DOCKET_HTTP_ADDR", ":8080"),
		LogFormat:     getenv("DOCKET_LOG_FORMAT", "text"),
		Engine:        docket.DefaultConfig(),
	}

	var err error
	if cfg.AutoMigrate, err = getenvBool("DOCKET_AUTO_MIGRATE", true); err != nil {
		return config{}, err
	}
	if cfg.AuditLog, err = getenvBool("DOCKET_AUDIT_LOG", false); err != nil {
		return config{}, err
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(getenv("DOCKET_LOG_LEVEL", "info"))); err != nil {
		return config{}, fmt.Errorf("DOCKET_LOG_LEVEL: %w", err)
	}
	if cfg.RendererRoutes, err = parseRoutes("DOCKET_RENDERER_ROUTES"); err != nil {
		return config{}, err
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return config{}, fmt.Errorf("DOCKET_LOG_FORMAT: want text or json, got %q", cfg.LogFormat)
	}

	e := &cfg.Engine
	if e.Concurrency, err = getenvInt("DOCKET_CONCURRENCY", e.Concurrency); err != nil {
		return config{}, err
	}
	if e.MaxAttempts, err = getenvInt("DOCKET_MAX_ATTEMPTS", e.MaxAttempts); err != nil {
		return config{}, err
	}
	if e.PollInterval, err = getenvDuration("DOCKET_POLL_INTERVAL", e.PollInterval); err != nil {
		return config{}, err
	}
	if e.RenderTimeout, err = getenvDuration("DOCKET_RENDER_TIMEOUT", e.RenderTimeout); err != nil {
		return config{}, err
	}
	if e.NotifyTimeout, err = getenvDuration("DOCKET_NOTIFY_TIMEOUT", e.NotifyTimeout); err != nil {
		return config{}, err
	}
	if e.ShutdownTimeout, err = getenvDuration("DOCKET_SHUTDOWN_TIMEOUT", e.ShutdownTimeout); err != nil {
		return config{}, err
	}
	if e.HeartbeatInterval, err = getenvDuration("DOCKET_HEARTBEAT_INTERVAL", e.HeartbeatInterval); err != nil {
		return config{}, err
	}
	if e.StaleJobThreshold, err = getenvDuration("DOCKET_STALE_JOB_THRESHOLD", e.StaleJobThreshold); err != nil {
		return config{}, err
	}
	if e.ClaimRate, err = getenvFloat("DOCKET_CLAIM_RATE", e.ClaimRate); err != nil {
		return config{}, err
	}
	if e.ClaimBurst, err = getenvInt("DOCKET_CLAIM_BURST", e.ClaimBurst); err != nil {
		return config{}, err
	}
	if err := e.Validate(); err != nil {
		return config{}, err
	}

	initial, err := getenvDuration("DOCKET_BACKOFF_INITIAL", time.Second)
	if err != nil {
		return config{}, err
	}
	maxDelay, err := getenvDuration("DOCKET_BACKOFF_MAX", time.Minute)
	if err != nil {
		return config{}, err
	}
	name := getenv("DOCKET_BACKOFF", "none")
	b, ok := retry.ParseStrategy(name, initial, maxDelay)
	if !ok {
		return config{}, fmt.Errorf("DOCKET_BACKOFF: unknown strategy %q", name)
	}
	cfg.Backoff = b

	return cfg, nil
}

// parseRoutes reads a KIND=URL,KIND=URL list of per-kind renderer services.
func parseRoutes(k string) (map[job.Kind]string, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return nil, nil
	}
	routes := make(map[job.Kind]string)
	for _, pair := range strings.Split(v, ",") {
		kind, url, ok := strings.Cut(strings.TrimSpace(pair), "=")
		kind, url = strings.TrimSpace(kind), strings.TrimSpace(url)
		if !ok || kind == "" || url == "" {
			return nil, fmt.Errorf("%s: want KIND=URL, got %q", k, pair)
		}
		routes[job.Kind(kind)] = url
	}
	return routes, nil
}

// hasRenderer reports whether any renderer service is configured.
func (c config) hasRenderer() bool {
	return c.RendererURL != "" || len(c.RendererRoutes) > 0
}

func (c config) newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return d, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", k, v)
	}
	return n, nil
}

func getenvFloat(k string, d float64) (float64, error) {
	v := os.Getenv(k)
	if v == "" {
		return d, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", k, v)
	}
	return f, nil
}

func getenvDuration(k string, d time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return d, nil
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", k, v)
	}
	return dur, nil
}

func getenvBool(k string, d bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", k, v)
	}
	return b, nil
}
