package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xraph/docket"
	audithook "github.com/xraph/docket/audit_hook"
	"github.com/xraph/docket/engine"
	"github.com/xraph/docket/notify"
	"github.com/xraph/docket/render"
	"github.com/xraph/docket/store"
	"github.com/xraph/docket/store/memory"
	"github.com/xraph/docket/store/postgres"
	"github.com/xraph/docket/store/redis"
	"github.com/xraph/docket/store/sqlite"
)

// app holds the resources a command runs against.
type app struct {
	cfg     config
	logger  *slog.Logger
	store   store.Store
	engine  *engine.Engine
	closers []func() error
}

// openStore selects a backend from the URL scheme.
func openStore(ctx context.Context, rawURL string, logger *slog.Logger) (store.Store, error) {
	scheme, rest, _ := strings.Cut(rawURL, "://")
	switch scheme {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		if rest == "" {
			return nil, errors.New("sqlite store URL needs a path, e.g. sqlite://./docket.db")
		}
		return sqlite.Open(ctx, rest, sqlite.WithLogger(logger))
	case "postgres", "postgresql":
		return postgres.New(ctx, rawURL, postgres.WithLogger(logger))
	case "redis", "rediss":
		return redis.Connect(ctx, rawURL, redis.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unsupported store URL scheme %q", scheme)
	}
}

// newApp opens the store and builds the engine. Commands that render need
// a renderer URL; the rest get a renderer that refuses to run.
func newApp(ctx context.Context, cfg config, logger *slog.Logger, needRenderer bool) (*app, error) {
	if needRenderer && !cfg.hasRenderer() {
		return nil, errors.New("DOCKET_RENDERER_URL or DOCKET_RENDERER_ROUTES is required to process jobs")
	}

	s, err := openStore(ctx, cfg.StoreURL, logger)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, store: s}
	a.closers = append(a.closers, s.Close)

	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	r := newRenderer(cfg)

	notifiers := notify.Multi{notify.Log{Logger: logger}}
	if cfg.NATSURL != "" {
		n, err := notify.ConnectNATS(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.closers = append(a.closers, n.Close)
		notifiers = append(notifiers, n)
	}

	opts := []engine.Option{
		engine.WithConfig(cfg.Engine),
		engine.WithLogger(logger),
		engine.WithRenderer(r),
		engine.WithNotifier(notifiers),
		engine.WithBackoff(cfg.Backoff),
	}
	if cfg.AuditLog {
		opts = append(opts, engine.WithExtension(
			audithook.New(audithook.LogRecorder(logger.With(slog.String("stream", "audit"))), audithook.WithLogger(logger)),
		))
	}

	eng, err := engine.New(s, opts...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.engine = eng
	return a, nil
}

// newRenderer routes configured kinds to their own renderer service and
// everything else to DOCKET_RENDERER_URL. With nothing configured the
// renderer refuses every job.
func newRenderer(cfg config) render.Renderer {
	var opts []render.HTTPOption
	if cfg.RendererToken != "" {
		opts = append(opts, render.WithBearerToken(cfg.RendererToken))
	}

	var fallback render.Renderer = render.Func(func(context.Context, render.Request) (render.Artifact, error) {
		return render.Artifact{}, docket.ErrNoRenderer
	})
	if cfg.RendererURL != "" {
		fallback = render.NewHTTP(cfg.RendererURL, opts...)
	}
	if len(cfg.RendererRoutes) == 0 {
		return fallback
	}

	reg := render.NewRegistry(fallback)
	for kind, url := range cfg.RendererRoutes {
		reg.Register(kind, render.NewHTTP(url, opts...))
	}
	return reg
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
