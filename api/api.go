// Package api exposes the docket engine over HTTP: enqueue, status polling,
// cancellation, recent-job listings, per-status counts and a health probe.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/docket/engine"
)

// API wires the HTTP handlers for a docket engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the request and error logger. Defaults to the engine's.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API over eng.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: eng.Logger()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.health)
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the /v1 routes into r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", a.enqueueJob)
			r.Get("/", a.listJobs)
			r.Get("/{jobId}", a.getJob)
			r.Post("/{jobId}/cancel", a.cancelJob)
		})
		r.Get("/stats", a.stats)
	})
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
