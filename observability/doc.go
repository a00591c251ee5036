// Package observability provides an OpenTelemetry metrics extension for
// docket. The MetricsExtension implements lifecycle hooks to count jobs
// enqueued, claimed, completed, requeued, failed and cancelled, tagged by
// document kind.
//
// For per-render tracing and latency, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
