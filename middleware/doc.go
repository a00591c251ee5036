// Package middleware provides composable middleware around render calls.
//
// A [Middleware] wraps the call that hands a claimed job to the renderer.
// Middleware are composed into a chain using [Chain]; the first middleware
// in the slice is the outermost wrapper.
//
//	// logging → recover → timeout → renderer
//	chain := middleware.Chain(
//	    middleware.Logging(logger),
//	    middleware.Recover(logger),
//	    middleware.Timeout(cfg.RenderTimeout, logger),
//	)
//
// # Built-in Middleware
//
//   - [Logging] logs kind, attempt, duration and outcome of each render
//   - [Recover] converts renderer panics into attempt failures
//   - [Timeout] bounds each render with a deadline
//   - [Tracing] wraps each render in an OpenTelemetry span
//   - [Metrics] records render duration and outcome counters
//   - [Scope] attaches the job's tenant to the render context
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
