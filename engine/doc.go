// Package engine wires all docket subsystems together and provides the
// primary application-level API for enqueuing and inspecting document jobs.
//
// # Building an Engine
//
//	s, err := postgres.New(ctx, os.Getenv("DOCKET_STORE_URL"))
//
//	eng, err := engine.New(s,
//	    engine.WithSettings(docket.WithConcurrency(8)),
//	    engine.WithRenderer(render.NewHTTP(rendererURL)),
//	    engine.WithNotifier(natsNotifier),
//	    engine.WithBackoff(retry.NewExponential(5*time.Second, time.Minute)),
//	    engine.WithKindValidator("SUPPLEMENT", job.RequireSections("line_items")),
//	)
//
// # Enqueuing and Polling
//
//	jobID, err := eng.Enqueue(ctx, engine.EnqueueRequest{
//	    TenantID:  "org_42",
//	    SubjectID: "claim_981",
//	    Kind:      "SUPPLEMENT",
//	    Config:    job.Config{Sections: []string{"summary", "line_items"}},
//	})
//
//	view, err := eng.Status(ctx, jobID)
//
// # Processing
//
// Start launches the worker pool; Stop drains it. RunOnce processes a single
// job synchronously, which is how `docket work --once` and most tests drive
// the engine.
//
// # Options
//
//   - [WithConfig], [WithSettings]: pool and timeout configuration
//   - [WithRenderer]: the document renderer (required)
//   - [WithNotifier]: the completion notifier
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the render chain
//   - [WithBackoff]: delay requeued jobs
//   - [WithKindValidator]: kind-specific config rules
//   - [WithTracerProvider], [WithMeterProvider]: OpenTelemetry providers
package engine
