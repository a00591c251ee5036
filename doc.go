// Package docket is an asynchronous document-generation job queue.
//
// A caller enqueues a request to render a document (a claim supplement, an
// inspection packet) for a tenant's subject record and receives a job ID
// immediately. Worker pools claim queued jobs from a shared store, invoke an
// external renderer with a bounded timeout, and record the outcome. Failed
// attempts are requeued until the job's attempt quota is exhausted, and a
// completion notifier is fired when a job succeeds. Clients poll the job's
// status to completion.
//
// # Quick Start
//
//	cfg, err := docket.NewConfig(
//	    docket.WithConcurrency(4),
//	    docket.WithRenderTimeout(90*time.Second),
//	)
//
//	eng, err := engine.New(sqliteStore,
//	    engine.WithConfig(cfg),
//	    engine.WithRenderer(render.NewHTTP(rendererURL)),
//	    engine.WithNotifier(natsNotifier),
//	)
//
//	jobID, err := eng.Enqueue(ctx, engine.EnqueueRequest{
//	    TenantID:  "org_42",
//	    SubjectID: "claim_981",
//	    Kind:      "SUPPLEMENT",
//	    Config:    job.Config{Sections: []string{"summary", "line_items"}},
//	})
//
// # Architecture
//
// The job store is the only shared state. Every backend (memory, SQLite,
// PostgreSQL, Redis) implements the claim as a single atomic operation, and
// every outcome write is fenced by the worker's lease (job ID, worker ID and
// attempt number), so a worker that lost its job can never overwrite a newer
// state.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package docket
