// Package job defines the document-generation job entity, its state machine,
// and the store contract every backend implements.
//
// # Job Entity
//
// A [Job] is one request to render one document of a [Kind] for a tenant's
// subject record. It embeds [docket.Entity] for timestamps and progresses
// through a small state machine:
//
//	queued → processing → completed
//	queued → processing → queued → processing → ...   (retry)
//	queued → processing → failed                       (quota exhausted)
//	queued → failed                                    (claimed with no attempts left)
//	queued → cancelled
//
// completed, failed and cancelled are terminal. A terminal job is never
// mutated again.
//
// # Leases
//
// A processing job is owned by exactly one worker. Ownership is the [Lease]
// (job ID, worker ID, attempt number) handed out by [Store.ClaimNext]; every
// outcome write is conditional on the stored job still matching it.
//
// # Transition helpers
//
// [Job.Claim], [Job.Complete], [Job.Fail] and [Job.Exhaust] apply a
// transition to an in-memory job. Backends that cannot express a transition
// as a single conditional statement use them inside their critical section.
package job
