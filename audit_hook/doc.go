// Package audithook is a docket extension that turns job lifecycle events
// into an audit trail.
//
// Every hook emits a structured [AuditEvent] through the [Recorder]
// interface, attributed to the job's tenant and to the actor that requested
// it. Severity is info for normal operations, warning for requeues and
// notifier failures, and critical for terminal failures.
//
// # Usage
//
//	eng, err := engine.New(store,
//	    engine.WithExtension(audithook.New(audithook.LogRecorder(auditLogger))),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobEnqueued,
//	        audithook.ActionJobFailed,
//	    ),
//	)
package audithook
