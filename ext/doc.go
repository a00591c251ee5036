// Package ext defines the extension system for docket.
//
// Extensions are notified of job lifecycle events and can react to them by
// recording metrics, writing audit logs, or forwarding events elsewhere.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type SlackAlerts struct{ client *slack.Client }
//
//	func (e *SlackAlerts) Name() string { return "slack-alerts" }
//
//	func (e *SlackAlerts) OnJobFailed(ctx context.Context, j *job.Job, err error) error {
//	    return e.client.Post(ctx, fmt.Sprintf("%s for %s failed: %v", j.Kind, j.SubjectID, err))
//	}
//
// # Hooks
//
//   - [JobEnqueued]: job was accepted into the queue
//   - [JobClaimed]: a worker claimed the job and is rendering it
//   - [JobCompleted]: the document was rendered
//   - [JobRequeued]: an attempt failed and the job went back to the queue
//   - [JobFailed]: the job failed with no attempts remaining
//   - [JobCancelled]: a queued job was cancelled
//   - [NotifyFailed]: the completion notifier returned an error
//   - [Shutdown]: the engine is stopping
//
// Hook errors are logged and never affect the job.
package ext
