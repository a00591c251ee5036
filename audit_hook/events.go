package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobEnqueued  = "job.enqueued"
	ActionJobClaimed   = "job.claimed"
	ActionJobCompleted = "job.completed"
	ActionJobRequeued  = "job.requeued"
	ActionJobFailed    = "job.failed"
	ActionJobCancelled = "job.cancelled"
	ActionNotifyFailed = "job.notify_failed"
)

// CategoryJob groups every document job action.
const CategoryJob = "docket.job"

// ResourceJob is the Resource field of every event.
const ResourceJob = "document_job"

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobClaimed,
		ActionJobCompleted,
		ActionJobRequeued,
		ActionJobFailed,
		ActionJobCancelled,
		ActionNotifyFailed,
	}
}
