package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobSubmitted         = "job.submitted"
	ActionJobStarted           = "job.started"
	ActionJobCompleted         = "job.completed"
	ActionJobFailed            = "job.failed"
	ActionJobRetrying          = "job.retrying"
	ActionJobCancelled         = "job.cancelled"
	ActionJobRecovered         = "job.recovered"
	ActionDeliveryDelivered    = "delivery.delivered"
	ActionDeliveryDeadLettered = "delivery.dead_lettered"
)

// Audit event categories group related actions.
const (
	CategoryJob      = "conductor.job"
	CategoryDelivery = "conductor.delivery"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob      = "job"
	ResourceDelivery = "webhook_delivery"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobSubmitted,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobRetrying,
		ActionJobCancelled,
		ActionJobRecovered,
		ActionDeliveryDelivered,
		ActionDeliveryDeadLettered,
	}
}
