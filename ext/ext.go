// Package ext defines the extension system for conductor.
//
// Extensions are notified of lifecycle events and can react to them:
// recording metrics, streaming events, writing audit logs. Each hook is a
// separate interface so extensions opt in only to the events they care
// about.
//
//	type auditExt struct{}
//
//	func (auditExt) Name() string { return "audit" }
//
//	func (auditExt) OnJobFailed(ctx context.Context, j *job.Job, err error) error {
//	    slog.Warn("job failed", "job_id", j.ID, "error", err)
//	    return nil
//	}
//
// Hook errors are logged and never affect the job.
package ext

import (
	"context"
	"time"

	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/webhook"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobSubmitted is called after a job is persisted and enqueued.
type JobSubmitted interface {
	OnJobSubmitted(ctx context.Context, j *job.Job) error
}

// JobStarted is called after a worker claims a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails with no attempts remaining.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when a failed job is returned to Pending.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, err error, delay time.Duration) error
}

// JobCancelled is called after a Pending job is cancelled.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// JobRecovered is called for each Running job found at startup.
type JobRecovered interface {
	OnJobRecovered(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Delivery hooks
// ──────────────────────────────────────────────────

// DeliveryDelivered is called when the endpoint acknowledges a delivery.
type DeliveryDelivered interface {
	OnDeliveryDelivered(ctx context.Context, d *webhook.Delivery) error
}

// DeliveryDeadLettered is called when a delivery exhausts its attempts.
type DeliveryDeadLettered interface {
	OnDeliveryDeadLettered(ctx context.Context, d *webhook.Delivery) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
