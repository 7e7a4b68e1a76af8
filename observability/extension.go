// Package observability records lifecycle counters through OpenTelemetry.
// Register [MetricsExtension] with the engine to count submissions,
// completions, failures, retries, cancellations, crash recoveries and
// webhook outcomes.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/webhook"
)

var (
	_ ext.Extension            = (*MetricsExtension)(nil)
	_ ext.JobSubmitted         = (*MetricsExtension)(nil)
	_ ext.JobStarted           = (*MetricsExtension)(nil)
	_ ext.JobCompleted         = (*MetricsExtension)(nil)
	_ ext.JobFailed            = (*MetricsExtension)(nil)
	_ ext.JobRetrying          = (*MetricsExtension)(nil)
	_ ext.JobCancelled         = (*MetricsExtension)(nil)
	_ ext.JobRecovered         = (*MetricsExtension)(nil)
	_ ext.DeliveryDelivered    = (*MetricsExtension)(nil)
	_ ext.DeliveryDeadLettered = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/conductor/observability"

// MetricsExtension counts lifecycle events. Job counters carry task_name
// and priority attributes.
type MetricsExtension struct {
	JobSubmitted         metric.Int64Counter
	JobStarted           metric.Int64Counter
	JobCompleted         metric.Int64Counter
	JobFailed            metric.Int64Counter
	JobRetried           metric.Int64Counter
	JobCancelled         metric.Int64Counter
	JobRecovered         metric.Int64Counter
	DeliveryDelivered    metric.Int64Counter
	DeliveryDeadLettered metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension using meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// The OTel API returns a noop counter alongside any error.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	return &MetricsExtension{
		JobSubmitted:         counter("conductor.job.submitted", "Jobs accepted"),
		JobStarted:           counter("conductor.job.started", "Execution attempts claimed by a worker"),
		JobCompleted:         counter("conductor.job.completed", "Jobs completed successfully"),
		JobFailed:            counter("conductor.job.failed", "Jobs failed with no attempts left"),
		JobRetried:           counter("conductor.job.retried", "Failed attempts returned to Pending"),
		JobCancelled:         counter("conductor.job.cancelled", "Jobs cancelled while Pending"),
		JobRecovered:         counter("conductor.job.recovered", "Running jobs resolved at startup"),
		DeliveryDelivered:    counter("conductor.webhook.delivered", "Webhook deliveries acknowledged"),
		DeliveryDeadLettered: counter("conductor.webhook.dead_lettered", "Webhook deliveries that exhausted their attempts"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(j *job.Job) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("task_name", j.TaskName),
		attribute.String("priority", string(j.Priority)),
	)
}

// OnJobSubmitted implements ext.JobSubmitted.
func (m *MetricsExtension) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	m.JobSubmitted.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(ctx context.Context, j *job.Job) error {
	m.JobStarted.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ error, _ time.Duration) error {
	m.JobRetried.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.JobCancelled.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobRecovered implements ext.JobRecovered.
func (m *MetricsExtension) OnJobRecovered(ctx context.Context, j *job.Job) error {
	m.JobRecovered.Add(ctx, 1, jobAttrs(j), metric.WithAttributes(attribute.String("status", string(j.Status))))
	return nil
}

// OnDeliveryDelivered implements ext.DeliveryDelivered.
func (m *MetricsExtension) OnDeliveryDelivered(ctx context.Context, _ *webhook.Delivery) error {
	m.DeliveryDelivered.Add(ctx, 1)
	return nil
}

// OnDeliveryDeadLettered implements ext.DeliveryDeadLettered.
func (m *MetricsExtension) OnDeliveryDeadLettered(ctx context.Context, _ *webhook.Delivery) error {
	m.DeliveryDeadLettered.Add(ctx, 1)
	return nil
}
