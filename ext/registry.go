package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/webhook"
)

type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and fans lifecycle events out to
// them. Hooks are type-cached at registration so emitters only iterate the
// extensions that implement them. Register every extension before the
// engine starts; emitters are then safe for concurrent use.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobSubmitted         []entry[JobSubmitted]
	jobStarted           []entry[JobStarted]
	jobCompleted         []entry[JobCompleted]
	jobFailed            []entry[JobFailed]
	jobRetrying          []entry[JobRetrying]
	jobCancelled         []entry[JobCancelled]
	jobRecovered         []entry[JobRecovered]
	deliveryDelivered    []entry[DeliveryDelivered]
	deliveryDeadLettered []entry[DeliveryDeadLettered]
	shutdown             []entry[Shutdown]
}

var _ webhook.Observer = (*Registry)(nil)

// NewRegistry creates an extension registry. A nil logger uses slog.Default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobSubmitted); ok {
		r.jobSubmitted = append(r.jobSubmitted, entry[JobSubmitted]{name, h})
	}
	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, entry[JobStarted]{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, entry[JobCompleted]{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, entry[JobFailed]{name, h})
	}
	if h, ok := e.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, entry[JobRetrying]{name, h})
	}
	if h, ok := e.(JobCancelled); ok {
		r.jobCancelled = append(r.jobCancelled, entry[JobCancelled]{name, h})
	}
	if h, ok := e.(JobRecovered); ok {
		r.jobRecovered = append(r.jobRecovered, entry[JobRecovered]{name, h})
	}
	if h, ok := e.(DeliveryDelivered); ok {
		r.deliveryDelivered = append(r.deliveryDelivered, entry[DeliveryDelivered]{name, h})
	}
	if h, ok := e.(DeliveryDeadLettered); ok {
		r.deliveryDeadLettered = append(r.deliveryDeadLettered, entry[DeliveryDeadLettered]{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, entry[Shutdown]{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension {
	return r.extensions
}

// EmitJobSubmitted notifies all extensions that implement JobSubmitted.
func (r *Registry) EmitJobSubmitted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobSubmitted {
		r.check("OnJobSubmitted", e.name, e.hook.OnJobSubmitted(ctx, j))
	}
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		r.check("OnJobStarted", e.name, e.hook.OnJobStarted(ctx, j))
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		r.check("OnJobCompleted", e.name, e.hook.OnJobCompleted(ctx, j, elapsed))
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		r.check("OnJobFailed", e.name, e.hook.OnJobFailed(ctx, j, jobErr))
	}
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, jobErr error, delay time.Duration) {
	for _, e := range r.jobRetrying {
		r.check("OnJobRetrying", e.name, e.hook.OnJobRetrying(ctx, j, jobErr, delay))
	}
}

// EmitJobCancelled notifies all extensions that implement JobCancelled.
func (r *Registry) EmitJobCancelled(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCancelled {
		r.check("OnJobCancelled", e.name, e.hook.OnJobCancelled(ctx, j))
	}
}

// EmitJobRecovered notifies all extensions that implement JobRecovered.
func (r *Registry) EmitJobRecovered(ctx context.Context, j *job.Job) {
	for _, e := range r.jobRecovered {
		r.check("OnJobRecovered", e.name, e.hook.OnJobRecovered(ctx, j))
	}
}

// EmitDeliveryDelivered notifies all extensions that implement DeliveryDelivered.
func (r *Registry) EmitDeliveryDelivered(ctx context.Context, d *webhook.Delivery) {
	for _, e := range r.deliveryDelivered {
		r.check("OnDeliveryDelivered", e.name, e.hook.OnDeliveryDelivered(ctx, d))
	}
}

// EmitDeliveryDeadLettered notifies all extensions that implement DeliveryDeadLettered.
func (r *Registry) EmitDeliveryDeadLettered(ctx context.Context, d *webhook.Delivery) {
	for _, e := range r.deliveryDeadLettered {
		r.check("OnDeliveryDeadLettered", e.name, e.hook.OnDeliveryDeadLettered(ctx, d))
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		r.check("OnShutdown", e.name, e.hook.OnShutdown(ctx))
	}
}

func (r *Registry) check(hook, extName string, err error) {
	if err == nil {
		return
	}
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
