package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/webhook"
)

var (
	_ ext.Extension            = (*Broker)(nil)
	_ ext.JobSubmitted         = (*Broker)(nil)
	_ ext.JobStarted           = (*Broker)(nil)
	_ ext.JobCompleted         = (*Broker)(nil)
	_ ext.JobFailed            = (*Broker)(nil)
	_ ext.JobRetrying          = (*Broker)(nil)
	_ ext.JobCancelled         = (*Broker)(nil)
	_ ext.JobRecovered         = (*Broker)(nil)
	_ ext.DeliveryDelivered    = (*Broker)(nil)
	_ ext.DeliveryDeadLettered = (*Broker)(nil)
	_ ext.Shutdown             = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber buffer.
const DefaultBufferSize = 256

// Broker receives lifecycle hooks and publishes them to subscribers.
type Broker struct {
	topics     *TopicRegistry
	logger     *slog.Logger
	bufferSize int

	subscribers sync.Map // subscriber ID → *Subscriber

	totalPublished atomic.Int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// NewBroker creates a stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		topics:     NewTopicRegistry(),
		logger:     logger,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe registers a new subscriber on topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// RemoveSubscriber detaches a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
	}
}

// BrokerStats contains broker counters.
type BrokerStats struct {
	TopicCount      int   `json:"topicCount"`
	SubscriberCount int   `json:"subscriberCount"`
	TotalPublished  int64 `json:"totalPublished"`
}

// Publish stamps evt and broadcasts it to every matching topic.
func (b *Broker) Publish(evt *Event) {
	if evt.ID.IsNil() {
		evt.ID = id.NewEventID()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	delivered := b.topics.Broadcast(resolveTopics(evt), evt)
	b.totalPublished.Add(int64(delivered))
}

func jobEvent(t EventType, j *job.Job) *Event {
	return &Event{
		Type:     t,
		Topic:    JobTopic(j.ID.String()),
		JobID:    j.ID.String(),
		TaskName: j.TaskName,
		Priority: string(j.Priority),
		Status:   string(j.Status),
		Attempt:  j.Attempt,
		Error:    j.Error,
	}
}

// OnJobSubmitted implements ext.JobSubmitted.
func (b *Broker) OnJobSubmitted(_ context.Context, j *job.Job) error {
	b.Publish(jobEvent(EventJobSubmitted, j))
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (b *Broker) OnJobStarted(_ context.Context, j *job.Job) error {
	b.Publish(jobEvent(EventJobStarted, j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (b *Broker) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	evt := jobEvent(EventJobCompleted, j)
	evt.ElapsedMs = elapsed.Milliseconds()
	b.Publish(evt)
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (b *Broker) OnJobFailed(_ context.Context, j *job.Job, jobErr error) error {
	evt := jobEvent(EventJobFailed, j)
	evt.Error = jobErr.Error()
	b.Publish(evt)
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (b *Broker) OnJobRetrying(_ context.Context, j *job.Job, jobErr error, delay time.Duration) error {
	evt := jobEvent(EventJobRetrying, j)
	evt.Error = jobErr.Error()
	evt.DelayMs = delay.Milliseconds()
	b.Publish(evt)
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (b *Broker) OnJobCancelled(_ context.Context, j *job.Job) error {
	b.Publish(jobEvent(EventJobCancelled, j))
	return nil
}

// OnJobRecovered implements ext.JobRecovered.
func (b *Broker) OnJobRecovered(_ context.Context, j *job.Job) error {
	b.Publish(jobEvent(EventJobRecovered, j))
	return nil
}

func deliveryEvent(t EventType, d *webhook.Delivery) *Event {
	return &Event{
		Type:       t,
		Topic:      JobTopic(d.JobID.String()),
		JobID:      d.JobID.String(),
		Status:     string(d.Status),
		Attempt:    d.Attempt,
		Error:      d.LastError,
		DeliveryID: d.ID.String(),
	}
}

// OnDeliveryDelivered implements ext.DeliveryDelivered.
func (b *Broker) OnDeliveryDelivered(_ context.Context, d *webhook.Delivery) error {
	b.Publish(deliveryEvent(EventDeliveryDelivered, d))
	return nil
}

// OnDeliveryDeadLettered implements ext.DeliveryDeadLettered.
func (b *Broker) OnDeliveryDeadLettered(_ context.Context, d *webhook.Delivery) error {
	b.Publish(deliveryEvent(EventDeliveryDeadLettered, d))
	return nil
}

// OnShutdown implements ext.Shutdown. It closes every subscriber.
func (b *Broker) OnShutdown(context.Context) error {
	b.subscribers.Range(func(key, _ any) bool {
		b.RemoveSubscriber(key.(string)) //nolint:forcetypeassert // keys are always strings
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
