// Package stream fans lifecycle events out to live subscribers. The Broker
// is an ext extension: it turns hook calls into Events and publishes them
// on topics that websocket clients subscribe to.
package stream

import (
	"time"

	"github.com/xraph/conductor/id"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventJobSubmitted EventType = "job.submitted"
	EventJobStarted   EventType = "job.started"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobRetrying  EventType = "job.retrying"
	EventJobCancelled EventType = "job.cancelled"
	EventJobRecovered EventType = "job.recovered"

	EventDeliveryDelivered    EventType = "delivery.delivered"
	EventDeliveryDeadLettered EventType = "delivery.dead_lettered"
)

// Event is the envelope pushed to subscribers.
type Event struct {
	ID        id.EventID `json:"id"`
	Type      EventType  `json:"type"`
	Timestamp time.Time  `json:"ts"`
	Topic     string     `json:"topic"`

	JobID      string `json:"jobId"`
	TaskName   string `json:"taskName,omitempty"`
	Priority   string `json:"priority,omitempty"`
	Status     string `json:"status,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
	Error      string `json:"error,omitempty"`
	ElapsedMs  int64  `json:"elapsedMs,omitempty"`
	DelayMs    int64  `json:"delayMs,omitempty"`
	DeliveryID string `json:"deliveryId,omitempty"`
}
