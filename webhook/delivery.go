// Package webhook delivers job completion events to an external HTTP
// endpoint with at-least-once semantics.
//
// Every terminal transition produces exactly one [Delivery] record, persisted
// before any network attempt. The [Notifier] POSTs the frozen JSON body,
// retries non-2xx responses and transport errors with jittered exponential
// backoff, and dead-letters the delivery once its attempt budget is spent.
// Because the record is durable, pending deliveries survive a restart and
// resume on the next Start.
//
// Receivers should deduplicate on the Idempotency-Key header, which is
// "<jobId>:<attempt>".
package webhook

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
)

// Status is the state of a delivery.
type Status string

const (
	StatusPending      Status = "Pending"
	StatusDelivered    Status = "Delivered"
	StatusDeadLettered Status = "DeadLettered"
)

// Statuses lists every delivery status.
var Statuses = []Status{StatusPending, StatusDelivered, StatusDeadLettered}

// ParseStatus parses a delivery status case-insensitively.
func ParseStatus(s string) (Status, bool) {
	for _, st := range Statuses {
		if strings.EqualFold(string(st), strings.TrimSpace(s)) {
			return st, true
		}
	}
	return "", false
}

// Delivery is one completion notification for one terminal job outcome.
type Delivery struct {
	conductor.Entity

	ID         id.DeliveryID `json:"id"`
	JobID      id.JobID      `json:"jobId"`
	JobAttempt int           `json:"jobAttempt"`
	Status     Status        `json:"status"`

	// Attempt counts POSTs made so far.
	Attempt     int `json:"attempt"`
	MaxAttempts int `json:"maxAttempts"`

	NextAttemptAt  time.Time  `json:"nextAttemptAt"`
	LastError      string     `json:"lastError,omitempty"`
	LastStatusCode int        `json:"lastStatusCode,omitempty"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`

	// Body is the JSON document POSTed to the endpoint. It is rendered once
	// when the delivery is created so retries send identical bytes.
	Body json.RawMessage `json:"body"`
}

// IdempotencyKey returns the receiver-side deduplication key.
func (d *Delivery) IdempotencyKey() string {
	return d.JobID.String() + ":" + strconv.Itoa(d.JobAttempt)
}

// Clone returns a deep copy of d.
func (d *Delivery) Clone() *Delivery {
	cp := *d
	if d.Body != nil {
		cp.Body = append(json.RawMessage(nil), d.Body...)
	}
	if d.DeliveredAt != nil {
		t := *d.DeliveredAt
		cp.DeliveredAt = &t
	}
	return &cp
}

// Event is the JSON body POSTed for a terminal job.
type Event struct {
	DeliveryID  string          `json:"deliveryId"`
	JobID       string          `json:"jobId"`
	Attempt     int             `json:"attempt"`
	TaskName    string          `json:"taskName"`
	Priority    string          `json:"priority"`
	Status      string          `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt time.Time       `json:"completedAt"`
}
