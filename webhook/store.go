package webhook

import (
	"context"
	"time"

	"github.com/xraph/conductor/id"
)

// Filter narrows ListDeliveries. Zero fields match everything.
type Filter struct {
	Status Status
	JobID  id.JobID
	Limit  int
}

// Matches reports whether d satisfies the filter.
func (f Filter) Matches(d *Delivery) bool {
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	if !f.JobID.IsNil() && d.JobID.String() != f.JobID.String() {
		return false
	}
	return true
}

// Store persists deliveries durably.
type Store interface {
	// CreateDelivery persists a new delivery. It fails with
	// ErrDeliveryAlreadyExists if the ID is taken.
	CreateDelivery(ctx context.Context, d *Delivery) error

	// GetDelivery returns the delivery or ErrDeliveryNotFound.
	GetDelivery(ctx context.Context, deliveryID id.DeliveryID) (*Delivery, error)

	// UpdateDelivery overwrites the mutable fields of an existing delivery.
	UpdateDelivery(ctx context.Context, d *Delivery) error

	// ListDueDeliveries returns Pending deliveries whose NextAttemptAt is at
	// or before now, oldest first.
	ListDueDeliveries(ctx context.Context, now time.Time, limit int) ([]*Delivery, error)

	// ListDeliveries returns deliveries matching f ordered by creation time.
	ListDeliveries(ctx context.Context, f Filter) ([]*Delivery, error)

	// CountDeliveries returns the number of deliveries matching f's status
	// and job. Limit is ignored.
	CountDeliveries(ctx context.Context, f Filter) (int64, error)
}

// Observer receives delivery outcomes. ext.Registry implements it.
type Observer interface {
	EmitDeliveryDelivered(ctx context.Context, d *Delivery)
	EmitDeliveryDeadLettered(ctx context.Context, d *Delivery)
}

type nopObserver struct{}

func (nopObserver) EmitDeliveryDelivered(context.Context, *Delivery)    {}
func (nopObserver) EmitDeliveryDeadLettered(context.Context, *Delivery) {}
