package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/webhook"
)

// CreateDelivery persists a new delivery.
func (s *Store) CreateDelivery(ctx context.Context, d *webhook.Delivery) error {
	_, err := s.db.NewInsert().Model(toDeliveryModel(d)).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return conductor.ErrDeliveryAlreadyExists
		}
		return fmt.Errorf("conductor/bun: create delivery: %w", err)
	}
	return nil
}

// GetDelivery retrieves a delivery by ID.
func (s *Store) GetDelivery(ctx context.Context, deliveryID id.DeliveryID) (*webhook.Delivery, error) {
	m := new(deliveryModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", deliveryID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, conductor.ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("conductor/bun: get delivery: %w", err)
	}
	return fromDeliveryModel(m)
}

// UpdateDelivery overwrites an existing delivery.
func (s *Store) UpdateDelivery(ctx context.Context, d *webhook.Delivery) error {
	res, err := s.db.NewUpdate().Model(toDeliveryModel(d)).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("conductor/bun: update delivery: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return conductor.ErrDeliveryNotFound
	}
	return nil
}

// ListDueDeliveries returns Pending deliveries due at or before now, oldest
// first.
func (s *Store) ListDueDeliveries(ctx context.Context, now time.Time, limit int) ([]*webhook.Delivery, error) {
	var models []deliveryModel
	q := s.db.NewSelect().Model(&models).
		Where("status = ?", string(webhook.StatusPending)).
		Where("next_attempt_at <= ?", now.UTC()).
		OrderExpr("next_attempt_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("conductor/bun: list due deliveries: %w", err)
	}
	return convertDeliveries(models)
}

// ListDeliveries returns deliveries matching f ordered by creation time.
func (s *Store) ListDeliveries(ctx context.Context, f webhook.Filter) ([]*webhook.Delivery, error) {
	var models []deliveryModel
	q := s.db.NewSelect().Model(&models)
	q = applyDeliveryFilter(q, f).OrderExpr("created_at ASC, id ASC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("conductor/bun: list deliveries: %w", err)
	}
	return convertDeliveries(models)
}

// CountDeliveries returns the number of deliveries matching f.
func (s *Store) CountDeliveries(ctx context.Context, f webhook.Filter) (int64, error) {
	q := s.db.NewSelect().Model((*deliveryModel)(nil))
	count, err := applyDeliveryFilter(q, f).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("conductor/bun: count deliveries: %w", err)
	}
	return int64(count), nil
}

func applyDeliveryFilter(q *bun.SelectQuery, f webhook.Filter) *bun.SelectQuery {
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if !f.JobID.IsNil() {
		q = q.Where("job_id = ?", f.JobID.String())
	}
	return q
}

func convertDeliveries(models []deliveryModel) ([]*webhook.Delivery, error) {
	out := make([]*webhook.Delivery, 0, len(models))
	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
