package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/webhook"
)

// CreateDelivery persists a new delivery.
func (s *Store) CreateDelivery(ctx context.Context, d *webhook.Delivery) error {
	if _, err := s.deliveries().InsertOne(ctx, toDeliveryModel(d)); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return conductor.ErrDeliveryAlreadyExists
		}
		return wrap("create delivery", err)
	}
	return nil
}

// GetDelivery retrieves a delivery by ID.
func (s *Store) GetDelivery(ctx context.Context, deliveryID id.DeliveryID) (*webhook.Delivery, error) {
	var m deliveryModel
	err := s.deliveries().FindOne(ctx, bson.M{"_id": deliveryID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, conductor.ErrDeliveryNotFound
		}
		return nil, wrap("get delivery", err)
	}
	return fromDeliveryModel(&m)
}

// UpdateDelivery replaces an existing delivery document.
func (s *Store) UpdateDelivery(ctx context.Context, d *webhook.Delivery) error {
	m := toDeliveryModel(d)
	res, err := s.deliveries().ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return wrap("update delivery", err)
	}
	if res.MatchedCount == 0 {
		return conductor.ErrDeliveryNotFound
	}
	return nil
}

// ListDueDeliveries returns Pending deliveries due at or before now.
func (s *Store) ListDueDeliveries(ctx context.Context, now time.Time, limit int) ([]*webhook.Delivery, error) {
	filter := bson.M{
		"status":          string(webhook.StatusPending),
		"next_attempt_at": bson.M{"$lte": now.UTC()},
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "next_attempt_at", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	return s.findDeliveries(ctx, filter, findOpts)
}

// ListDeliveries returns matching deliveries ordered by creation time.
func (s *Store) ListDeliveries(ctx context.Context, f webhook.Filter) ([]*webhook.Delivery, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if f.Limit > 0 {
		findOpts.SetLimit(int64(f.Limit))
	}
	return s.findDeliveries(ctx, deliveryFilter(f), findOpts)
}

// CountDeliveries returns the number of deliveries matching f.
func (s *Store) CountDeliveries(ctx context.Context, f webhook.Filter) (int64, error) {
	n, err := s.deliveries().CountDocuments(ctx, deliveryFilter(f))
	if err != nil {
		return 0, wrap("count deliveries", err)
	}
	return n, nil
}

func deliveryFilter(f webhook.Filter) bson.M {
	filter := bson.M{}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}
	if !f.JobID.IsNil() {
		filter["job_id"] = f.JobID.String()
	}
	return filter
}

func (s *Store) findDeliveries(ctx context.Context, filter bson.M, findOpts *options.FindOptionsBuilder) ([]*webhook.Delivery, error) {
	cursor, err := s.deliveries().Find(ctx, filter, findOpts)
	if err != nil {
		return nil, wrap("list deliveries", err)
	}
	defer cursor.Close(ctx)

	var models []deliveryModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, wrap("list deliveries decode", err)
	}

	out := make([]*webhook.Delivery, 0, len(models))
	for i := range models {
		d, convErr := fromDeliveryModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, d)
	}
	return out, nil
}
