package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/webhook"
)

// CreateDelivery stores a new delivery and indexes it. Pending deliveries
// enter the due set.
func (s *Store) CreateDelivery(ctx context.Context, d *webhook.Delivery) error {
	dID := d.ID.String()
	args := flatten([]any{dID, scoreArg(d.CreatedAt), dueArg(d)}, deliveryFields(d))

	created, err := createDeliveryScript.Run(ctx, s.client,
		[]string{
			s.keys.delivery(dID), s.keys.deliveries(), s.keys.jobDeliveries(d.JobID.String()),
			s.keys.due(), s.keys.deliveryStatus(string(d.Status)),
		},
		args...,
	).Int()
	if err != nil {
		return wrap("create delivery", err)
	}
	if created == 0 {
		return conductor.ErrDeliveryAlreadyExists
	}
	return nil
}

// GetDelivery retrieves a delivery by ID.
func (s *Store) GetDelivery(ctx context.Context, deliveryID id.DeliveryID) (*webhook.Delivery, error) {
	vals, err := s.client.HGetAll(ctx, s.keys.delivery(deliveryID.String())).Result()
	if err != nil {
		return nil, wrap("get delivery", err)
	}
	if len(vals) == 0 {
		return nil, conductor.ErrDeliveryNotFound
	}
	return mapToDelivery(vals)
}

// UpdateDelivery overwrites an existing delivery.
func (s *Store) UpdateDelivery(ctx context.Context, d *webhook.Delivery) error {
	dID := d.ID.String()
	args := flatten([]any{dID, dueArg(d)}, deliveryFields(d))

	keys := append([]string{s.keys.delivery(dID), s.keys.due(), s.keys.deliveries()},
		s.keys.deliveryStatusKeys(d.Status)...)
	updated, err := updateDeliveryScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return wrap("update delivery", err)
	}
	if updated == 0 {
		return conductor.ErrDeliveryNotFound
	}
	return nil
}

// ListDueDeliveries reads the due set up to now.
func (s *Store) ListDueDeliveries(ctx context.Context, now time.Time, limit int) ([]*webhook.Delivery, error) {
	rng := &goredis.ZRangeBy{Min: "-inf", Max: scoreArg(now)}
	if limit > 0 {
		rng.Count = int64(limit)
	}
	ids, err := s.client.ZRangeByScore(ctx, s.keys.due(), rng).Result()
	if err != nil {
		return nil, wrap("list due deliveries", err)
	}
	return s.loadDeliveries(ctx, ids, webhook.Filter{Status: webhook.StatusPending})
}

// ListDeliveries returns matching deliveries ordered by creation time.
func (s *Store) ListDeliveries(ctx context.Context, f webhook.Filter) ([]*webhook.Delivery, error) {
	ids, err := s.indexPage(ctx, s.keys.deliveryIndex(f), 0, f.Limit)
	if err != nil {
		return nil, wrap("list deliveries", err)
	}
	return s.loadDeliveries(ctx, ids, webhook.Filter{})
}

// CountDeliveries counts matching deliveries from the indexes.
func (s *Store) CountDeliveries(ctx context.Context, f webhook.Filter) (int64, error) {
	n, err := s.indexCard(ctx, s.keys.deliveryIndex(f))
	return n, wrap("count deliveries", err)
}

func (s *Store) loadDeliveries(ctx context.Context, ids []string, f webhook.Filter) ([]*webhook.Delivery, error) {
	keys := make([]string, len(ids))
	for i, dID := range ids {
		keys[i] = s.keys.delivery(dID)
	}
	maps, err := s.hgetAll(ctx, keys)
	if err != nil {
		return nil, wrap("load deliveries", err)
	}
	out := make([]*webhook.Delivery, 0, len(maps))
	for _, m := range maps {
		d, convErr := mapToDelivery(m)
		if convErr != nil {
			return nil, convErr
		}
		if f.Matches(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

// ── helpers ──

// dueArg is the due-set score for Pending deliveries and "" otherwise.
func dueArg(d *webhook.Delivery) string {
	if d.Status != webhook.StatusPending {
		return ""
	}
	return scoreArg(d.NextAttemptAt)
}

func deliveryFields(d *webhook.Delivery) [][2]string {
	return [][2]string{
		{"id", d.ID.String()},
		{"job_id", d.JobID.String()},
		{"job_attempt", strconv.Itoa(d.JobAttempt)},
		{"status", string(d.Status)},
		{"attempt", strconv.Itoa(d.Attempt)},
		{"max_attempts", strconv.Itoa(d.MaxAttempts)},
		{"next_attempt_at", formatTime(d.NextAttemptAt)},
		{"last_error", d.LastError},
		{"last_status_code", strconv.Itoa(d.LastStatusCode)},
		{"delivered_at", formatTimePtr(d.DeliveredAt)},
		{"body", string(d.Body)},
		{"created_at", formatTime(d.CreatedAt)},
		{"updated_at", formatTime(d.UpdatedAt)},
	}
}

func mapToDelivery(m map[string]string) (*webhook.Delivery, error) {
	dID, err := id.ParseDeliveryID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: parse delivery id: %w", err)
	}
	jID, err := id.ParseJobID(m["job_id"])
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: parse job id: %w", err)
	}

	d := &webhook.Delivery{
		Entity: conductor.Entity{
			CreatedAt: parseTime(m["created_at"]),
			UpdatedAt: parseTime(m["updated_at"]),
		},
		ID:             dID,
		JobID:          jID,
		JobAttempt:     atoi(m["job_attempt"]),
		Status:         webhook.Status(m["status"]),
		Attempt:        atoi(m["attempt"]),
		MaxAttempts:    atoi(m["max_attempts"]),
		NextAttemptAt:  parseTime(m["next_attempt_at"]),
		LastError:      m["last_error"],
		LastStatusCode: atoi(m["last_status_code"]),
		DeliveredAt:    parseTimePtr(m["delivered_at"]),
	}
	if v := m["body"]; v != "" {
		d.Body = json.RawMessage(v)
	}
	return d, nil
}
