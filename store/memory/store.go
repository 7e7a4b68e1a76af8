// Package memory provides an in-memory Store. It is safe for concurrent use
// and intended for tests and development; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/webhook"
)

var (
	_ job.Store     = (*Store)(nil)
	_ webhook.Store = (*Store)(nil)
)

// Store is a map-backed implementation of store.Store. Every read returns
// a copy, so callers never alias stored records.
type Store struct {
	mu         sync.RWMutex
	jobs       map[string]*job.Job
	deliveries map[string]*webhook.Delivery
	closed     bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:       make(map[string]*job.Job),
		deliveries: make(map[string]*webhook.Delivery),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(context.Context) error { return nil }

// Ping fails only after Close.
func (m *Store) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return conductor.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Data stays readable.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// PutJob persists a new job.
func (m *Store) PutJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return conductor.ErrJobAlreadyExists
	}
	m.jobs[key] = j.Clone()
	return nil
}

// GetJob returns a copy of the job.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, conductor.ErrJobNotFound
	}
	return j.Clone(), nil
}

// UpdateStatus performs the compare-and-swap under the write lock.
func (m *Store) UpdateStatus(_ context.Context, jobID id.JobID, expected, next job.Status, u job.Update) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, conductor.ErrJobNotFound
	}
	if j.Status != expected {
		return nil, &conductor.ConflictError{
			ID:       jobID.String(),
			Expected: string(expected),
			Actual:   string(j.Status),
		}
	}
	if u.At.IsZero() {
		u.At = time.Now().UTC()
	}
	u.Apply(j, next)
	return j.Clone(), nil
}

// ListJobs returns matching jobs ordered by CreatedAt then ID.
func (m *Store) ListJobs(_ context.Context, f job.Filter) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if f.Matches(j) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.Before(out[b].CreatedAt)
		}
		return out[a].ID.String() < out[b].ID.String()
	})
	return page(out, f.Offset, f.Limit), nil
}

// CountJobs counts matching jobs.
func (m *Store) CountJobs(_ context.Context, f job.Filter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, j := range m.jobs {
		if f.Matches(j) {
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Webhook Store
// ──────────────────────────────────────────────────

// CreateDelivery persists a new delivery.
func (m *Store) CreateDelivery(_ context.Context, d *webhook.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := d.ID.String()
	if _, exists := m.deliveries[key]; exists {
		return conductor.ErrDeliveryAlreadyExists
	}
	m.deliveries[key] = d.Clone()
	return nil
}

// GetDelivery returns a copy of the delivery.
func (m *Store) GetDelivery(_ context.Context, deliveryID id.DeliveryID) (*webhook.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.deliveries[deliveryID.String()]
	if !ok {
		return nil, conductor.ErrDeliveryNotFound
	}
	return d.Clone(), nil
}

// UpdateDelivery replaces an existing delivery.
func (m *Store) UpdateDelivery(_ context.Context, d *webhook.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := d.ID.String()
	if _, ok := m.deliveries[key]; !ok {
		return conductor.ErrDeliveryNotFound
	}
	m.deliveries[key] = d.Clone()
	return nil
}

// ListDueDeliveries returns pending deliveries due at or before now.
func (m *Store) ListDueDeliveries(_ context.Context, now time.Time, limit int) ([]*webhook.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*webhook.Delivery
	for _, d := range m.deliveries {
		if d.Status == webhook.StatusPending && !d.NextAttemptAt.After(now) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].NextAttemptAt.Equal(out[b].NextAttemptAt) {
			return out[a].NextAttemptAt.Before(out[b].NextAttemptAt)
		}
		return out[a].ID.String() < out[b].ID.String()
	})
	return page(out, 0, limit), nil
}

// ListDeliveries returns matching deliveries ordered by CreatedAt then ID.
func (m *Store) ListDeliveries(_ context.Context, f webhook.Filter) ([]*webhook.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*webhook.Delivery
	for _, d := range m.deliveries {
		if f.Matches(d) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.Before(out[b].CreatedAt)
		}
		return out[a].ID.String() < out[b].ID.String()
	})
	return page(out, 0, f.Limit), nil
}

// CountDeliveries counts matching deliveries.
func (m *Store) CountDeliveries(_ context.Context, f webhook.Filter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, d := range m.deliveries {
		if f.Matches(d) {
			n++
		}
	}
	return n, nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
