package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/webhook"
)

const deliveryColumns = `
	id, job_id, job_attempt, status, attempt, max_attempts, next_attempt_at,
	last_error, last_status_code, delivered_at, body, created_at, updated_at`

// CreateDelivery persists a new delivery.
func (s *Store) CreateDelivery(ctx context.Context, d *webhook.Delivery) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conductor_deliveries (`+deliveryColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13
		)`,
		d.ID.String(), d.JobID.String(), d.JobAttempt, string(d.Status), d.Attempt, d.MaxAttempts, d.NextAttemptAt,
		d.LastError, d.LastStatusCode, d.DeliveredAt, string(d.Body), d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conductor.ErrDeliveryAlreadyExists
		}
		return fmt.Errorf("conductor/postgres: create delivery: %w", err)
	}
	return nil
}

// GetDelivery retrieves a delivery by ID.
func (s *Store) GetDelivery(ctx context.Context, deliveryID id.DeliveryID) (*webhook.Delivery, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM conductor_deliveries WHERE id = $1`, deliveryID.String())

	d, err := scanDelivery(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conductor.ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("conductor/postgres: get delivery: %w", err)
	}
	return d, nil
}

// UpdateDelivery overwrites the mutable fields of an existing delivery.
func (s *Store) UpdateDelivery(ctx context.Context, d *webhook.Delivery) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conductor_deliveries SET
			status = $2, attempt = $3, max_attempts = $4, next_attempt_at = $5,
			last_error = $6, last_status_code = $7, delivered_at = $8, updated_at = $9
		WHERE id = $1`,
		d.ID.String(), string(d.Status), d.Attempt, d.MaxAttempts, d.NextAttemptAt,
		d.LastError, d.LastStatusCode, d.DeliveredAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("conductor/postgres: update delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conductor.ErrDeliveryNotFound
	}
	return nil
}

// ListDueDeliveries returns Pending deliveries due at or before now, oldest
// first.
func (s *Store) ListDueDeliveries(ctx context.Context, now time.Time, limit int) ([]*webhook.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM conductor_deliveries
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY next_attempt_at ASC, id ASC`
	args := []any{string(webhook.StatusPending), now}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conductor/postgres: list due deliveries: %w", err)
	}
	defer rows.Close()

	return collectDeliveries(rows)
}

// ListDeliveries returns deliveries matching f ordered by creation time.
func (s *Store) ListDeliveries(ctx context.Context, f webhook.Filter) ([]*webhook.Delivery, error) {
	where, args := deliveryWhere(f)
	query := `SELECT ` + deliveryColumns + ` FROM conductor_deliveries` + where + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conductor/postgres: list deliveries: %w", err)
	}
	defer rows.Close()

	return collectDeliveries(rows)
}

// CountDeliveries returns the number of deliveries matching f.
func (s *Store) CountDeliveries(ctx context.Context, f webhook.Filter) (int64, error) {
	where, args := deliveryWhere(f)
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conductor_deliveries`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("conductor/postgres: count deliveries: %w", err)
	}
	return count, nil
}

func deliveryWhere(f webhook.Filter) (string, []any) {
	var conds []string
	var args []any
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if !f.JobID.IsNil() {
		args = append(args, f.JobID.String())
		conds = append(conds, fmt.Sprintf("job_id = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanDelivery(row pgx.Row) (*webhook.Delivery, error) {
	var (
		rawID    string
		rawJobID string
		status   string
		body     string
		d        webhook.Delivery
	)
	err := row.Scan(
		&rawID, &rawJobID, &d.JobAttempt, &status, &d.Attempt, &d.MaxAttempts, &d.NextAttemptAt,
		&d.LastError, &d.LastStatusCode, &d.DeliveredAt, &body, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if d.ID, err = id.ParseDeliveryID(rawID); err != nil {
		return nil, fmt.Errorf("conductor/postgres: parse delivery id %q: %w", rawID, err)
	}
	if d.JobID, err = id.ParseJobID(rawJobID); err != nil {
		return nil, fmt.Errorf("conductor/postgres: parse job id %q: %w", rawJobID, err)
	}
	d.Status = webhook.Status(status)
	d.Body = json.RawMessage(body)
	d.NextAttemptAt = d.NextAttemptAt.UTC()
	d.DeliveredAt = utcPtr(d.DeliveredAt)
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}

func collectDeliveries(rows pgx.Rows) ([]*webhook.Delivery, error) {
	var out []*webhook.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("conductor/postgres: scan delivery: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conductor/postgres: iterate deliveries: %w", err)
	}
	return out, nil
}
