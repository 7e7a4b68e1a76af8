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
	"github.com/xraph/conductor/job"
)

const jobColumns = `
	id, task_name, payload, priority, status, attempt, max_attempts,
	timeout_ms, result, error, started_at, completed_at, created_at, updated_at`

// PutJob persists a new job.
func (s *Store) PutJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conductor_jobs (`+jobColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13, $14
		)`,
		j.ID.String(), j.TaskName, []byte(j.Payload), string(j.Priority), string(j.Status),
		j.Attempt, j.MaxAttempts,
		j.Timeout.Milliseconds(), nullableJSON(j.Result), j.Error,
		j.StartedAt, j.CompletedAt, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conductor.ErrJobAlreadyExists
		}
		return fmt.Errorf("conductor/postgres: put job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM conductor_jobs WHERE id = $1`, jobID.String())

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conductor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conductor/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateStatus moves the job from expected to next in one conditional
// UPDATE. When no row matches, a follow-up read tells a missing job from a
// status conflict.
func (s *Store) UpdateStatus(ctx context.Context, jobID id.JobID, expected, next job.Status, u job.Update) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE conductor_jobs SET
			status       = $3,
			attempt      = COALESCE($4, attempt),
			started_at   = COALESCE($5, started_at),
			completed_at = COALESCE($6, completed_at),
			result       = COALESCE($7, result),
			error        = COALESCE($8, error),
			updated_at   = $9
		WHERE id = $1 AND status = $2
		RETURNING `+jobColumns,
		jobID.String(), string(expected), string(next),
		u.Attempt, u.StartedAt, u.CompletedAt, nullableJSON(u.Result), u.Error,
		u.At,
	)

	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("conductor/postgres: update job status: %w", err)
	}

	var actual string
	err = s.pool.QueryRow(ctx, `SELECT status FROM conductor_jobs WHERE id = $1`, jobID.String()).Scan(&actual)
	if err != nil {
		if isNoRows(err) {
			return nil, conductor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conductor/postgres: read job status: %w", err)
	}
	return nil, &conductor.ConflictError{
		ID:       jobID.String(),
		Expected: string(expected),
		Actual:   actual,
	}
}

// ListJobs returns jobs matching f ordered by creation time.
func (s *Store) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	where, args := jobWhere(f)
	query := `SELECT ` + jobColumns + ` FROM conductor_jobs` + where + ` ORDER BY created_at ASC, id ASC`

	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conductor/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching f's status and priority.
func (s *Store) CountJobs(ctx context.Context, f job.Filter) (int64, error) {
	where, args := jobWhere(f)
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conductor_jobs`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("conductor/postgres: count jobs: %w", err)
	}
	return count, nil
}

func jobWhere(f job.Filter) (string, []any) {
	var conds []string
	var args []any
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Priority != "" {
		args = append(args, string(f.Priority))
		conds = append(conds, fmt.Sprintf("priority = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		rawID     string
		payload   []byte
		priority  string
		status    string
		timeoutMs int64
		result    []byte
		j         job.Job
	)
	err := row.Scan(
		&rawID, &j.TaskName, &payload, &priority, &status, &j.Attempt, &j.MaxAttempts,
		&timeoutMs, &result, &j.Error, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.ID, err = id.ParseJobID(rawID)
	if err != nil {
		return nil, fmt.Errorf("conductor/postgres: parse job id %q: %w", rawID, err)
	}
	j.Payload = json.RawMessage(payload)
	j.Priority = job.Priority(priority)
	j.Status = job.Status(status)
	j.Timeout = time.Duration(timeoutMs) * time.Millisecond
	if result != nil {
		j.Result = json.RawMessage(result)
	}
	j.StartedAt = utcPtr(j.StartedAt)
	j.CompletedAt = utcPtr(j.CompletedAt)
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("conductor/postgres: scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conductor/postgres: iterate jobs: %w", err)
	}
	return jobs, nil
}

// nullableJSON maps a nil document to SQL NULL.
func nullableJSON(raw json.RawMessage) []byte {
	if raw == nil {
		return nil
	}
	return []byte(raw)
}
