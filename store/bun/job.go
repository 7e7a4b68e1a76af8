package bunstore

import (
	"context"
	"fmt"
	"math"

	"github.com/uptrace/bun"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

// PutJob persists a new job.
func (s *Store) PutJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.NewInsert().Model(toJobModel(j)).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return conductor.ErrJobAlreadyExists
		}
		return fmt.Errorf("conductor/bun: put job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return getJob(ctx, s.db, jobID)
}

func getJob(ctx context.Context, db bun.IDB, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, conductor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conductor/bun: get job: %w", err)
	}
	return fromJobModel(m)
}

// UpdateStatus moves the job from expected to next inside a transaction.
// The UPDATE is conditional on the expected status, so concurrent callers
// racing on the same row resolve to a single winner on every dialect.
func (s *Store) UpdateStatus(ctx context.Context, jobID id.JobID, expected, next job.Status, u job.Update) (*job.Job, error) {
	var out *job.Job
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := getJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if current.Status != expected {
			return conflict(jobID, expected, current.Status)
		}

		u.Apply(current, next)
		res, err := tx.NewUpdate().
			Model(toJobModel(current)).
			WherePK().
			Where("status = ?", string(expected)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("conductor/bun: update job status: %w", err)
		}
		rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
		if rows == 0 {
			actual, err := getJob(ctx, tx, jobID)
			if err != nil {
				return err
			}
			return conflict(jobID, expected, actual.Status)
		}
		out = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func conflict(jobID id.JobID, expected, actual job.Status) error {
	return &conductor.ConflictError{
		ID:       jobID.String(),
		Expected: string(expected),
		Actual:   string(actual),
	}
}

// ListJobs returns jobs matching f ordered by creation time.
func (s *Store) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models)
	q = applyJobFilter(q, f).OrderExpr("created_at ASC, id ASC")

	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		if f.Limit <= 0 {
			// SQLite rejects OFFSET without LIMIT.
			q = q.Limit(math.MaxInt32)
		}
		q = q.Offset(f.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("conductor/bun: list jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("conductor/bun: list jobs convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching f's status and priority.
func (s *Store) CountJobs(ctx context.Context, f job.Filter) (int64, error) {
	q := s.db.NewSelect().Model((*jobModel)(nil))
	count, err := applyJobFilter(q, f).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("conductor/bun: count jobs: %w", err)
	}
	return int64(count), nil
}

func applyJobFilter(q *bun.SelectQuery, f job.Filter) *bun.SelectQuery {
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.Priority != "" {
		q = q.Where("priority = ?", string(f.Priority))
	}
	return q
}
