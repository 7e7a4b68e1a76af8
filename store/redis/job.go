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
	"github.com/xraph/conductor/job"
)

// PutJob stores the job as a Hash and indexes it by creation time, status
// and priority.
func (s *Store) PutJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	args := flatten([]any{jID, scoreArg(j.CreatedAt)}, jobFields(j))

	created, err := putScript.Run(ctx, s.client,
		[]string{s.keys.job(jID), s.keys.jobs(), s.keys.jobStatus(string(j.Status)), s.keys.jobPriority(string(j.Priority))},
		args...,
	).Int()
	if err != nil {
		return wrap("put job", err)
	}
	if created == 0 {
		return conductor.ErrJobAlreadyExists
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, s.keys.job(jobID.String())).Result()
	if err != nil {
		return nil, wrap("get job", err)
	}
	if len(vals) == 0 {
		return nil, conductor.ErrJobNotFound
	}
	return mapToJob(vals)
}

// UpdateStatus runs the compare-and-swap script.
func (s *Store) UpdateStatus(ctx context.Context, jobID id.JobID, expected, next job.Status, u job.Update) (*job.Job, error) {
	if u.At.IsZero() {
		u.At = time.Now().UTC()
	}
	jID := jobID.String()
	args := flatten([]any{jID, string(expected)}, updateFields(next, u))

	reply, err := casScript.Run(ctx, s.client,
		[]string{s.keys.job(jID), s.keys.jobStatus(string(expected)), s.keys.jobStatus(string(next)), s.keys.jobs()},
		args...,
	).Slice()
	if err != nil {
		return nil, wrap("update status", err)
	}

	code, _ := reply[0].(int64)
	switch code {
	case 0:
		return nil, conductor.ErrJobNotFound
	case 1:
		actual, _ := reply[1].(string)
		return nil, &conductor.ConflictError{
			ID:       jID,
			Expected: string(expected),
			Actual:   actual,
		}
	}
	fields, _ := reply[1].([]any)
	return mapToJob(pairsToMap(fields))
}

// ListJobs returns jobs matching f ordered by creation time. Only the ids
// of the requested page are loaded.
func (s *Store) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	ids, err := s.indexPage(ctx, s.keys.jobIndex(f), f.Offset, f.Limit)
	if err != nil {
		return nil, wrap("list jobs", err)
	}

	keys := make([]string, len(ids))
	for i, jID := range ids {
		keys[i] = s.keys.job(jID)
	}
	maps, err := s.hgetAll(ctx, keys)
	if err != nil {
		return nil, wrap("list jobs", err)
	}

	jobs := make([]*job.Job, 0, len(maps))
	for _, m := range maps {
		j, convErr := mapToJob(m)
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CountJobs counts matching jobs from the indexes.
func (s *Store) CountJobs(ctx context.Context, f job.Filter) (int64, error) {
	n, err := s.indexCard(ctx, s.keys.jobIndex(f))
	return n, wrap("count jobs", err)
}

// indexPage returns one page of ids from a single index, or from the
// intersection of two. Both orders are created_at, then id.
func (s *Store) indexPage(ctx context.Context, index []string, offset, limit int) ([]string, error) {
	if len(index) == 1 {
		stop := int64(-1)
		if limit > 0 {
			stop = int64(offset + limit - 1)
		}
		return s.client.ZRange(ctx, index[0], int64(offset), stop).Result()
	}
	ids, err := s.client.ZInter(ctx, &goredis.ZStore{Keys: index, Aggregate: "MIN"}).Result()
	if err != nil {
		return nil, err
	}
	return page(ids, offset, limit), nil
}

// indexCard counts the members of one index or of the intersection of two.
func (s *Store) indexCard(ctx context.Context, index []string) (int64, error) {
	if len(index) == 1 {
		return s.client.ZCard(ctx, index[0]).Result()
	}
	return s.client.ZInterCard(ctx, 0, index...).Result()
}

// ── helpers ──

func jobFields(j *job.Job) [][2]string {
	return [][2]string{
		{"id", j.ID.String()},
		{"task_name", j.TaskName},
		{"payload", string(j.Payload)},
		{"priority", string(j.Priority)},
		{"status", string(j.Status)},
		{"attempt", strconv.Itoa(j.Attempt)},
		{"max_attempts", strconv.Itoa(j.MaxAttempts)},
		{"timeout", strconv.FormatInt(int64(j.Timeout), 10)},
		{"result", string(j.Result)},
		{"error", j.Error},
		{"started_at", formatTimePtr(j.StartedAt)},
		{"completed_at", formatTimePtr(j.CompletedAt)},
		{"created_at", formatTime(j.CreatedAt)},
		{"updated_at", formatTime(j.UpdatedAt)},
	}
}

// updateFields lists only the fields u sets, so untouched values survive.
func updateFields(next job.Status, u job.Update) [][2]string {
	fields := [][2]string{
		{"status", string(next)},
		{"updated_at", formatTime(u.At)},
	}
	if u.Attempt != nil {
		fields = append(fields, [2]string{"attempt", strconv.Itoa(*u.Attempt)})
	}
	if u.StartedAt != nil {
		fields = append(fields, [2]string{"started_at", formatTime(*u.StartedAt)})
	}
	if u.CompletedAt != nil {
		fields = append(fields, [2]string{"completed_at", formatTime(*u.CompletedAt)})
	}
	if u.Result != nil {
		fields = append(fields, [2]string{"result", string(u.Result)})
	}
	if u.Error != nil {
		fields = append(fields, [2]string{"error", *u.Error})
	}
	return fields
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: parse job id: %w", err)
	}
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: conductor.Entity{
			CreatedAt: parseTime(m["created_at"]),
			UpdatedAt: parseTime(m["updated_at"]),
		},
		ID:          jID,
		TaskName:    m["task_name"],
		Priority:    job.Priority(m["priority"]),
		Status:      job.Status(m["status"]),
		Attempt:     atoi(m["attempt"]),
		MaxAttempts: atoi(m["max_attempts"]),
		Timeout:     time.Duration(timeout),
		Error:       m["error"],
		StartedAt:   parseTimePtr(m["started_at"]),
		CompletedAt: parseTimePtr(m["completed_at"]),
	}
	if v := m["payload"]; v != "" {
		j.Payload = json.RawMessage(v)
	}
	if v := m["result"]; v != "" {
		j.Result = json.RawMessage(v)
	}
	return j, nil
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
