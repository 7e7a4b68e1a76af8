package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/webhook"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	bun.BaseModel `bun:"table:conductor_jobs"`

	ID          string     `bun:"id,pk"`
	TaskName    string     `bun:"task_name,notnull"`
	Payload     string     `bun:"payload,notnull"`
	Priority    string     `bun:"priority,notnull"`
	Status      string     `bun:"status,notnull"`
	Attempt     int        `bun:"attempt,notnull"`
	MaxAttempts int        `bun:"max_attempts,notnull"`
	TimeoutMs   int64      `bun:"timeout_ms,notnull"`
	Result      *string    `bun:"result"`
	Error       string     `bun:"error,notnull"`
	StartedAt   *time.Time `bun:"started_at"`
	CompletedAt *time.Time `bun:"completed_at"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:          j.ID.String(),
		TaskName:    j.TaskName,
		Payload:     string(j.Payload),
		Priority:    string(j.Priority),
		Status:      string(j.Status),
		Attempt:     j.Attempt,
		MaxAttempts: j.MaxAttempts,
		TimeoutMs:   j.Timeout.Milliseconds(),
		Result:      rawPtr(j.Result),
		Error:       j.Error,
		StartedAt:   utcPtr(j.StartedAt),
		CompletedAt: utcPtr(j.CompletedAt),
		CreatedAt:   j.CreatedAt.UTC(),
		UpdatedAt:   j.UpdatedAt.UTC(),
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conductor/bun: parse job id %q: %w", m.ID, err)
	}

	return &job.Job{
		Entity: conductor.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:          parsedID,
		TaskName:    m.TaskName,
		Payload:     json.RawMessage(m.Payload),
		Priority:    job.Priority(m.Priority),
		Status:      job.Status(m.Status),
		Attempt:     m.Attempt,
		MaxAttempts: m.MaxAttempts,
		Timeout:     time.Duration(m.TimeoutMs) * time.Millisecond,
		Result:      ptrRaw(m.Result),
		Error:       m.Error,
		StartedAt:   utcPtr(m.StartedAt),
		CompletedAt: utcPtr(m.CompletedAt),
	}, nil
}

// ── Delivery model ────────────────────────────────────────────────

type deliveryModel struct {
	bun.BaseModel `bun:"table:conductor_deliveries"`

	ID             string     `bun:"id,pk"`
	JobID          string     `bun:"job_id,notnull"`
	JobAttempt     int        `bun:"job_attempt,notnull"`
	Status         string     `bun:"status,notnull"`
	Attempt        int        `bun:"attempt,notnull"`
	MaxAttempts    int        `bun:"max_attempts,notnull"`
	NextAttemptAt  time.Time  `bun:"next_attempt_at,notnull"`
	LastError      string     `bun:"last_error,notnull"`
	LastStatusCode int        `bun:"last_status_code,notnull"`
	DeliveredAt    *time.Time `bun:"delivered_at"`
	Body           string     `bun:"body,notnull"`
	CreatedAt      time.Time  `bun:"created_at,notnull"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull"`
}

func toDeliveryModel(d *webhook.Delivery) *deliveryModel {
	return &deliveryModel{
		ID:             d.ID.String(),
		JobID:          d.JobID.String(),
		JobAttempt:     d.JobAttempt,
		Status:         string(d.Status),
		Attempt:        d.Attempt,
		MaxAttempts:    d.MaxAttempts,
		NextAttemptAt:  d.NextAttemptAt.UTC(),
		LastError:      d.LastError,
		LastStatusCode: d.LastStatusCode,
		DeliveredAt:    utcPtr(d.DeliveredAt),
		Body:           string(d.Body),
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
}

func fromDeliveryModel(m *deliveryModel) (*webhook.Delivery, error) {
	deliveryID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conductor/bun: parse delivery id %q: %w", m.ID, err)
	}
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("conductor/bun: parse job id %q: %w", m.JobID, err)
	}

	return &webhook.Delivery{
		Entity: conductor.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:             deliveryID,
		JobID:          jobID,
		JobAttempt:     m.JobAttempt,
		Status:         webhook.Status(m.Status),
		Attempt:        m.Attempt,
		MaxAttempts:    m.MaxAttempts,
		NextAttemptAt:  m.NextAttemptAt.UTC(),
		LastError:      m.LastError,
		LastStatusCode: m.LastStatusCode,
		DeliveredAt:    utcPtr(m.DeliveredAt),
		Body:           json.RawMessage(m.Body),
	}, nil
}

// ── helpers ───────────────────────────────────────────────────────

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func rawPtr(r json.RawMessage) *string {
	if r == nil {
		return nil
	}
	s := string(r)
	return &s
}

func ptrRaw(s *string) json.RawMessage {
	if s == nil {
		return nil
	}
	return json.RawMessage(*s)
}
