package mongo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/webhook"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	ID          string     `bson:"_id"`
	TaskName    string     `bson:"task_name"`
	Payload     string     `bson:"payload"`
	Priority    string     `bson:"priority"`
	Status      string     `bson:"status"`
	Attempt     int        `bson:"attempt"`
	MaxAttempts int        `bson:"max_attempts"`
	Timeout     int64      `bson:"timeout"`
	Result      string     `bson:"result,omitempty"`
	Error       string     `bson:"error,omitempty"`
	StartedAt   *time.Time `bson:"started_at,omitempty"`
	CompletedAt *time.Time `bson:"completed_at,omitempty"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
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
		Timeout:     j.Timeout.Nanoseconds(),
		Result:      string(j.Result),
		Error:       j.Error,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conductor/mongo: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		Entity: conductor.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:          parsedID,
		TaskName:    m.TaskName,
		Payload:     rawOrNil(m.Payload),
		Priority:    job.Priority(m.Priority),
		Status:      job.Status(m.Status),
		Attempt:     m.Attempt,
		MaxAttempts: m.MaxAttempts,
		Timeout:     time.Duration(m.Timeout),
		Result:      rawOrNil(m.Result),
		Error:       m.Error,
		StartedAt:   utcPtr(m.StartedAt),
		CompletedAt: utcPtr(m.CompletedAt),
	}
	return j, nil
}

// ── Delivery model ────────────────────────────────────────────────

type deliveryModel struct {
	ID             string     `bson:"_id"`
	JobID          string     `bson:"job_id"`
	JobAttempt     int        `bson:"job_attempt"`
	Status         string     `bson:"status"`
	Attempt        int        `bson:"attempt"`
	MaxAttempts    int        `bson:"max_attempts"`
	NextAttemptAt  time.Time  `bson:"next_attempt_at"`
	LastError      string     `bson:"last_error,omitempty"`
	LastStatusCode int        `bson:"last_status_code,omitempty"`
	DeliveredAt    *time.Time `bson:"delivered_at,omitempty"`
	Body           string     `bson:"body"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
}

func toDeliveryModel(d *webhook.Delivery) *deliveryModel {
	return &deliveryModel{
		ID:             d.ID.String(),
		JobID:          d.JobID.String(),
		JobAttempt:     d.JobAttempt,
		Status:         string(d.Status),
		Attempt:        d.Attempt,
		MaxAttempts:    d.MaxAttempts,
		NextAttemptAt:  d.NextAttemptAt,
		LastError:      d.LastError,
		LastStatusCode: d.LastStatusCode,
		DeliveredAt:    d.DeliveredAt,
		Body:           string(d.Body),
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func fromDeliveryModel(m *deliveryModel) (*webhook.Delivery, error) {
	dID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conductor/mongo: parse delivery id %q: %w", m.ID, err)
	}
	jID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("conductor/mongo: parse job id %q: %w", m.JobID, err)
	}

	return &webhook.Delivery{
		Entity: conductor.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:             dID,
		JobID:          jID,
		JobAttempt:     m.JobAttempt,
		Status:         webhook.Status(m.Status),
		Attempt:        m.Attempt,
		MaxAttempts:    m.MaxAttempts,
		NextAttemptAt:  m.NextAttemptAt.UTC(),
		LastError:      m.LastError,
		LastStatusCode: m.LastStatusCode,
		DeliveredAt:    utcPtr(m.DeliveredAt),
		Body:           rawOrNil(m.Body),
	}, nil
}

func rawOrNil(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
