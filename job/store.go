package job

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xraph/conductor/id"
)

// Filter narrows ListJobs and CountJobs. Zero fields match everything.
type Filter struct {
	Status   Status
	Priority Priority
	// Limit caps the number of results. Zero means no limit.
	Limit  int
	Offset int
}

// Matches reports whether j satisfies the status and priority filters.
func (f Filter) Matches(j *Job) bool {
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	if f.Priority != "" && j.Priority != f.Priority {
		return false
	}
	return true
}

// Update carries the fields written together with a status transition.
// Nil pointers and nil Result leave the stored value untouched.
type Update struct {
	At          time.Time
	Attempt     *int
	StartedAt   *time.Time
	CompletedAt *time.Time
	Result      json.RawMessage
	Error       *string
}

// Apply writes next and the update's fields onto j.
func (u Update) Apply(j *Job, next Status) {
	j.Status = next
	j.UpdatedAt = u.At
	if u.Attempt != nil {
		j.Attempt = *u.Attempt
	}
	if u.StartedAt != nil {
		t := *u.StartedAt
		j.StartedAt = &t
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		j.CompletedAt = &t
	}
	if u.Result != nil {
		j.Result = cloneRaw(u.Result)
	}
	if u.Error != nil {
		j.Error = *u.Error
	}
}

// Store is the durable persistence contract for jobs. Implementations must
// make every acknowledged write durable before returning.
type Store interface {
	// PutJob persists a new job. It fails with ErrJobAlreadyExists if the ID
	// is taken.
	PutJob(ctx context.Context, j *Job) error

	// GetJob returns the job or ErrJobNotFound.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateStatus atomically moves the job from expected to next and applies
	// u. It returns a *conductor.ConflictError if the current status is not
	// expected, and ErrJobNotFound if the job does not exist.
	UpdateStatus(ctx context.Context, jobID id.JobID, expected, next Status, u Update) (*Job, error)

	// ListJobs returns jobs matching f ordered by creation time.
	ListJobs(ctx context.Context, f Filter) ([]*Job, error)

	// CountJobs returns the number of jobs matching f's status and priority.
	CountJobs(ctx context.Context, f Filter) (int64, error)
}
