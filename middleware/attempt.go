package middleware

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

// Attempt identifies the execution a handler is running in.
type Attempt struct {
	JobID    id.JobID
	TaskName string
	Number   int
	Max      int
}

// IdempotencyKey returns "<jobId>:<attempt>".
func (a Attempt) IdempotencyKey() string {
	return a.JobID.String() + ":" + strconv.Itoa(a.Number)
}

type attemptKey struct{}

// AttemptFrom returns the attempt stored by the Annotate middleware.
func AttemptFrom(ctx context.Context) (Attempt, bool) {
	a, ok := ctx.Value(attemptKey{}).(Attempt)
	return a, ok
}

// Annotate returns middleware that stores the job's identity and attempt
// number in the context so handlers can make side effects idempotent.
func Annotate() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (json.RawMessage, error) {
		ctx = context.WithValue(ctx, attemptKey{}, Attempt{
			JobID:    j.ID,
			TaskName: j.TaskName,
			Number:   j.Attempt,
			Max:      j.MaxAttempts,
		})
		return next(ctx)
	}
}
