// Package worker provides the job execution engine: an Executor that
// invokes task handlers through middleware, and a Pool of goroutines that
// take job IDs from the queue, claim them and report the outcome to the
// lifecycle manager.
package worker

import (
	"context"
	"encoding/json"

	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/middleware"
)

// Executor runs a single attempt of a job through the middleware chain and
// the task executor. It never touches job state.
type Executor struct {
	tasks job.Executor
	mw    middleware.Middleware
}

// NewExecutor creates an Executor over tasks. The first middleware is the
// outermost wrapper.
func NewExecutor(tasks job.Executor, mws ...middleware.Middleware) *Executor {
	return &Executor{
		tasks: tasks,
		mw:    middleware.Chain(mws...),
	}
}

// Execute runs one attempt of j and returns the handler's result.
func (e *Executor) Execute(ctx context.Context, j *job.Job) (json.RawMessage, error) {
	terminal := func(ctx context.Context) (json.RawMessage, error) {
		return e.tasks.Execute(ctx, j.TaskName, j.Payload)
	}
	return e.mw(ctx, j, terminal)
}
