// Package middleware provides composable middleware for job execution.
// Middleware wraps the handler call synchronously and can observe or alter
// execution: recover from panics, enforce timeouts, log, trace and measure.
package middleware

import (
	"context"
	"encoding/json"

	"github.com/xraph/conductor/job"
)

// Handler is the terminal function that executes job logic.
type Handler func(ctx context.Context) (json.RawMessage, error)

// Middleware wraps a Handler with cross-cutting logic. It must call next to
// continue the chain unless it short-circuits with an error.
type Middleware func(ctx context.Context, j *job.Job, next Handler) (json.RawMessage, error)

// Chain composes middleware into one. The first middleware is the
// outermost wrapper:
//
//	Chain(logging, timeout, recover) runs logging → timeout → recover → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (json.RawMessage, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) (json.RawMessage, error) {
				return mw(ctx, j, prev)
			}
		}
		return h(ctx)
	}
}
