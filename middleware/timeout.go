package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/job"
)

type outcome struct {
	result json.RawMessage
	err    error
}

// Timeout returns middleware that bounds each attempt by the job's Timeout,
// falling back to def when the job carries none. The handler runs on its own
// goroutine; when the deadline passes the attempt fails with an error
// wrapping ErrTimeout even if the handler ignores its context. A handler
// that never returns leaks its goroutine until it does.
func Timeout(def time.Duration, logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (json.RawMessage, error) {
		limit := j.Timeout
		if limit <= 0 {
			limit = def
		}
		if limit <= 0 {
			return next(ctx)
		}

		ctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan outcome, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- outcome{err: &PanicError{Value: r, Stack: debug.Stack()}}
				}
			}()
			res, err := next(ctx)
			done <- outcome{result: res, err: err}
		}()

		select {
		case o := <-done:
			return o.result, o.err
		case <-ctx.Done():
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ctx.Err()
			}
			logger.Warn("job execution timed out",
				slog.String("job_id", j.ID.String()),
				slog.String("task_name", j.TaskName),
				slog.Duration("timeout", limit),
			)
			return nil, fmt.Errorf("after %s: %w", limit, conductor.ErrTimeout)
		}
	}
}
