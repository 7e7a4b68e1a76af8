package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/xraph/conductor/job"
)

// Logging returns middleware that logs each execution attempt.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (json.RawMessage, error) {
		logger.Debug("job attempt started",
			slog.String("job_id", j.ID.String()),
			slog.String("task_name", j.TaskName),
			slog.String("priority", string(j.Priority)),
			slog.Int("attempt", j.Attempt),
		)

		start := time.Now()
		res, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Info("job attempt failed",
				slog.String("job_id", j.ID.String()),
				slog.String("task_name", j.TaskName),
				slog.Int("attempt", j.Attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Debug("job attempt succeeded",
				slog.String("job_id", j.ID.String()),
				slog.String("task_name", j.TaskName),
				slog.Duration("elapsed", elapsed),
			)
		}
		return res, err
	}
}
