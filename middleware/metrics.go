package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/job"
)

// meterName is the instrumentation scope for conductor metrics.
const meterName = "github.com/xraph/conductor"

// Metrics returns middleware recording per-attempt metrics on the global
// MeterProvider.
//
// Instruments:
//   - conductor.job.duration (Float64Histogram, seconds)
//   - conductor.job.executions (Int64Counter)
//
// Both carry task_name, priority and status ("ok", "error" or "timeout").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the OTel API hands back noop instruments.
	duration, _ := meter.Float64Histogram(
		"conductor.job.duration",
		metric.WithDescription("Duration of job execution attempts in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"conductor.job.executions",
		metric.WithDescription("Total number of job execution attempts"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) (json.RawMessage, error) {
		start := time.Now()
		res, err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		switch {
		case errors.Is(err, conductor.ErrTimeout):
			status = "timeout"
		case err != nil:
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("task_name", j.TaskName),
			attribute.String("priority", string(j.Priority)),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)
		return res, err
	}
}
