package middleware

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/conductor/job"
)

// tracerName is the instrumentation scope for conductor tracing.
const tracerName = "github.com/xraph/conductor"

// Tracing returns middleware that wraps each attempt in a span from the
// global TracerProvider. With no provider configured it is a noop.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using tracer.
//
// Span attributes: conductor.job.id, conductor.job.task, conductor.job.priority,
// conductor.job.attempt. Failed attempts set codes.Error.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (json.RawMessage, error) {
		ctx, span := tracer.Start(ctx, "conductor.job.execute",
			trace.WithAttributes(
				attribute.String("conductor.job.id", j.ID.String()),
				attribute.String("conductor.job.task", j.TaskName),
				attribute.String("conductor.job.priority", string(j.Priority)),
				attribute.Int("conductor.job.attempt", j.Attempt),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		res, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return res, err
	}
}
