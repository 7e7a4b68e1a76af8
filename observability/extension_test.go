package observability_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/observability"
	"github.com/xraph/conductor/webhook"
)

func setup(t *testing.T) (*observability.MetricsExtension, func() map[string]int64) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	e := observability.NewMetricsExtensionWithMeter(mp.Meter("test"))

	collect := func() map[string]int64 {
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(context.Background(), &rm); err != nil {
			t.Fatalf("collect: %v", err)
		}
		totals := make(map[string]int64)
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
					for _, dp := range sum.DataPoints {
						totals[m.Name] += dp.Value
					}
				}
			}
		}
		return totals
	}
	return e, collect
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:       id.NewJobID(),
		TaskName: "resize-image",
		Priority: job.PriorityLow,
	}
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := setup(t)
	if e.Name() != "observability-metrics" {
		t.Errorf("Name = %q", e.Name())
	}
}

func TestMetricsExtension_CountsEveryHook(t *testing.T) {
	e, collect := setup(t)
	ctx := context.Background()
	j := newTestJob()
	d := &webhook.Delivery{ID: id.NewDeliveryID(), JobID: j.ID}

	_ = e.OnJobSubmitted(ctx, j)
	_ = e.OnJobSubmitted(ctx, j)
	_ = e.OnJobStarted(ctx, j)
	_ = e.OnJobCompleted(ctx, j, time.Second)
	_ = e.OnJobFailed(ctx, j, errors.New("x"))
	_ = e.OnJobRetrying(ctx, j, errors.New("x"), 0)
	_ = e.OnJobCancelled(ctx, j)
	_ = e.OnJobRecovered(ctx, j)
	_ = e.OnDeliveryDelivered(ctx, d)
	_ = e.OnDeliveryDeadLettered(ctx, d)

	want := map[string]int64{
		"conductor.job.submitted":         2,
		"conductor.job.started":           1,
		"conductor.job.completed":         1,
		"conductor.job.failed":            1,
		"conductor.job.retried":           1,
		"conductor.job.cancelled":         1,
		"conductor.job.recovered":         1,
		"conductor.webhook.delivered":     1,
		"conductor.webhook.dead_lettered": 1,
	}
	got := collect()
	for name, n := range want {
		if got[name] != n {
			t.Errorf("%s = %d, want %d", name, got[name], n)
		}
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e, collect := setup(t)
	r := ext.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.Register(e)

	r.EmitJobCompleted(context.Background(), newTestJob(), time.Millisecond)
	if got := collect()["conductor.job.completed"]; got != 1 {
		t.Errorf("completed = %d, want 1", got)
	}
}
