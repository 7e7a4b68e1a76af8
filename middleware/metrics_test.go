package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/conductor"
	mw "github.com/xraph/conductor/middleware"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func statusOf(attrs attribute.Set) string {
	v, _ := attrs.Value("status")
	return v.AsString()
}

func TestMetrics_RecordsDuration(t *testing.T) {
	reader, mp := setupTestMeter()
	_, _ = mw.MetricsWithMeter(mp.Meter("test"))(context.Background(), newTestJob(), ok)

	m := findMetric(collectMetrics(t, reader), "conductor.job.duration")
	if m == nil {
		t.Fatal("conductor.job.duration not found")
	}
	hist, isHist := m.Data.(metricdata.Histogram[float64])
	if !isHist || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("histogram = %+v", m.Data)
	}
}

func TestMetrics_ExecutionStatus(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))
	ctx := context.Background()

	_, _ = m(ctx, newTestJob(), ok)
	_, _ = m(ctx, newTestJob(), func(context.Context) (json.RawMessage, error) {
		return nil, errors.New("boom")
	})
	_, _ = m(ctx, newTestJob(), func(context.Context) (json.RawMessage, error) {
		return nil, conductor.ErrTimeout
	})

	metric := findMetric(collectMetrics(t, reader), "conductor.job.executions")
	if metric == nil {
		t.Fatal("conductor.job.executions not found")
	}
	sum, isSum := metric.Data.(metricdata.Sum[int64])
	if !isSum {
		t.Fatalf("data = %T", metric.Data)
	}

	counts := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		counts[statusOf(dp.Attributes)] += dp.Value
	}
	for _, status := range []string{"ok", "error", "timeout"} {
		if counts[status] != 1 {
			t.Errorf("%s = %d, want 1", status, counts[status])
		}
	}
}
