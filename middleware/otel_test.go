package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	mw "github.com/xraph/reportflow/middleware"
)

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
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

func TestTracingSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	m := mw.TracingWithTracer(tp.Tracer("test"))
	j := newTestJob()

	_ = m(context.Background(), j, func(context.Context) error { return errors.New("boom") })

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "reportflow.job.execute" {
		t.Errorf("span name = %q", span.Name())
	}
	if span.Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", span.Status().Code)
	}

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if attrs["reportflow.run.id"].AsString() != j.RunID.String() {
		t.Errorf("run id attr = %v", attrs["reportflow.run.id"])
	}
	if attrs["reportflow.tenant.id"].AsString() != "t1" {
		t.Errorf("tenant attr = %v", attrs["reportflow.tenant.id"])
	}
	if attrs["reportflow.attempt"].AsInt64() != 2 {
		t.Errorf("attempt attr = %v", attrs["reportflow.attempt"])
	}
}

func TestMetricsRecordsDurationAndExecutions(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := mw.MetricsWithMeter(mp.Meter("test"))

	_ = m(context.Background(), newTestJob(), func(context.Context) error { return nil })
	_ = m(context.Background(), newTestJob(), func(context.Context) error { return errors.New("x") })

	rm := collectMetrics(t, reader)

	dur := findMetric(rm, "reportflow.job.duration")
	if dur == nil {
		t.Fatal("reportflow.job.duration not found")
	}
	hist, ok := dur.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 2 {
		t.Fatalf("duration data = %+v", dur.Data)
	}

	exec := findMetric(rm, "reportflow.job.executions")
	if exec == nil {
		t.Fatal("reportflow.job.executions not found")
	}
	sum, ok := exec.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("executions data = %T", exec.Data)
	}
	byStatus := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value("status")
		byStatus[v.AsString()] += dp.Value
	}
	if byStatus["ok"] != 1 || byStatus["error"] != 1 {
		t.Errorf("executions by status = %v", byStatus)
	}
}
