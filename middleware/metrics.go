package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/reportflow/job"
)

// meterName is the instrumentation scope name for reportflow metrics.
const meterName = "github.com/xraph/reportflow"

// Metrics returns middleware that records per-job execution metrics using
// the global OTel MeterProvider.
//
// Instruments:
//   - reportflow.job.duration (Float64Histogram): execution time in
//     seconds, with attributes queue and status ("ok" or "error")
//   - reportflow.job.executions (Int64Counter): executions, with the same
//     attributes
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API hands back noop instruments.
	duration, _ := meter.Float64Histogram(
		"reportflow.job.duration",
		metric.WithDescription("Duration of report job execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"reportflow.job.executions",
		metric.WithDescription("Total number of report job executions"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("queue", j.Queue),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}
