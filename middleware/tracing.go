package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/reportflow/job"
)

// tracerName is the instrumentation scope name for reportflow tracing.
const tracerName = "github.com/xraph/reportflow"

// Tracing returns middleware that wraps job execution in a span named
// reportflow.job.execute, using the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
//
// Span attributes: reportflow.job.id, reportflow.run.id,
// reportflow.tenant.id, reportflow.queue, reportflow.attempt.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "reportflow.job.execute",
			trace.WithAttributes(
				attribute.String("reportflow.job.id", j.ID.String()),
				attribute.String("reportflow.run.id", j.RunID.String()),
				attribute.String("reportflow.tenant.id", j.TenantID),
				attribute.String("reportflow.queue", j.Queue),
				attribute.Int("reportflow.attempt", j.Attempts+1),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
