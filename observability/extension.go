package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/ext"
	"github.com/xraph/reportflow/job"
	"github.com/xraph/reportflow/run"
	"github.com/xraph/reportflow/schedule"
)

// Compile-time interface checks.
var (
	_ ext.Extension             = (*MetricsExtension)(nil)
	_ ext.RunQueued             = (*MetricsExtension)(nil)
	_ ext.RunStarted            = (*MetricsExtension)(nil)
	_ ext.RunSucceeded          = (*MetricsExtension)(nil)
	_ ext.RunFailed             = (*MetricsExtension)(nil)
	_ ext.RunDeleted            = (*MetricsExtension)(nil)
	_ ext.JobRetrying           = (*MetricsExtension)(nil)
	_ ext.JobDLQ                = (*MetricsExtension)(nil)
	_ ext.ScheduleFired         = (*MetricsExtension)(nil)
	_ ext.ScheduleTriggerFailed = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/reportflow/observability"

// MetricsExtension counts run, job and schedule lifecycle events.
type MetricsExtension struct {
	RunQueued             metric.Int64Counter
	RunStarted            metric.Int64Counter
	RunSucceeded          metric.Int64Counter
	RunFailed             metric.Int64Counter
	RunDeleted            metric.Int64Counter
	RunDuration           metric.Float64Histogram
	JobRetried            metric.Int64Counter
	JobDLQ                metric.Int64Counter
	ScheduleFired         metric.Int64Counter
	ScheduleTriggerFailed metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() (*MetricsExtension, error) {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) (*MetricsExtension, error) {
	m := &MetricsExtension{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
	}{
		{&m.RunQueued, "reportflow.run.queued"},
		{&m.RunStarted, "reportflow.run.started"},
		{&m.RunSucceeded, "reportflow.run.succeeded"},
		{&m.RunFailed, "reportflow.run.failed"},
		{&m.RunDeleted, "reportflow.run.deleted"},
		{&m.JobRetried, "reportflow.job.retried"},
		{&m.JobDLQ, "reportflow.job.dlq"},
		{&m.ScheduleFired, "reportflow.schedule.fired"},
		{&m.ScheduleTriggerFailed, "reportflow.schedule.trigger_failed"},
	}
	for _, c := range counters {
		ctr, err := meter.Int64Counter(c.name)
		if err != nil {
			return nil, err
		}
		*c.dst = ctr
	}

	hist, err := meter.Float64Histogram("reportflow.run.duration",
		metric.WithDescription("Duration of successful report runs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	m.RunDuration = hist
	return m, nil
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func trigger(r *run.Run) metric.AddOption {
	return metric.WithAttributes(attribute.String("trigger_type", string(r.TriggerType)))
}

// OnRunQueued implements ext.RunQueued.
func (m *MetricsExtension) OnRunQueued(ctx context.Context, r *run.Run) error {
	m.RunQueued.Add(ctx, 1, trigger(r))
	return nil
}

// OnRunStarted implements ext.RunStarted.
func (m *MetricsExtension) OnRunStarted(ctx context.Context, r *run.Run) error {
	m.RunStarted.Add(ctx, 1, trigger(r))
	return nil
}

// OnRunSucceeded implements ext.RunSucceeded.
func (m *MetricsExtension) OnRunSucceeded(ctx context.Context, r *run.Run, elapsed time.Duration) error {
	m.RunSucceeded.Add(ctx, 1, trigger(r))
	m.RunDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("trigger_type", string(r.TriggerType))))
	return nil
}

// OnRunFailed implements ext.RunFailed.
func (m *MetricsExtension) OnRunFailed(ctx context.Context, r *run.Run, err error) error {
	code := reportflow.ErrorCode(err)
	if r.Error != nil {
		code = r.Error.Code
	}
	m.RunFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("trigger_type", string(r.TriggerType)),
		attribute.String("code", code),
	))
	return nil
}

// OnRunDeleted implements ext.RunDeleted.
func (m *MetricsExtension) OnRunDeleted(ctx context.Context, _ *run.Run) error {
	m.RunDeleted.Add(ctx, 1)
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, _ *job.Job, _ int, _ time.Time) error {
	m.JobRetried.Add(ctx, 1)
	return nil
}

// OnJobDLQ implements ext.JobDLQ.
func (m *MetricsExtension) OnJobDLQ(ctx context.Context, _ *job.Job, _ error) error {
	m.JobDLQ.Add(ctx, 1)
	return nil
}

// OnScheduleFired implements ext.ScheduleFired.
func (m *MetricsExtension) OnScheduleFired(ctx context.Context, s *schedule.Schedule, _ *run.Run) error {
	m.ScheduleFired.Add(ctx, 1, metric.WithAttributes(attribute.String("cadence", string(s.Cadence))))
	return nil
}

// OnScheduleTriggerFailed implements ext.ScheduleTriggerFailed.
func (m *MetricsExtension) OnScheduleTriggerFailed(ctx context.Context, s *schedule.Schedule, _ error) error {
	m.ScheduleTriggerFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("cadence", string(s.Cadence))))
	return nil
}
