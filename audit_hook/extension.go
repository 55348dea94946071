package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/audit"
	"github.com/xraph/reportflow/ext"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/job"
	"github.com/xraph/reportflow/run"
	"github.com/xraph/reportflow/schedule"
	"github.com/xraph/reportflow/template"
)

// Compile-time interface checks.
var (
	_ ext.Extension             = (*Extension)(nil)
	_ ext.RunQueued             = (*Extension)(nil)
	_ ext.RunRetried            = (*Extension)(nil)
	_ ext.RunStarted            = (*Extension)(nil)
	_ ext.RunSucceeded          = (*Extension)(nil)
	_ ext.RunFailed             = (*Extension)(nil)
	_ ext.RunDeleted            = (*Extension)(nil)
	_ ext.JobRetrying           = (*Extension)(nil)
	_ ext.JobDLQ                = (*Extension)(nil)
	_ ext.ScheduleCreated       = (*Extension)(nil)
	_ ext.ScheduleUpdated       = (*Extension)(nil)
	_ ext.ScheduleDeleted       = (*Extension)(nil)
	_ ext.ScheduleFired         = (*Extension)(nil)
	_ ext.ScheduleTriggerFailed = (*Extension)(nil)
	_ ext.TemplateCreated       = (*Extension)(nil)
	_ ext.TemplateUpdated       = (*Extension)(nil)
	_ ext.TemplateDeleted       = (*Extension)(nil)
)

// Extension writes an audit entry for every report lifecycle event.
type Extension struct {
	sink    audit.Sink
	enabled map[string]bool // nil = all enabled
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an Extension writing to sink.
func New(sink audit.Sink, opts ...Option) *Extension {
	e := &Extension{
		sink:   sink,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Run hooks ───────────────────────────────────────

// OnRunQueued implements ext.RunQueued.
func (e *Extension) OnRunQueued(ctx context.Context, r *run.Run) error {
	return e.record(ctx, r.TenantID, ActionRunTriggered, audit.ResourceRun, r.ID.String(), r.TriggeredBy, nil,
		"templateId", r.TemplateID.String(),
		"scheduleId", optional(r.ScheduleID),
		"triggerType", string(r.TriggerType),
		"period", r.Period.Label,
		"previousStatus", "",
		"nextStatus", string(r.Status),
	)
}

// OnRunRetried implements ext.RunRetried.
func (e *Extension) OnRunRetried(ctx context.Context, r *run.Run) error {
	return e.record(ctx, r.TenantID, ActionRunTriggered, audit.ResourceRun, r.ID.String(), r.TriggeredBy, nil,
		"templateId", r.TemplateID.String(),
		"triggerType", "retry",
		"previousStatus", string(run.StatusFailed),
		"nextStatus", string(r.Status),
	)
}

// OnRunStarted implements ext.RunStarted.
func (e *Extension) OnRunStarted(ctx context.Context, r *run.Run) error {
	return e.record(ctx, r.TenantID, ActionRunStarted, audit.ResourceRun, r.ID.String(), "", nil,
		"templateId", r.TemplateID.String(),
		"attempt", r.Job.Attempts,
		"previousStatus", string(run.StatusQueued),
		"nextStatus", string(run.StatusRunning),
		"startedAt", timeString(r.Job.StartedAt),
	)
}

// OnRunSucceeded implements ext.RunSucceeded.
func (e *Extension) OnRunSucceeded(ctx context.Context, r *run.Run, elapsed time.Duration) error {
	return e.record(ctx, r.TenantID, ActionRunSuccess, audit.ResourceRun, r.ID.String(), "", nil,
		"templateId", r.TemplateID.String(),
		"durationMs", elapsed.Milliseconds(),
		"outputCount", len(r.Outputs),
		"previousStatus", string(run.StatusRunning),
		"nextStatus", string(run.StatusSuccess),
	)
}

// OnRunFailed implements ext.RunFailed.
func (e *Extension) OnRunFailed(ctx context.Context, r *run.Run, runErr error) error {
	prev := run.StatusRunning
	if r.Job.StartedAt == nil {
		prev = run.StatusQueued
	}
	code := reportflow.ErrorCode(runErr)
	if r.Error != nil {
		code = r.Error.Code
	}
	return e.record(ctx, r.TenantID, ActionRunFailed, audit.ResourceRun, r.ID.String(), "", nil,
		"templateId", r.TemplateID.String(),
		"durationMs", r.Job.DurationMs,
		"errorCode", code,
		"error", errString(runErr),
		"previousStatus", string(prev),
		"nextStatus", string(run.StatusFailed),
	)
}

// OnRunDeleted implements ext.RunDeleted.
func (e *Extension) OnRunDeleted(ctx context.Context, r *run.Run) error {
	return e.record(ctx, r.TenantID, ActionRunDeleted, audit.ResourceRun, r.ID.String(), "", &audit.Diff{Before: r},
		"status", string(r.Status),
	)
}

// ── Job hooks ───────────────────────────────────────

// OnJobRetrying implements ext.JobRetrying.
func (e *Extension) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	return e.record(ctx, j.TenantID, ActionRunRetried, audit.ResourceRun, j.RunID.String(), "", nil,
		"jobId", j.ID.String(),
		"attempt", attempt,
		"maxAttempts", j.MaxAttempts,
		"nextRunAt", nextRunAt.UTC().Format(time.RFC3339),
		"error", j.LastError,
	)
}

// OnJobDLQ implements ext.JobDLQ.
func (e *Extension) OnJobDLQ(ctx context.Context, j *job.Job, jobErr error) error {
	return e.record(ctx, j.TenantID, ActionRunDeadLettered, audit.ResourceRun, j.RunID.String(), "", nil,
		"jobId", j.ID.String(),
		"attempts", j.Attempts,
		"error", errString(jobErr),
	)
}

// ── Schedule hooks ──────────────────────────────────

// OnScheduleCreated implements ext.ScheduleCreated.
func (e *Extension) OnScheduleCreated(ctx context.Context, s *schedule.Schedule) error {
	return e.record(ctx, s.TenantID, ActionScheduleCreated, audit.ResourceSchedule, s.ID.String(), s.CreatedBy,
		&audit.Diff{After: s},
		"templateId", s.TemplateID.String(),
		"cadence", string(s.Cadence),
	)
}

// OnScheduleUpdated implements ext.ScheduleUpdated.
func (e *Extension) OnScheduleUpdated(ctx context.Context, before, after *schedule.Schedule) error {
	return e.record(ctx, after.TenantID, ActionScheduleUpdated, audit.ResourceSchedule, after.ID.String(), after.UpdatedBy,
		&audit.Diff{Before: before, After: after},
		"previousStatus", string(before.Status),
		"nextStatus", string(after.Status),
	)
}

// OnScheduleDeleted implements ext.ScheduleDeleted.
func (e *Extension) OnScheduleDeleted(ctx context.Context, s *schedule.Schedule) error {
	return e.record(ctx, s.TenantID, ActionScheduleDeleted, audit.ResourceSchedule, s.ID.String(), "",
		&audit.Diff{Before: s},
	)
}

// OnScheduleFired implements ext.ScheduleFired.
func (e *Extension) OnScheduleFired(ctx context.Context, s *schedule.Schedule, r *run.Run) error {
	return e.record(ctx, s.TenantID, ActionScheduleFired, audit.ResourceSchedule, s.ID.String(), "", nil,
		"runId", r.ID.String(),
		"status", "success",
		"nextRunAt", timeString(s.NextRunAt),
	)
}

// OnScheduleTriggerFailed implements ext.ScheduleTriggerFailed.
func (e *Extension) OnScheduleTriggerFailed(ctx context.Context, s *schedule.Schedule, triggerErr error) error {
	return e.record(ctx, s.TenantID, ActionScheduleFired, audit.ResourceSchedule, s.ID.String(), "", nil,
		"status", "failed",
		"error", errString(triggerErr),
		"nextRunAt", timeString(s.NextRunAt),
	)
}

// ── Template hooks ──────────────────────────────────

// OnTemplateCreated implements ext.TemplateCreated.
func (e *Extension) OnTemplateCreated(ctx context.Context, t *template.Template) error {
	return e.record(ctx, t.TenantID, ActionTemplateCreated, audit.ResourceTemplate, t.ID.String(), t.CreatedBy,
		&audit.Diff{After: t},
		"code", t.Code,
	)
}

// OnTemplateUpdated implements ext.TemplateUpdated.
func (e *Extension) OnTemplateUpdated(ctx context.Context, before, after *template.Template) error {
	return e.record(ctx, after.TenantID, ActionTemplateUpdated, audit.ResourceTemplate, after.ID.String(), after.UpdatedBy,
		&audit.Diff{Before: before, After: after},
		"code", after.Code,
	)
}

// OnTemplateDeleted implements ext.TemplateDeleted.
func (e *Extension) OnTemplateDeleted(ctx context.Context, t *template.Template) error {
	return e.record(ctx, t.TenantID, ActionTemplateDeleted, audit.ResourceTemplate, t.ID.String(), "",
		&audit.Diff{Before: t},
		"code", t.Code,
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and writes an entry if the action is enabled. Sink
// failures are logged and swallowed.
func (e *Extension) record(
	ctx context.Context,
	tenantID, action, resourceType, resourceID, actorID string,
	diff *audit.Diff,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	entry := &audit.Entry{
		ID:           id.NewAuditID(),
		TenantID:     tenantID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		ActorID:      actorID,
		Diff:         diff,
		Metadata:     meta,
		CreatedAt:    e.now().UTC(),
	}
	if info, ok := reportflow.ClientInfoFrom(ctx); ok {
		if entry.ActorID == "" {
			entry.ActorID = info.ActorID
		}
		entry.IP = info.IP
		entry.UserAgent = info.UserAgent
	}

	if err := e.sink.Record(ctx, entry); err != nil {
		e.logger.Warn("audit_hook: failed to record audit entry",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func optional(i id.ID) string {
	if i.IsNil() {
		return ""
	}
	return i.String()
}

func timeString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
