package ext

import (
	"context"
	"time"

	"github.com/xraph/reportflow/job"
	"github.com/xraph/reportflow/run"
	"github.com/xraph/reportflow/schedule"
	"github.com/xraph/reportflow/template"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Run lifecycle hooks
// ──────────────────────────────────────────────────

// RunQueued is called after a new run is created and handed to the queue.
type RunQueued interface {
	OnRunQueued(ctx context.Context, r *run.Run) error
}

// RunRetried is called after a failed run is re-opened on request.
type RunRetried interface {
	OnRunRetried(ctx context.Context, r *run.Run) error
}

// RunStarted is called when the executor moves a run to running.
type RunStarted interface {
	OnRunStarted(ctx context.Context, r *run.Run) error
}

// RunSucceeded is called after a run is persisted as success.
type RunSucceeded interface {
	OnRunSucceeded(ctx context.Context, r *run.Run, elapsed time.Duration) error
}

// RunFailed is called after a run is persisted as failed.
type RunFailed interface {
	OnRunFailed(ctx context.Context, r *run.Run, err error) error
}

// RunDeleted is called after a run is removed.
type RunDeleted interface {
	OnRunDeleted(ctx context.Context, r *run.Run) error
}

// ──────────────────────────────────────────────────
// Job hooks
// ──────────────────────────────────────────────────

// JobRetrying is called when a crashed job is rescheduled.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobDLQ is called when a job is moved to the dead letter queue.
type JobDLQ interface {
	OnJobDLQ(ctx context.Context, j *job.Job, err error) error
}

// ──────────────────────────────────────────────────
// Schedule hooks
// ──────────────────────────────────────────────────

// ScheduleCreated is called after a schedule is created.
type ScheduleCreated interface {
	OnScheduleCreated(ctx context.Context, s *schedule.Schedule) error
}

// ScheduleUpdated is called after a schedule changes, including pause
// and resume.
type ScheduleUpdated interface {
	OnScheduleUpdated(ctx context.Context, before, after *schedule.Schedule) error
}

// ScheduleDeleted is called after a schedule is removed.
type ScheduleDeleted interface {
	OnScheduleDeleted(ctx context.Context, s *schedule.Schedule) error
}

// ScheduleFired is called when the poller created a run for a due
// schedule.
type ScheduleFired interface {
	OnScheduleFired(ctx context.Context, s *schedule.Schedule, r *run.Run) error
}

// ScheduleTriggerFailed is called when a due schedule could not create
// its run.
type ScheduleTriggerFailed interface {
	OnScheduleTriggerFailed(ctx context.Context, s *schedule.Schedule, err error) error
}

// ──────────────────────────────────────────────────
// Template hooks
// ──────────────────────────────────────────────────

// TemplateCreated is called after a template is created or cloned.
type TemplateCreated interface {
	OnTemplateCreated(ctx context.Context, t *template.Template) error
}

// TemplateUpdated is called after a template changes.
type TemplateUpdated interface {
	OnTemplateUpdated(ctx context.Context, before, after *template.Template) error
}

// TemplateDeleted is called after a template is removed.
type TemplateDeleted interface {
	OnTemplateDeleted(ctx context.Context, t *template.Template) error
}

// ──────────────────────────────────────────────────
// Other hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
