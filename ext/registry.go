package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/reportflow/job"
	"github.com/xraph/reportflow/run"
	"github.com/xraph/reportflow/schedule"
	"github.com/xraph/reportflow/template"
)

// entry pairs a hook with the extension name captured at registration.
type entry[H any] struct {
	name string
	hook H
}

// add appends e to list when it implements H.
func add[H any](list []entry[H], name string, e Extension) []entry[H] {
	if h, ok := e.(H); ok {
		return append(list, entry[H]{name, h})
	}
	return list
}

// Registry holds registered extensions and fans lifecycle events out to
// them. Extensions are type-cached at registration so emit calls only
// iterate over implementers of the hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	runQueued             []entry[RunQueued]
	runRetried            []entry[RunRetried]
	runStarted            []entry[RunStarted]
	runSucceeded          []entry[RunSucceeded]
	runFailed             []entry[RunFailed]
	runDeleted            []entry[RunDeleted]
	jobRetrying           []entry[JobRetrying]
	jobDLQ                []entry[JobDLQ]
	scheduleCreated       []entry[ScheduleCreated]
	scheduleUpdated       []entry[ScheduleUpdated]
	scheduleDeleted       []entry[ScheduleDeleted]
	scheduleFired         []entry[ScheduleFired]
	scheduleTriggerFailed []entry[ScheduleTriggerFailed]
	templateCreated       []entry[TemplateCreated]
	templateUpdated       []entry[TemplateUpdated]
	templateDeleted       []entry[TemplateDeleted]
	shutdown              []entry[Shutdown]
}

// NewRegistry creates an extension registry. A nil logger uses
// slog.Default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension. Extensions are notified in registration
// order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	n := e.Name()

	r.runQueued = add(r.runQueued, n, e)
	r.runRetried = add(r.runRetried, n, e)
	r.runStarted = add(r.runStarted, n, e)
	r.runSucceeded = add(r.runSucceeded, n, e)
	r.runFailed = add(r.runFailed, n, e)
	r.runDeleted = add(r.runDeleted, n, e)
	r.jobRetrying = add(r.jobRetrying, n, e)
	r.jobDLQ = add(r.jobDLQ, n, e)
	r.scheduleCreated = add(r.scheduleCreated, n, e)
	r.scheduleUpdated = add(r.scheduleUpdated, n, e)
	r.scheduleDeleted = add(r.scheduleDeleted, n, e)
	r.scheduleFired = add(r.scheduleFired, n, e)
	r.scheduleTriggerFailed = add(r.scheduleTriggerFailed, n, e)
	r.templateCreated = add(r.templateCreated, n, e)
	r.templateUpdated = add(r.templateUpdated, n, e)
	r.templateDeleted = add(r.templateDeleted, n, e)
	r.shutdown = add(r.shutdown, n, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// emit calls fn for every entry, logging hook errors.
func emit[H any](r *Registry, hook string, list []entry[H], fn func(H) error) {
	for _, e := range list {
		if err := fn(e.hook); err != nil {
			r.logHookError(hook, e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Run events
// ──────────────────────────────────────────────────

// EmitRunQueued notifies RunQueued implementers.
func (r *Registry) EmitRunQueued(ctx context.Context, rn *run.Run) {
	emit(r, "OnRunQueued", r.runQueued, func(h RunQueued) error { return h.OnRunQueued(ctx, rn) })
}

// EmitRunRetried notifies RunRetried implementers.
func (r *Registry) EmitRunRetried(ctx context.Context, rn *run.Run) {
	emit(r, "OnRunRetried", r.runRetried, func(h RunRetried) error { return h.OnRunRetried(ctx, rn) })
}

// EmitRunStarted notifies RunStarted implementers.
func (r *Registry) EmitRunStarted(ctx context.Context, rn *run.Run) {
	emit(r, "OnRunStarted", r.runStarted, func(h RunStarted) error { return h.OnRunStarted(ctx, rn) })
}

// EmitRunSucceeded notifies RunSucceeded implementers.
func (r *Registry) EmitRunSucceeded(ctx context.Context, rn *run.Run, elapsed time.Duration) {
	emit(r, "OnRunSucceeded", r.runSucceeded, func(h RunSucceeded) error { return h.OnRunSucceeded(ctx, rn, elapsed) })
}

// EmitRunFailed notifies RunFailed implementers.
func (r *Registry) EmitRunFailed(ctx context.Context, rn *run.Run, runErr error) {
	emit(r, "OnRunFailed", r.runFailed, func(h RunFailed) error { return h.OnRunFailed(ctx, rn, runErr) })
}

// EmitRunDeleted notifies RunDeleted implementers.
func (r *Registry) EmitRunDeleted(ctx context.Context, rn *run.Run) {
	emit(r, "OnRunDeleted", r.runDeleted, func(h RunDeleted) error { return h.OnRunDeleted(ctx, rn) })
}

// ──────────────────────────────────────────────────
// Job events
// ──────────────────────────────────────────────────

// EmitJobRetrying notifies JobRetrying implementers.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	emit(r, "OnJobRetrying", r.jobRetrying, func(h JobRetrying) error { return h.OnJobRetrying(ctx, j, attempt, nextRunAt) })
}

// EmitJobDLQ notifies JobDLQ implementers.
func (r *Registry) EmitJobDLQ(ctx context.Context, j *job.Job, jobErr error) {
	emit(r, "OnJobDLQ", r.jobDLQ, func(h JobDLQ) error { return h.OnJobDLQ(ctx, j, jobErr) })
}

// ──────────────────────────────────────────────────
// Schedule events
// ──────────────────────────────────────────────────

// EmitScheduleCreated notifies ScheduleCreated implementers.
func (r *Registry) EmitScheduleCreated(ctx context.Context, s *schedule.Schedule) {
	emit(r, "OnScheduleCreated", r.scheduleCreated, func(h ScheduleCreated) error { return h.OnScheduleCreated(ctx, s) })
}

// EmitScheduleUpdated notifies ScheduleUpdated implementers.
func (r *Registry) EmitScheduleUpdated(ctx context.Context, before, after *schedule.Schedule) {
	emit(r, "OnScheduleUpdated", r.scheduleUpdated, func(h ScheduleUpdated) error { return h.OnScheduleUpdated(ctx, before, after) })
}

// EmitScheduleDeleted notifies ScheduleDeleted implementers.
func (r *Registry) EmitScheduleDeleted(ctx context.Context, s *schedule.Schedule) {
	emit(r, "OnScheduleDeleted", r.scheduleDeleted, func(h ScheduleDeleted) error { return h.OnScheduleDeleted(ctx, s) })
}

// EmitScheduleFired notifies ScheduleFired implementers.
func (r *Registry) EmitScheduleFired(ctx context.Context, s *schedule.Schedule, rn *run.Run) {
	emit(r, "OnScheduleFired", r.scheduleFired, func(h ScheduleFired) error { return h.OnScheduleFired(ctx, s, rn) })
}

// EmitScheduleTriggerFailed notifies ScheduleTriggerFailed implementers.
func (r *Registry) EmitScheduleTriggerFailed(ctx context.Context, s *schedule.Schedule, triggerErr error) {
	emit(r, "OnScheduleTriggerFailed", r.scheduleTriggerFailed, func(h ScheduleTriggerFailed) error {
		return h.OnScheduleTriggerFailed(ctx, s, triggerErr)
	})
}

// ──────────────────────────────────────────────────
// Template events
// ──────────────────────────────────────────────────

// EmitTemplateCreated notifies TemplateCreated implementers.
func (r *Registry) EmitTemplateCreated(ctx context.Context, t *template.Template) {
	emit(r, "OnTemplateCreated", r.templateCreated, func(h TemplateCreated) error { return h.OnTemplateCreated(ctx, t) })
}

// EmitTemplateUpdated notifies TemplateUpdated implementers.
func (r *Registry) EmitTemplateUpdated(ctx context.Context, before, after *template.Template) {
	emit(r, "OnTemplateUpdated", r.templateUpdated, func(h TemplateUpdated) error { return h.OnTemplateUpdated(ctx, before, after) })
}

// EmitTemplateDeleted notifies TemplateDeleted implementers.
func (r *Registry) EmitTemplateDeleted(ctx context.Context, t *template.Template) {
	emit(r, "OnTemplateDeleted", r.templateDeleted, func(h TemplateDeleted) error { return h.OnTemplateDeleted(ctx, t) })
}

// ──────────────────────────────────────────────────
// Other events
// ──────────────────────────────────────────────────

// EmitShutdown notifies Shutdown implementers.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(r, "OnShutdown", r.shutdown, func(h Shutdown) error { return h.OnShutdown(ctx) })
}

// logHookError logs a hook failure. Hook errors never propagate.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
