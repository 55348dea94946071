package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/cadence"
	"github.com/xraph/reportflow/dlq"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/job"
	"github.com/xraph/reportflow/run"
	"github.com/xraph/reportflow/schedule"
)

// ManualRun describes an on-demand run request.
type ManualRun struct {
	TenantID   string
	TemplateID id.TemplateID
	Period     reportflow.Period
	// Scope defaults to the whole tenant.
	Scope reportflow.Scope
	// Formats default to the template's output formats.
	Formats []reportflow.Format
	// Trigger is run.TriggerManual or run.TriggerAPI. Empty means manual.
	Trigger run.TriggerType
	// TriggeredBy defaults to the actor of the context's ClientInfo.
	TriggeredBy string
}

// RunStats summarizes a tenant's runs.
type RunStats struct {
	Total   int64 `json:"total_runs"`
	Success int64 `json:"success_runs"`
	Failed  int64 `json:"failed_runs"`
	// Active counts queued and running runs.
	Active int64 `json:"running_runs"`
	// SuccessRate is the percentage of successful runs, two decimals.
	SuccessRate float64 `json:"success_rate"`
}

// ──────────────────────────────────────────────────
// Triggers
// ──────────────────────────────────────────────────

// TriggerManualRun admits, records and enqueues an on-demand run. The
// template must be active. Admission rejections return
// reportflow.ErrRateLimitExceeded or reportflow.ErrConcurrencyLimitExceeded
// and leave no run behind.
func (eng *Engine) TriggerManualRun(ctx context.Context, req ManualRun) (*run.Run, error) {
	if req.TenantID == "" {
		return nil, reportflow.Configf("tenantId", "required")
	}
	trigger := req.Trigger
	switch trigger {
	case "":
		trigger = run.TriggerManual
	case run.TriggerManual, run.TriggerAPI:
	default:
		return nil, reportflow.Configf("triggerType", "unsupported trigger %q for a manual run", trigger)
	}

	tpl, err := eng.activeTemplate(ctx, req.TenantID, req.TemplateID)
	if err != nil {
		return nil, err
	}

	scope := req.Scope
	if scope.Type == "" {
		scope.Type = reportflow.ScopeTenant
	}
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := req.Period.Validate(); err != nil {
		return nil, err
	}
	formats := req.Formats
	if len(formats) == 0 {
		formats = defaultFormats(tpl, eng.config.DefaultFormats)
	}
	if err := reportflow.ValidateFormats(formats); err != nil {
		return nil, err
	}

	if err := eng.admission.Admit(ctx, req.TenantID, trigger); err != nil {
		return nil, err
	}

	r := run.New(req.TenantID, tpl.ID, trigger, req.Period, scope, formats)
	r.TriggeredBy = req.TriggeredBy
	if r.TriggeredBy == "" {
		r.TriggeredBy = actor(ctx)
	}
	r.CreatedAt, r.UpdatedAt = eng.clock(), eng.clock()

	if err := eng.submit(ctx, r, true); err != nil {
		return nil, err
	}
	eng.extensions.EmitRunQueued(ctx, r)
	return r, nil
}

// TriggerScheduledRun records and enqueues the run of a schedule. The
// schedule and its template must be active. The period is the one that
// just closed in the schedule's timezone. Scheduled runs skip the manual
// rate limit but count against the active run cap. The poller calls
// this once per firing.
func (eng *Engine) TriggerScheduledRun(ctx context.Context, s *schedule.Schedule) (*run.Run, error) {
	if s.Status != schedule.StatusActive {
		return nil, reportflow.ErrScheduleNotActive
	}
	tpl, err := eng.activeTemplate(ctx, s.TenantID, s.TemplateID)
	if err != nil {
		return nil, err
	}
	if err := eng.admission.Admit(ctx, s.TenantID, run.TriggerSchedule); err != nil {
		return nil, err
	}

	now := eng.clock()
	period := cadence.PeriodFor(s.Cadence, s.Location(), now)
	formats := s.Output.Formats
	if len(formats) == 0 {
		formats = defaultFormats(tpl, eng.config.DefaultFormats)
	}

	r := run.New(s.TenantID, tpl.ID, run.TriggerSchedule, period, s.Scope, formats)
	r.ScheduleID = s.ID
	r.TriggeredBy = s.CreatedBy
	r.CreatedAt, r.UpdatedAt = now, now

	if err := eng.submit(ctx, r, true); err != nil {
		return nil, err
	}
	eng.extensions.EmitRunQueued(ctx, r)
	return r, nil
}

// TriggerSchedule fires a stored schedule now, outside its cadence. The
// schedule's NextRunAt is not changed.
func (eng *Engine) TriggerSchedule(ctx context.Context, tenantID string, scheduleID id.ScheduleID) (*run.Run, error) {
	s, err := eng.store.GetSchedule(ctx, tenantID, scheduleID)
	if err != nil {
		return nil, err
	}
	return eng.TriggerScheduledRun(ctx, s)
}

// RetryRun re-opens a failed run and enqueues it again. Attempts start
// over. Only the active run cap applies. A run that is not failed
// returns reportflow.ErrRunNotFailed.
func (eng *Engine) RetryRun(ctx context.Context, tenantID string, runID id.RunID) (*run.Run, error) {
	r, err := eng.store.GetRun(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}
	if r.Status != run.StatusFailed {
		return nil, reportflow.ErrRunNotFailed
	}
	if err := eng.admission.CheckActive(ctx, tenantID); err != nil {
		return nil, err
	}
	if err := r.Retry(eng.clock()); err != nil {
		return nil, err
	}
	if by := actor(ctx); by != "" {
		r.TriggeredBy = by
	}

	if err := eng.submit(ctx, r, false); err != nil {
		return nil, err
	}
	eng.extensions.EmitRunRetried(ctx, r)
	return r, nil
}

// submit persists r and hands a job for it to the queue. create selects
// between inserting a new run and updating an existing one. When the
// queue rejects the job the run is failed with ENQUEUE_FAILED so it can
// be retried.
func (eng *Engine) submit(ctx context.Context, r *run.Run, create bool) error {
	j, err := job.New(eng.config.Queue, payloadFor(r), eng.config.MaxAttempts)
	if err != nil {
		return fmt.Errorf("reportflow: build job: %w", err)
	}
	j.Timeout = eng.config.RunLockTTL
	j.RunAt = eng.clock()
	j.CreatedAt, j.UpdatedAt = j.RunAt, j.RunAt
	r.Job.Queue = j.Queue
	r.Job.JobID = j.ID

	if create {
		err = eng.store.CreateRun(ctx, r)
	} else {
		err = eng.store.UpdateRun(ctx, r)
	}
	if err != nil {
		return err
	}

	if err := eng.store.EnqueueJob(ctx, j); err != nil {
		enqueueErr := fmt.Errorf("reportflow: enqueue run: %w", err)
		if failErr := r.Fail(eng.clock(), &run.Error{Message: enqueueErr.Error(), Code: reportflow.CodeEnqueueFailed}); failErr == nil {
			if updErr := eng.store.UpdateRun(context.WithoutCancel(ctx), r); updErr != nil {
				eng.logger.Error("failed to record enqueue failure",
					slog.String("run_id", r.ID.String()),
					slog.String("error", updErr.Error()),
				)
			} else {
				eng.extensions.EmitRunFailed(ctx, r, enqueueErr)
			}
		}
		return enqueueErr
	}
	return nil
}

func payloadFor(r *run.Run) *job.Payload {
	return &job.Payload{
		RunID:         r.ID.String(),
		TenantID:      r.TenantID,
		TemplateID:    r.TemplateID.String(),
		ScheduleID:    r.ScheduleID.String(),
		PeriodFrom:    r.Period.From,
		PeriodTo:      r.Period.To,
		PeriodLabel:   r.Period.Label,
		Scope:         r.ScopeSnapshot,
		OutputFormats: r.Formats(),
	}
}

// ──────────────────────────────────────────────────
// Run queries
// ──────────────────────────────────────────────────

// GetRun returns a run of the tenant.
func (eng *Engine) GetRun(ctx context.Context, tenantID string, runID id.RunID) (*run.Run, error) {
	return eng.store.GetRun(ctx, tenantID, runID)
}

// ListRuns returns one page of a tenant's runs, newest first.
func (eng *Engine) ListRuns(ctx context.Context, tenantID string, filter run.ListOpts, page reportflow.PageRequest) (reportflow.Page[*run.Run], error) {
	page = page.Normalize()
	filter.Limit, filter.Offset = page.Limit, page.Offset()

	items, err := eng.store.ListRuns(ctx, tenantID, filter)
	if err != nil {
		return reportflow.Page[*run.Run]{}, err
	}
	total, err := eng.store.CountRuns(ctx, tenantID, filter)
	if err != nil {
		return reportflow.Page[*run.Run]{}, err
	}
	return reportflow.NewPage(items, total, page), nil
}

// DeleteRun removes a run that is not running. A running run returns
// reportflow.ErrRunRunning.
func (eng *Engine) DeleteRun(ctx context.Context, tenantID string, runID id.RunID) error {
	r, err := eng.store.GetRun(ctx, tenantID, runID)
	if err != nil {
		return err
	}
	if !r.CanDelete() {
		return reportflow.ErrRunRunning
	}
	if err := eng.store.DeleteRun(ctx, tenantID, runID); err != nil {
		return err
	}
	eng.extensions.EmitRunDeleted(ctx, r)
	return nil
}

// RunStats counts a tenant's runs by outcome.
func (eng *Engine) RunStats(ctx context.Context, tenantID string) (*RunStats, error) {
	var st RunStats
	g, gctx := errgroup.WithContext(ctx)
	count := func(dst *int64, statuses ...run.Status) {
		g.Go(func() error {
			n, err := eng.store.CountRuns(gctx, tenantID, run.ListOpts{Statuses: statuses})
			*dst = n
			return err
		})
	}
	count(&st.Total)
	count(&st.Success, run.StatusSuccess)
	count(&st.Failed, run.StatusFailed)
	count(&st.Active, run.StatusQueued, run.StatusRunning)
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if st.Total > 0 {
		st.SuccessRate = math.Round(float64(st.Success)/float64(st.Total)*10000) / 100
	}
	return &st, nil
}

// ──────────────────────────────────────────────────
// Dead letters
// ──────────────────────────────────────────────────

// ListDeadLetters returns dead-lettered jobs, newest first. An empty
// tenantID lists every tenant.
func (eng *Engine) ListDeadLetters(ctx context.Context, tenantID string, page reportflow.PageRequest) ([]*dlq.Entry, error) {
	page = page.Normalize()
	return eng.dlqService.DLQStore().ListDLQ(ctx, dlq.ListOpts{
		Limit:    page.Limit,
		Offset:   page.Offset(),
		TenantID: tenantID,
	})
}

// ReplayDeadLetter requeues the failed run of a dead-lettered job and
// enqueues it again. An entry is replayed at most once.
func (eng *Engine) ReplayDeadLetter(ctx context.Context, entryID id.DLQID) (*run.Run, error) {
	r, _, err := eng.dlqService.Replay(ctx, entryID)
	if err != nil {
		if r == nil {
			return nil, err
		}
		eng.logger.Warn("dead letter replayed but not stamped",
			slog.String("dlq_id", entryID.String()),
			slog.String("error", err.Error()),
		)
	}
	eng.extensions.EmitRunRetried(ctx, r)
	return r, nil
}
