// Package executor turns one queued report run into outputs.
//
// Execute moves the run to running, loads its template, builds a
// tenant-isolated plan per enabled section and runs it through the
// DataAccess collaborator, asks the InsightGenerator for narrative
// sections, renders each requested format, and persists the result. A
// failing section degrades only its own summary. Template problems and
// renderer errors fail the run. Persistence failures and panics outside
// sections are crashes: the run is failed best-effort and
// reportflow.ErrExecutorCrash is returned so the queue retries.
//
// Exactly one completion notification is emitted per finished run.
// Notification failures are logged and never change the run.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/aggregation"
	"github.com/xraph/reportflow/ext"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/notify"
	"github.com/xraph/reportflow/run"
	"github.com/xraph/reportflow/template"
)

// Option configures an Executor.
type Option func(*Executor)

// WithBuilder sets the aggregation builder.
func WithBuilder(b *aggregation.Builder) Option { return func(e *Executor) { e.builder = b } }

// WithInsightGenerator enables narrative generation.
func WithInsightGenerator(g InsightGenerator) Option { return func(e *Executor) { e.insights = g } }

// WithNotifier sets the notification emitter.
func WithNotifier(n notify.Emitter) Option { return func(e *Executor) { e.notifier = n } }

// WithExtensions sets the lifecycle hook registry.
func WithExtensions(r *ext.Registry) Option { return func(e *Executor) { e.extensions = r } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Executor) { e.logger = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(e *Executor) { e.now = now } }

// Executor runs report runs.
type Executor struct {
	runs       run.Store
	templates  template.Store
	data       DataAccess
	renderer   Renderer
	builder    *aggregation.Builder
	insights   InsightGenerator
	notifier   notify.Emitter
	extensions *ext.Registry
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an Executor.
func New(runs run.Store, templates template.Store, data DataAccess, renderer Renderer, opts ...Option) *Executor {
	e := &Executor{
		runs:      runs,
		templates: templates,
		data:      data,
		renderer:  renderer,
		builder:   aggregation.NewBuilder(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.notifier == nil {
		e.notifier = notify.NewLog(e.logger)
	}
	if e.extensions == nil {
		e.extensions = ext.NewRegistry(e.logger)
	}
	return e
}

// Execute runs the queued run runID of tenantID to a terminal state.
//
// It returns the run and a nil error when the run finished, successfully
// or not. A missing run yields reportflow.ErrRunNotFound and a run that
// is not queued yields reportflow.ErrInvalidTransition; neither touches
// the record. A crash returns an error wrapping
// reportflow.ErrExecutorCrash.
func (e *Executor) Execute(ctx context.Context, tenantID string, runID id.RunID) (r *run.Run, err error) {
	r, err = e.runs.GetRun(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}
	if err := r.Start(e.clock()); err != nil {
		return r, err
	}
	if err := e.runs.UpdateRun(ctx, r); err != nil {
		return r, fmt.Errorf("%w: mark running: %v", reportflow.ErrExecutorCrash, err)
	}
	e.extensions.EmitRunStarted(ctx, r)

	defer func() {
		if p := recover(); p != nil {
			err = e.crash(ctx, r, fmt.Errorf("panic: %v", p))
		}
	}()

	tpl, outputs, summary, runErr := e.produce(ctx, r)
	name := templateName(tpl)

	now := e.clock()
	if runErr != nil {
		if err := r.Fail(now, run.ErrorFrom(runErr)); err != nil {
			return r, err
		}
	} else if err := r.Succeed(now, outputs, summary); err != nil {
		return r, err
	}

	if err := e.runs.UpdateRun(ctx, r); err != nil {
		return r, e.crash(ctx, r, fmt.Errorf("persist result: %w", err))
	}

	if runErr != nil {
		e.logger.Warn("report run failed",
			slog.String("run_id", r.ID.String()),
			slog.String("tenant_id", r.TenantID),
			slog.String("code", r.Error.Code),
			slog.String("error", runErr.Error()),
		)
		e.extensions.EmitRunFailed(ctx, r, runErr)
	} else {
		e.extensions.EmitRunSucceeded(ctx, r, time.Duration(r.Job.DurationMs)*time.Millisecond)
	}
	e.notify(ctx, r, name)
	return r, nil
}

// produce runs steps two to four: template, sections, render.
func (e *Executor) produce(ctx context.Context, r *run.Run) (*template.Template, []run.Output, map[string]run.SectionSummary, error) {
	tpl, err := e.templates.GetTemplate(ctx, r.TenantID, r.TemplateID)
	if err != nil {
		if errors.Is(err, reportflow.ErrTemplateNotFound) {
			return nil, nil, nil, reportflow.Configf("templateId", "template %s not found", r.TemplateID)
		}
		return nil, nil, nil, fmt.Errorf("load template: %w", err)
	}
	if !tpl.IsActive() {
		return tpl, nil, nil, reportflow.Configf("templateId", "template %s is %s", tpl.Code, tpl.Status)
	}

	var period *reportflow.Period
	if !r.Period.IsZero() {
		period = &r.Period
	}

	sections := tpl.EnabledSections()
	results := make([]SectionResult, 0, len(sections))
	summary := make(map[string]run.SectionSummary, len(sections))
	for _, sec := range sections {
		res := e.section(ctx, r, sec, period)
		if sec.Narrative && e.insights != nil && res.Error == "" {
			e.narrate(ctx, r, tpl, &res)
		}
		results = append(results, res)
		summary[sec.Key] = run.SectionSummary{
			Title:     sec.Title,
			Count:     len(res.Rows),
			Error:     res.Error,
			Narrative: res.Narrative,
		}
	}

	outputs := make([]run.Output, 0, len(r.Formats()))
	for _, f := range r.Formats() {
		out, err := e.renderer.Render(ctx, RenderRequest{
			TenantID:        r.TenantID,
			RunID:           r.ID.String(),
			TemplateCode:    tpl.Code,
			TemplateName:    tpl.Name,
			Period:          r.Period,
			Format:          f,
			Sections:        results,
			IncludeBranding: tpl.OutputDefaults.IncludeBranding,
			Locale:          tpl.OutputDefaults.Locale,
			Currency:        tpl.OutputDefaults.Currency,
			Timezone:        tpl.OutputDefaults.Timezone,
		})
		if err != nil {
			return tpl, nil, summary, fmt.Errorf("render %s: %w", f, err)
		}
		outputs = append(outputs, *out)
	}
	return tpl, outputs, summary, nil
}

// section builds and runs one section plan. Errors and panics are
// contained in the result.
func (e *Executor) section(ctx context.Context, r *run.Run, sec template.Section, period *reportflow.Period) (res SectionResult) {
	res = SectionResult{Key: sec.Key, Title: sec.Title, View: sec.View}
	defer func() {
		if p := recover(); p != nil {
			res.Rows = nil
			res.Error = (&reportflow.SectionError{Section: sec.Key, Err: fmt.Errorf("panic: %v", p)}).Error()
		}
	}()

	plan, err := e.builder.Build(sec.Source, r.TenantID, period, r.ScopeSnapshot)
	if err == nil {
		res.Rows, err = e.data.RunQueryPlan(ctx, plan)
	}
	if err != nil {
		secErr := &reportflow.SectionError{Section: sec.Key, Err: err}
		e.logger.Warn("report section failed",
			slog.String("run_id", r.ID.String()),
			slog.String("section", sec.Key),
			slog.String("error", err.Error()),
		)
		res.Rows = nil
		res.Error = secErr.Error()
	}
	if res.Rows == nil {
		res.Rows = []Row{}
	}
	return res
}

func (e *Executor) narrate(ctx context.Context, r *run.Run, tpl *template.Template, res *SectionResult) {
	text, err := e.insights.Summarize(ctx, []SectionResult{*res}, InsightContext{
		TenantID:     r.TenantID,
		TemplateName: tpl.Name,
		SectionKey:   res.Key,
		Period:       r.Period,
		Locale:       tpl.OutputDefaults.Locale,
	})
	if err != nil {
		res.Error = "insight: " + err.Error()
		return
	}
	res.Narrative = text
}

// crash fails the run best-effort from its stored state and returns the
// crash error for the queue.
func (e *Executor) crash(ctx context.Context, r *run.Run, cause error) error {
	crashErr := fmt.Errorf("%w: %v", reportflow.ErrExecutorCrash, cause)
	e.logger.Error("report executor crashed",
		slog.String("run_id", r.ID.String()),
		slog.String("tenant_id", r.TenantID),
		slog.String("error", cause.Error()),
	)

	ctx = context.WithoutCancel(ctx)
	stored, err := e.runs.GetRun(ctx, r.TenantID, r.ID)
	if err != nil {
		return crashErr
	}
	if err := stored.Fail(e.clock(), run.ErrorFrom(crashErr)); err != nil {
		return crashErr
	}
	if err := e.runs.UpdateRun(ctx, stored); err != nil {
		e.logger.Error("failed to record executor crash",
			slog.String("run_id", r.ID.String()),
			slog.String("error", err.Error()),
		)
		return crashErr
	}
	*r = *stored
	e.extensions.EmitRunFailed(ctx, stored, crashErr)
	return crashErr
}

// Notify emits the completion notification of a terminal run. It looks
// up the template name itself and only logs failures.
func (e *Executor) Notify(ctx context.Context, r *run.Run) {
	tpl, err := e.templates.GetTemplate(ctx, r.TenantID, r.TemplateID)
	if err != nil {
		tpl = nil
	}
	e.notify(ctx, r, templateName(tpl))
}

func (e *Executor) notify(ctx context.Context, r *run.Run, name string) {
	var n *notify.Notification
	switch r.Status {
	case run.StatusSuccess:
		n = notify.Completed(r.TenantID, r.ID.String(), name)
	case run.StatusFailed:
		reason := "unknown error"
		if r.Error != nil {
			reason = r.Error.Message
		}
		n = notify.Failed(r.TenantID, r.ID.String(), name, reason)
	default:
		return
	}
	if r.TriggeredBy != "" {
		n.UserIDs = []string{r.TriggeredBy}
	}
	if err := e.notifier.Emit(context.WithoutCancel(ctx), n); err != nil {
		e.logger.Warn("report notification failed",
			slog.String("run_id", r.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Executor) clock() time.Time { return e.now().UTC() }

func templateName(t *template.Template) string {
	if t == nil || t.Name == "" {
		return "Report"
	}
	return t.Name
}
