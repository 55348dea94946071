package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/aggregation"
	"github.com/xraph/reportflow/audit"
	audithook "github.com/xraph/reportflow/audit_hook"
	"github.com/xraph/reportflow/cadence"
	"github.com/xraph/reportflow/dlq"
	"github.com/xraph/reportflow/engine"
	"github.com/xraph/reportflow/executor"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/job"
	"github.com/xraph/reportflow/notify"
	"github.com/xraph/reportflow/run"
	"github.com/xraph/reportflow/schedule"
	"github.com/xraph/reportflow/store/memory"
	"github.com/xraph/reportflow/template"
)

// ──────────────────────────────────────────────────
// Fixtures
// ──────────────────────────────────────────────────

type harness struct {
	store *memory.Store
	eng   *engine.Engine

	mu       sync.Mutex
	notified []*notify.Notification
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func data() executor.DataAccess {
	return executor.DataAccessFunc(func(_ context.Context, plan aggregation.Plan) ([]executor.Row, error) {
		if plan.Entity == "broken" {
			return nil, errors.New("collection offline")
		}
		return []executor.Row{{"amount": 10}, {"amount": 20}}, nil
	})
}

func renderer() executor.Renderer {
	return executor.RendererFunc(func(_ context.Context, req executor.RenderRequest) (*run.Output, error) {
		return &run.Output{Format: req.Format, Storage: run.StorageLocal, LocationRef: req.RunID + "/" + string(req.Format)}, nil
	})
}

func newHarness(t *testing.T, s *memory.Store, mutate func(*reportflow.Config), opts ...engine.Option) *harness {
	t.Helper()
	if s == nil {
		s = memory.New()
	}
	cfg := reportflow.DefaultConfig()
	cfg.Env = "test"
	cfg.WorkerPollInterval = 10 * time.Millisecond
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.BackoffInitial = 10 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := reportflow.New(
		reportflow.WithConfig(cfg),
		reportflow.WithStore(s),
		reportflow.WithLogger(discardLogger()),
	)
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{store: s}
	base := []engine.Option{
		engine.WithDataAccess(data()),
		engine.WithRenderer(renderer()),
		engine.WithNotifier(notify.EmitterFunc(func(_ context.Context, n *notify.Notification) error {
			h.mu.Lock()
			h.notified = append(h.notified, n)
			h.mu.Unlock()
			return nil
		})),
	}
	h.eng, err = engine.Build(r, append(base, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func newTemplate(code string, sections ...template.Section) *template.Template {
	if len(sections) == 0 {
		sections = []template.Section{
			{
				Key: "deals", Title: "Deals", Enabled: true,
				Source: aggregation.Source{Module: "crm", Entity: "deals"},
				View:   template.View{Type: template.ViewTable},
			},
		}
	}
	return &template.Template{
		TenantID:   "acme",
		Code:       code,
		Name:       "Daily sales",
		ReportType: template.TypeDSR,
		Sections:   sections,
	}
}

func (h *harness) template(t *testing.T, code string) *template.Template {
	t.Helper()
	tpl, err := h.eng.CreateTemplate(context.Background(), newTemplate(code))
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	return tpl
}

func (h *harness) manual(t *testing.T, tpl *template.Template) *run.Run {
	t.Helper()
	r, err := h.eng.TriggerManualRun(context.Background(), engine.ManualRun{TenantID: "acme", TemplateID: tpl.ID, TriggeredBy: "user-1"})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	return r
}

func (h *harness) waitStatus(t *testing.T, runID id.RunID, want run.Status) *run.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r, err := h.store.GetRun(context.Background(), "acme", runID)
		if err == nil && r.Status == want {
			return r
		}
		time.Sleep(10 * time.Millisecond)
	}
	r, _ := h.store.GetRun(context.Background(), "acme", runID)
	t.Fatalf("run never reached %s, last %+v", want, r)
	return nil
}

func kolkata(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

// ──────────────────────────────────────────────────
// Build
// ──────────────────────────────────────────────────

func TestBuildRequiresCollaborators(t *testing.T) {
	r, err := reportflow.New(reportflow.WithStore(memory.New()), reportflow.WithLogger(discardLogger()))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Build(r, engine.WithRenderer(renderer())); !errors.Is(err, reportflow.ErrConfiguration) {
		t.Errorf("missing data access: %v", err)
	}
	if _, err := engine.Build(r, engine.WithDataAccess(data())); !errors.Is(err, reportflow.ErrConfiguration) {
		t.Errorf("missing renderer: %v", err)
	}

	bare, _ := reportflow.New(reportflow.WithLogger(discardLogger()))
	if _, err := engine.Build(bare); !errors.Is(err, reportflow.ErrNoStore) {
		t.Errorf("missing store: %v", err)
	}
}

// ──────────────────────────────────────────────────
// End to end
// ──────────────────────────────────────────────────

func TestManualRunEndToEnd(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	tpl, err := h.eng.CreateTemplate(ctx, newTemplate("DSR",
		template.Section{Key: "one", Title: "One", Enabled: true, Source: aggregation.Source{Module: "crm", Entity: "deals"}},
		template.Section{Key: "two", Title: "Two", Enabled: true, Source: aggregation.Source{Module: "crm", Entity: "broken"}},
		template.Section{Key: "three", Title: "Three", Enabled: true, Source: aggregation.Source{Module: "crm", Entity: "leads"}},
	))
	if err != nil {
		t.Fatal(err)
	}

	if err := h.eng.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = h.eng.Stop(ctx) }()

	r := h.manual(t, tpl)
	if r.Status != run.StatusQueued || r.Job.JobID.IsNil() || r.Job.Queue != "reports" {
		t.Fatalf("unexpected queued run: %+v", r)
	}

	done := h.waitStatus(t, r.ID, run.StatusSuccess)
	if got := done.DataSummary["two"]; got.Count != 0 || got.Error == "" {
		t.Errorf("failing section summary = %+v", got)
	}
	if done.DataSummary["one"].Count != 2 || done.DataSummary["three"].Count != 2 {
		t.Errorf("healthy sections = %+v", done.DataSummary)
	}
	if len(done.Outputs) != 1 || done.Outputs[0].Format != reportflow.FormatPDF {
		t.Errorf("outputs = %+v", done.Outputs)
	}
	if done.Job.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", done.Job.Attempts)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		j, err := h.store.GetJob(ctx, done.Job.JobID)
		if err != nil {
			t.Fatal(err)
		}
		if j.State == job.StateCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job state = %s, want completed", j.State)
		}
		time.Sleep(10 * time.Millisecond)
	}

	h.mu.Lock()
	notified := len(h.notified)
	h.mu.Unlock()
	if notified != 1 {
		t.Errorf("notifications = %d, want 1", notified)
	}

	entries, err := h.store.ListAudit(ctx, "acme", audit.ListOpts{ResourceType: audit.ResourceRun})
	if err != nil {
		t.Fatal(err)
	}
	actions := map[string]bool{}
	for _, e := range entries {
		actions[e.Action] = true
	}
	for _, want := range []string{audithook.ActionRunTriggered, audithook.ActionRunStarted, audithook.ActionRunSuccess} {
		if !actions[want] {
			t.Errorf("missing audit action %s in %v", want, actions)
		}
	}
}

// ──────────────────────────────────────────────────
// Admission
// ──────────────────────────────────────────────────

func TestManualRateLimit(t *testing.T) {
	h := newHarness(t, nil, func(c *reportflow.Config) { c.MaxActiveRuns = 100 })
	tpl := h.template(t, "DSR")

	for i := 0; i < 50; i++ {
		h.manual(t, tpl)
	}
	_, err := h.eng.TriggerManualRun(context.Background(), engine.ManualRun{TenantID: "acme", TemplateID: tpl.ID})
	if !errors.Is(err, reportflow.ErrRateLimitExceeded) {
		t.Fatalf("51st run: %v", err)
	}
	n, _ := h.store.CountRuns(context.Background(), "acme", run.ListOpts{})
	if n != 50 {
		t.Errorf("runs recorded = %d, want 50", n)
	}
}

func TestActiveRunCap(t *testing.T) {
	h := newHarness(t, nil, func(c *reportflow.Config) { c.MaxActiveRuns = 2 })
	tpl := h.template(t, "DSR")
	h.manual(t, tpl)
	h.manual(t, tpl)

	_, err := h.eng.TriggerManualRun(context.Background(), engine.ManualRun{TenantID: "acme", TemplateID: tpl.ID})
	if !errors.Is(err, reportflow.ErrConcurrencyLimitExceeded) {
		t.Fatalf("third run: %v", err)
	}
}

func TestTriggerManualRunValidation(t *testing.T) {
	h := newHarness(t, nil, nil)
	tpl := h.template(t, "DSR")
	ctx := context.Background()

	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)
	tests := []struct {
		name string
		req  engine.ManualRun
		want error
	}{
		{"inverted period", engine.ManualRun{TemplateID: tpl.ID, Period: reportflow.Period{From: &from, To: &to}}, reportflow.ErrConfiguration},
		{"bad format", engine.ManualRun{TemplateID: tpl.ID, Formats: []reportflow.Format{"DOCX"}}, reportflow.ErrConfiguration},
		{"scope without id", engine.ManualRun{TemplateID: tpl.ID, Scope: reportflow.Scope{Type: reportflow.ScopeDepartment}}, reportflow.ErrConfiguration},
		{"schedule trigger", engine.ManualRun{TemplateID: tpl.ID, Trigger: run.TriggerSchedule}, reportflow.ErrConfiguration},
		{"unknown template", engine.ManualRun{TemplateID: id.NewTemplateID()}, reportflow.ErrTemplateNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.TenantID = "acme"
			if _, err := h.eng.TriggerManualRun(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := h.eng.UpdateTemplateStatus(ctx, "acme", tpl.ID, template.StatusDisabled); err != nil {
		t.Fatal(err)
	}
	if _, err := h.eng.TriggerManualRun(ctx, engine.ManualRun{TenantID: "acme", TemplateID: tpl.ID}); !errors.Is(err, reportflow.ErrTemplateNotActive) {
		t.Errorf("disabled template: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Enqueue failure
// ──────────────────────────────────────────────────

type rejectingQueue struct {
	*memory.Store
}

func (rejectingQueue) EnqueueJob(context.Context, *job.Job) error {
	return errors.New("queue unavailable")
}

func TestEnqueueFailureFailsRun(t *testing.T) {
	s := memory.New()
	r, err := reportflow.New(reportflow.WithStore(rejectingQueue{s}), reportflow.WithLogger(discardLogger()))
	if err != nil {
		t.Fatal(err)
	}
	eng, err := engine.Build(r, engine.WithDataAccess(data()), engine.WithRenderer(renderer()))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	tpl, err := eng.CreateTemplate(ctx, newTemplate("DSR"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := eng.TriggerManualRun(ctx, engine.ManualRun{TenantID: "acme", TemplateID: tpl.ID}); err == nil {
		t.Fatal("expected enqueue error")
	}
	runs, _ := s.ListRuns(ctx, "acme", run.ListOpts{})
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	if runs[0].Status != run.StatusFailed || runs[0].Error.Code != reportflow.CodeEnqueueFailed {
		t.Errorf("run = %s %+v", runs[0].Status, runs[0].Error)
	}
}

// ──────────────────────────────────────────────────
// Retry, delete, stats
// ──────────────────────────────────────────────────

func failRun(t *testing.T, s *memory.Store, runID id.RunID) {
	t.Helper()
	ctx := context.Background()
	r, err := s.GetRun(ctx, "acme", runID)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	_ = r.Start(now)
	_ = r.Fail(now, &run.Error{Message: "boom", Code: reportflow.CodeExecution})
	if err := s.UpdateRun(ctx, r); err != nil {
		t.Fatal(err)
	}
}

func TestRetryRun(t *testing.T) {
	h := newHarness(t, nil, nil)
	tpl := h.template(t, "DSR")
	r := h.manual(t, tpl)
	ctx := context.Background()

	if _, err := h.eng.RetryRun(ctx, "acme", r.ID); !errors.Is(err, reportflow.ErrRunNotFailed) {
		t.Fatalf("retry of queued run: %v", err)
	}

	failRun(t, h.store, r.ID)
	firstJob := r.Job.JobID

	retried, err := h.eng.RetryRun(ctx, "acme", r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if retried.Status != run.StatusQueued || retried.Job.Attempts != 0 || retried.Error != nil {
		t.Errorf("retried run = %+v", retried)
	}
	if retried.Job.JobID.String() == firstJob.String() {
		t.Error("retry should enqueue a new job")
	}
	if _, err := h.store.GetJob(ctx, retried.Job.JobID); err != nil {
		t.Errorf("retry job not enqueued: %v", err)
	}
}

func TestDeleteRunRefusesRunning(t *testing.T) {
	h := newHarness(t, nil, nil)
	tpl := h.template(t, "DSR")
	r := h.manual(t, tpl)
	ctx := context.Background()

	stored, _ := h.store.GetRun(ctx, "acme", r.ID)
	_ = stored.Start(time.Now().UTC())
	if err := h.store.UpdateRun(ctx, stored); err != nil {
		t.Fatal(err)
	}
	if err := h.eng.DeleteRun(ctx, "acme", r.ID); !errors.Is(err, reportflow.ErrRunRunning) {
		t.Fatalf("delete running: %v", err)
	}

	_ = stored.Succeed(time.Now().UTC(), nil, nil)
	if err := h.store.UpdateRun(ctx, stored); err != nil {
		t.Fatal(err)
	}
	if err := h.eng.DeleteRun(ctx, "acme", r.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := h.eng.GetRun(ctx, "acme", r.ID); !errors.Is(err, reportflow.ErrRunNotFound) {
		t.Errorf("deleted run still readable: %v", err)
	}
}

func TestRunStatsAndList(t *testing.T) {
	h := newHarness(t, nil, nil)
	tpl := h.template(t, "DSR")
	ctx := context.Background()

	var ids []id.RunID
	for i := 0; i < 3; i++ {
		ids = append(ids, h.manual(t, tpl).ID)
	}
	failRun(t, h.store, ids[0])

	st, err := h.eng.RunStats(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 3 || st.Failed != 1 || st.Active != 2 || st.Success != 0 || st.SuccessRate != 0 {
		t.Errorf("stats = %+v", st)
	}

	page, err := h.eng.ListRuns(ctx, "acme", run.ListOpts{Statuses: []run.Status{run.StatusQueued}}, reportflow.PageRequest{Page: 1, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 || len(page.Items) != 1 || page.Pages != 2 {
		t.Errorf("page = total %d items %d pages %d", page.Total, len(page.Items), page.Pages)
	}
}

// ──────────────────────────────────────────────────
// Templates
// ──────────────────────────────────────────────────

func TestTemplateLifecycle(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	tpl := h.template(t, "DSR")

	if _, err := h.eng.CreateTemplate(ctx, newTemplate("DSR")); !errors.Is(err, reportflow.ErrTemplateExists) {
		t.Errorf("duplicate code: %v", err)
	}

	bad := newTemplate("BAD")
	bad.Sections[0].View = template.View{Type: template.ViewChart}
	if _, err := h.eng.CreateTemplate(ctx, bad); !errors.Is(err, reportflow.ErrConfiguration) {
		t.Errorf("chart without config: %v", err)
	}

	edit := tpl.Clone()
	edit.Code = "OTHER"
	if _, err := h.eng.UpdateTemplate(ctx, edit); !errors.Is(err, reportflow.ErrConfiguration) {
		t.Errorf("code change: %v", err)
	}
	edit.Code = ""
	edit.Name = "Renamed"
	updated, err := h.eng.UpdateTemplate(ctx, edit)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Name != "Renamed" || updated.Code != "DSR" {
		t.Errorf("updated = %s/%s", updated.Code, updated.Name)
	}

	cp, err := h.eng.CloneTemplate(ctx, "acme", tpl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(cp.Code, "DSR_COPY_") || cp.Name != "Renamed (Copy)" || cp.Status != template.StatusDisabled {
		t.Errorf("clone = %s %q %s", cp.Code, cp.Name, cp.Status)
	}

	page, err := h.eng.ListTemplates(ctx, "acme", template.ListOpts{Search: "copy"}, reportflow.PageRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 {
		t.Errorf("search total = %d", page.Total)
	}

	if _, err := h.eng.CreateSchedule(ctx, &schedule.Schedule{TenantID: "acme", TemplateID: tpl.ID, Name: "Daily", Cadence: cadence.Daily, RunAt: schedule.RunAt{Hour: 9}}); err != nil {
		t.Fatal(err)
	}
	if err := h.eng.DeleteTemplate(ctx, "acme", tpl.ID); !errors.Is(err, reportflow.ErrTemplateInUse) {
		t.Errorf("delete in use: %v", err)
	}
	if err := h.eng.DeleteTemplate(ctx, "acme", cp.ID); err != nil {
		t.Errorf("delete clone: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Schedules
// ──────────────────────────────────────────────────

func TestScheduleNextRunScenario(t *testing.T) {
	loc := kolkata(t)
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, loc)
	clock := func() time.Time { return now }
	h := newHarness(t, memory.New(memory.WithClock(clock)), nil, engine.WithClock(clock))
	tpl := h.template(t, "DSR")
	ctx := context.Background()

	s, err := h.eng.CreateSchedule(ctx, &schedule.Schedule{
		TenantID: "acme", TemplateID: tpl.ID, Name: "Morning DSR",
		Cadence: cadence.Daily, RunAt: schedule.RunAt{Hour: 9},
	})
	if err != nil {
		t.Fatal(err)
	}
	if s.Timezone != "Asia/Kolkata" || len(s.Output.Formats) != 1 || s.Output.Formats[0] != reportflow.FormatPDF {
		t.Errorf("defaults = %s %v", s.Timezone, s.Output.Formats)
	}
	if want := time.Date(2026, 3, 10, 9, 0, 0, 0, loc); !s.NextRunAt.Equal(want) {
		t.Errorf("next = %s, want %s", s.NextRunAt.In(loc), want)
	}

	now = time.Date(2026, 3, 10, 9, 1, 0, 0, loc)
	res, err := h.eng.Poller().Tick(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Triggered != 1 {
		t.Fatalf("tick = %+v", res)
	}

	fired, _ := h.eng.GetSchedule(ctx, "acme", s.ID)
	if want := time.Date(2026, 3, 11, 9, 0, 0, 0, loc); !fired.NextRunAt.Equal(want) {
		t.Errorf("next after firing = %s, want %s", fired.NextRunAt.In(loc), want)
	}
	r, err := h.eng.GetRun(ctx, "acme", fired.LastRunID)
	if err != nil {
		t.Fatal(err)
	}
	if r.TriggerType != run.TriggerSchedule || r.ScheduleID.String() != s.ID.String() {
		t.Errorf("run = %s %s", r.TriggerType, r.ScheduleID)
	}
	if r.Period.Label != "Daily - 2026-03-09" {
		t.Errorf("period label = %q", r.Period.Label)
	}
}

func TestScheduleRequiresActiveTemplate(t *testing.T) {
	h := newHarness(t, nil, nil)
	tpl := h.template(t, "DSR")
	ctx := context.Background()
	if _, err := h.eng.UpdateTemplateStatus(ctx, "acme", tpl.ID, template.StatusDisabled); err != nil {
		t.Fatal(err)
	}
	_, err := h.eng.CreateSchedule(ctx, &schedule.Schedule{TenantID: "acme", TemplateID: tpl.ID, Name: "x", Cadence: cadence.Daily})
	if !errors.Is(err, reportflow.ErrTemplateNotActive) {
		t.Errorf("got %v", err)
	}
}

func TestScheduleUpdatePauseResume(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	h := newHarness(t, memory.New(memory.WithClock(clock)), nil, engine.WithClock(clock))
	tpl := h.template(t, "DSR")
	ctx := context.Background()

	s, err := h.eng.CreateSchedule(ctx, &schedule.Schedule{
		TenantID: "acme", TemplateID: tpl.ID, Name: "Ops", Timezone: "UTC",
		Cadence: cadence.Daily, RunAt: schedule.RunAt{Hour: 6},
	})
	if err != nil {
		t.Fatal(err)
	}

	edit := s.Clone()
	edit.Name = "Ops renamed"
	renamed, err := h.eng.UpdateSchedule(ctx, edit)
	if err != nil {
		t.Fatal(err)
	}
	if !renamed.NextRunAt.Equal(*s.NextRunAt) {
		t.Errorf("rename moved next run to %s", renamed.NextRunAt)
	}

	edit = renamed.Clone()
	edit.Cadence = cadence.Weekly
	edit.Weekday = new(int)
	*edit.Weekday = 1
	moved, err := h.eng.UpdateSchedule(ctx, edit)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2026, 3, 16, 6, 0, 0, 0, time.UTC); !moved.NextRunAt.Equal(want) {
		t.Errorf("weekly next = %s, want %s", moved.NextRunAt, want)
	}

	paused, err := h.eng.PauseSchedule(ctx, "acme", s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if paused.Status != schedule.StatusPaused || paused.NextRunAt != nil {
		t.Errorf("paused = %s %v", paused.Status, paused.NextRunAt)
	}

	now = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	resumed, err := h.eng.ResumeSchedule(ctx, "acme", s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2026, 4, 6, 6, 0, 0, 0, time.UTC); !resumed.NextRunAt.Equal(want) {
		t.Errorf("resumed next = %s, want %s", resumed.NextRunAt, want)
	}

	upcoming, err := h.eng.UpcomingSchedules(ctx, "acme", 7*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(upcoming) != 1 {
		t.Errorf("upcoming = %d", len(upcoming))
	}
	if short, _ := h.eng.UpcomingSchedules(ctx, "acme", 0); len(short) != 0 {
		t.Errorf("24h window should be empty, got %d", len(short))
	}

	if err := h.eng.DeleteSchedule(ctx, "acme", s.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := h.eng.GetSchedule(ctx, "acme", s.ID); !errors.Is(err, reportflow.ErrScheduleNotFound) {
		t.Errorf("deleted schedule: %v", err)
	}
}

func TestTriggerScheduledRunRequiresActiveSchedule(t *testing.T) {
	h := newHarness(t, nil, nil)
	tpl := h.template(t, "DSR")
	ctx := context.Background()
	s, err := h.eng.CreateSchedule(ctx, &schedule.Schedule{TenantID: "acme", TemplateID: tpl.ID, Name: "x", Cadence: cadence.Daily, Status: schedule.StatusPaused})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.eng.TriggerSchedule(ctx, "acme", s.ID); !errors.Is(err, reportflow.ErrScheduleNotActive) {
		t.Errorf("paused schedule: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Dead letters
// ──────────────────────────────────────────────────

func TestCrashingRunIsDeadLetteredAndReplayed(t *testing.T) {
	var crash sync.Once
	crashing := executor.RendererFunc(func(_ context.Context, req executor.RenderRequest) (*run.Output, error) {
		crashed := false
		crash.Do(func() { crashed = true })
		if crashed {
			panic("renderer fell over")
		}
		return &run.Output{Format: req.Format, Storage: run.StorageLocal, LocationRef: req.RunID}, nil
	})
	h := newHarness(t, nil, func(c *reportflow.Config) { c.MaxAttempts = 1 }, engine.WithRenderer(crashing))
	tpl := h.template(t, "DSR")
	ctx := context.Background()

	if err := h.eng.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = h.eng.Stop(ctx) }()

	r := h.manual(t, tpl)
	failed := h.waitStatus(t, r.ID, run.StatusFailed)
	if failed.Error == nil || failed.Error.Code != reportflow.CodeCrash {
		t.Fatalf("failed run error = %+v", failed.Error)
	}

	var entries []*dlq.Entry
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && len(entries) == 0 {
		var err error
		if entries, err = h.eng.ListDeadLetters(ctx, "acme", reportflow.PageRequest{}); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(entries) != 1 {
		t.Fatalf("dead letters = %d", len(entries))
	}

	replayed, err := h.eng.ReplayDeadLetter(ctx, entries[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if replayed.Status != run.StatusQueued {
		t.Errorf("replayed status = %s", replayed.Status)
	}
	h.waitStatus(t, r.ID, run.StatusSuccess)

	if _, err := h.eng.ReplayDeadLetter(ctx, entries[0].ID); !errors.Is(err, reportflow.ErrDLQReplayed) {
		t.Errorf("second replay: %v", err)
	}
}
