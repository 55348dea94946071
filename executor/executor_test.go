package executor_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/aggregation"
	"github.com/xraph/reportflow/executor"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/notify"
	"github.com/xraph/reportflow/run"
	"github.com/xraph/reportflow/store/memory"
	"github.com/xraph/reportflow/template"
)

type fixture struct {
	store    *memory.Store
	tpl      *template.Template
	rendered []executor.RenderRequest
	notified []*notify.Notification
	mu       sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.New()}
	f.tpl = &template.Template{
		Entity:   reportflow.NewEntity(),
		ID:       id.NewTemplateID(),
		TenantID: "acme",
		Code:     "sales-weekly",
		Name:     "Weekly Sales",
		Sections: []template.Section{
			{Key: "orders", Title: "Orders", Enabled: true, Source: aggregation.Source{Module: "sales", Entity: "orders"}},
			{Key: "refunds", Title: "Refunds", Enabled: true, Source: aggregation.Source{Module: "sales", Entity: "refunds"}},
			{Key: "hidden", Title: "Hidden", Enabled: false, Source: aggregation.Source{Module: "sales", Entity: "hidden"}},
		},
	}
	f.tpl.ApplyDefaults()
	if err := f.store.CreateTemplate(context.Background(), f.tpl); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) queue(t *testing.T, formats ...reportflow.Format) *run.Run {
	t.Helper()
	r := run.New("acme", f.tpl.ID, run.TriggerManual, reportflow.Period{}, reportflow.TenantScope(), formats)
	r.TriggeredBy = "user-1"
	if err := f.store.CreateRun(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	return r
}

func (f *fixture) data(failEntity string) executor.DataAccess {
	return executor.DataAccessFunc(func(_ context.Context, plan aggregation.Plan) ([]executor.Row, error) {
		if plan.TenantID != "acme" {
			return nil, errors.New("plan escaped tenant")
		}
		if plan.Entity == failEntity {
			return nil, errors.New("collection offline")
		}
		return []executor.Row{{"total": 10}, {"total": 20}}, nil
	})
}

func (f *fixture) renderer() executor.Renderer {
	return executor.RendererFunc(func(_ context.Context, req executor.RenderRequest) (*run.Output, error) {
		f.mu.Lock()
		f.rendered = append(f.rendered, req)
		f.mu.Unlock()
		return &run.Output{Format: req.Format, Storage: run.StorageLocal, LocationRef: req.RunID + "/" + string(req.Format)}, nil
	})
}

func (f *fixture) notifier() notify.Emitter {
	return notify.EmitterFunc(func(_ context.Context, n *notify.Notification) error {
		f.mu.Lock()
		f.notified = append(f.notified, n)
		f.mu.Unlock()
		return nil
	})
}

func TestExecuteSuccessContainsSectionFailure(t *testing.T) {
	f := newFixture(t)
	r := f.queue(t, reportflow.FormatPDF, reportflow.FormatCSV)
	ex := executor.New(f.store, f.store, f.data("refunds"), f.renderer(), executor.WithNotifier(f.notifier()))

	got, err := ex.Execute(context.Background(), "acme", r.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.Status != run.StatusSuccess {
		t.Fatalf("status = %s, want success", got.Status)
	}
	if len(got.Outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(got.Outputs))
	}
	if s := got.DataSummary["orders"]; s.Count != 2 || s.Error != "" {
		t.Errorf("orders summary = %+v", s)
	}
	if s := got.DataSummary["refunds"]; s.Count != 0 || s.Error == "" {
		t.Errorf("refunds summary = %+v", s)
	}
	if _, ok := got.DataSummary["hidden"]; ok {
		t.Error("disabled section must be skipped")
	}

	stored, _ := f.store.GetRun(context.Background(), "acme", r.ID)
	if stored.Status != run.StatusSuccess || stored.Job.FinishedAt == nil {
		t.Fatalf("stored run = %+v", stored)
	}

	if len(f.notified) != 1 || f.notified[0].Title != "Report Ready" {
		t.Fatalf("notifications = %+v", f.notified)
	}
	if len(f.notified[0].UserIDs) != 1 || f.notified[0].UserIDs[0] != "user-1" {
		t.Errorf("recipients = %v", f.notified[0].UserIDs)
	}
}

func TestExecuteDisabledTemplateFailsWithConfigurationError(t *testing.T) {
	f := newFixture(t)
	f.tpl.Status = template.StatusDisabled
	_ = f.store.UpdateTemplate(context.Background(), f.tpl)
	r := f.queue(t)
	ex := executor.New(f.store, f.store, f.data(""), f.renderer(), executor.WithNotifier(f.notifier()))

	got, err := ex.Execute(context.Background(), "acme", r.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.Status != run.StatusFailed || got.Error == nil || got.Error.Code != reportflow.CodeConfiguration {
		t.Fatalf("run = %+v", got)
	}
	if len(f.rendered) != 0 {
		t.Error("renderer must not be called")
	}
	if len(f.notified) != 1 || f.notified[0].Title != "Report Failed" {
		t.Fatalf("notifications = %+v", f.notified)
	}
}

func TestExecuteMissingTemplate(t *testing.T) {
	f := newFixture(t)
	r := f.queue(t)
	_ = f.store.DeleteTemplate(context.Background(), "acme", f.tpl.ID)
	ex := executor.New(f.store, f.store, f.data(""), f.renderer(), executor.WithNotifier(f.notifier()))

	got, err := ex.Execute(context.Background(), "acme", r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Error == nil || got.Error.Code != reportflow.CodeConfiguration {
		t.Fatalf("error = %+v", got.Error)
	}
}

func TestExecuteRenderErrorFailsRun(t *testing.T) {
	f := newFixture(t)
	r := f.queue(t)
	render := executor.RendererFunc(func(context.Context, executor.RenderRequest) (*run.Output, error) {
		return nil, errors.New("disk full")
	})
	ex := executor.New(f.store, f.store, f.data(""), render, executor.WithNotifier(f.notifier()))

	got, err := ex.Execute(context.Background(), "acme", r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != run.StatusFailed || got.Error.Code != reportflow.CodeExecution {
		t.Fatalf("run = %+v", got)
	}
}

func TestExecuteRejectsRunThatIsNotQueued(t *testing.T) {
	f := newFixture(t)
	r := f.queue(t)
	ex := executor.New(f.store, f.store, f.data(""), f.renderer(), executor.WithNotifier(f.notifier()))
	if _, err := ex.Execute(context.Background(), "acme", r.ID); err != nil {
		t.Fatal(err)
	}

	_, err := ex.Execute(context.Background(), "acme", r.ID)
	if !errors.Is(err, reportflow.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if len(f.notified) != 1 {
		t.Fatalf("redelivery must not notify again, got %d", len(f.notified))
	}

	if _, err := ex.Execute(context.Background(), "globex", r.ID); !errors.Is(err, reportflow.ErrRunNotFound) {
		t.Fatalf("cross-tenant execute: %v", err)
	}
}

func TestExecuteRendererPanicIsCrash(t *testing.T) {
	f := newFixture(t)
	r := f.queue(t)
	render := executor.RendererFunc(func(context.Context, executor.RenderRequest) (*run.Output, error) {
		panic("nil map")
	})
	ex := executor.New(f.store, f.store, f.data(""), render, executor.WithNotifier(f.notifier()))

	_, err := ex.Execute(context.Background(), "acme", r.ID)
	if !errors.Is(err, reportflow.ErrExecutorCrash) {
		t.Fatalf("expected ErrExecutorCrash, got %v", err)
	}
	stored, _ := f.store.GetRun(context.Background(), "acme", r.ID)
	if stored.Status != run.StatusFailed || stored.Error.Code != reportflow.CodeCrash {
		t.Fatalf("stored run = %+v", stored)
	}
	if len(f.notified) != 0 {
		t.Fatal("crash must leave notification to the worker")
	}
}

func TestExecuteSectionPanicIsContained(t *testing.T) {
	f := newFixture(t)
	r := f.queue(t)
	data := executor.DataAccessFunc(func(_ context.Context, plan aggregation.Plan) ([]executor.Row, error) {
		if plan.Entity == "orders" {
			panic("bad cursor")
		}
		return []executor.Row{{"n": 1}}, nil
	})
	ex := executor.New(f.store, f.store, data, f.renderer(), executor.WithNotifier(f.notifier()))

	got, err := ex.Execute(context.Background(), "acme", r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != run.StatusSuccess || got.DataSummary["orders"].Error == "" {
		t.Fatalf("run = %+v", got)
	}
}

// flakyRuns fails the second UpdateRun, which persists the result.
type flakyRuns struct {
	*memory.Store
	calls atomic.Int32
}

func (s *flakyRuns) UpdateRun(ctx context.Context, r *run.Run) error {
	if s.calls.Add(1) == 2 {
		return errors.New("connection reset")
	}
	return s.Store.UpdateRun(ctx, r)
}

func TestExecutePersistFailureIsCrash(t *testing.T) {
	f := newFixture(t)
	r := f.queue(t)
	runs := &flakyRuns{Store: f.store}
	ex := executor.New(runs, f.store, f.data(""), f.renderer(), executor.WithNotifier(f.notifier()))

	_, err := ex.Execute(context.Background(), "acme", r.ID)
	if !errors.Is(err, reportflow.ErrExecutorCrash) {
		t.Fatalf("expected ErrExecutorCrash, got %v", err)
	}
	stored, _ := f.store.GetRun(context.Background(), "acme", r.ID)
	if stored.Status != run.StatusFailed || stored.Error.Code != reportflow.CodeCrash {
		t.Fatalf("stored run = %+v", stored)
	}
}

type insights struct{ fail bool }

func (g insights) Summarize(_ context.Context, sections []executor.SectionResult, ic executor.InsightContext) (string, error) {
	if g.fail {
		return "", errors.New("model unavailable")
	}
	return ic.TemplateName + ": " + sections[0].Key, nil
}

func TestExecuteNarrativeSections(t *testing.T) {
	for _, tc := range []struct {
		name string
		gen  insights
	}{
		{"ok", insights{}},
		{"generator fails", insights{fail: true}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.tpl.Sections[0].Narrative = true
			_ = f.store.UpdateTemplate(context.Background(), f.tpl)
			r := f.queue(t)
			ex := executor.New(f.store, f.store, f.data(""), f.renderer(),
				executor.WithNotifier(f.notifier()), executor.WithInsightGenerator(tc.gen))

			got, err := ex.Execute(context.Background(), "acme", r.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != run.StatusSuccess {
				t.Fatalf("status = %s", got.Status)
			}
			s := got.DataSummary["orders"]
			if tc.gen.fail {
				if s.Error == "" || s.Narrative != "" {
					t.Errorf("summary = %+v", s)
				}
				return
			}
			if s.Narrative != "Weekly Sales: orders" {
				t.Errorf("narrative = %q", s.Narrative)
			}
			if got.DataSummary["refunds"].Narrative != "" {
				t.Error("non-narrative section must not be summarized")
			}
		})
	}
}

func TestExecuteNotifierErrorIsIgnored(t *testing.T) {
	f := newFixture(t)
	r := f.queue(t)
	failing := notify.EmitterFunc(func(context.Context, *notify.Notification) error {
		return errors.New("redis down")
	})
	ex := executor.New(f.store, f.store, f.data(""), f.renderer(), executor.WithNotifier(failing))

	got, err := ex.Execute(context.Background(), "acme", r.ID)
	if err != nil || got.Status != run.StatusSuccess {
		t.Fatalf("run=%+v err=%v", got, err)
	}
}
