package audithook_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/audit"
	ah "github.com/xraph/reportflow/audit_hook"
	"github.com/xraph/reportflow/ext"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/job"
	"github.com/xraph/reportflow/run"
	"github.com/xraph/reportflow/schedule"
	"github.com/xraph/reportflow/template"
)

// captureSink stores entries for inspection.
type captureSink struct {
	mu      sync.Mutex
	entries []*audit.Entry
	err     error
}

func (c *captureSink) Record(_ context.Context, e *audit.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
	return c.err
}

func (c *captureSink) last(t *testing.T) *audit.Entry {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		t.Fatal("no audit entries recorded")
	}
	return c.entries[len(c.entries)-1]
}

func newRun() *run.Run {
	return run.New("t1", id.NewTemplateID(), run.TriggerManual, reportflow.Period{Label: "Custom"}, reportflow.TenantScope(), nil)
}

func TestRunLifecycleEntries(t *testing.T) {
	sink := &captureSink{}
	e := ah.New(sink)
	ctx := context.Background()
	r := newRun()
	r.TriggeredBy = "user-1"

	_ = e.OnRunQueued(ctx, r)
	got := sink.last(t)
	if got.Action != ah.ActionRunTriggered || got.ResourceType != audit.ResourceRun || got.ActorID != "user-1" {
		t.Errorf("queued entry = %+v", got)
	}
	if got.Metadata["triggerType"] != "manual" || got.Metadata["nextStatus"] != "queued" {
		t.Errorf("queued metadata = %v", got.Metadata)
	}

	now := time.Now()
	_ = r.Start(now)
	_ = e.OnRunStarted(ctx, r)
	if got := sink.last(t); got.Metadata["previousStatus"] != "queued" || got.Metadata["nextStatus"] != "running" {
		t.Errorf("started metadata = %v", got.Metadata)
	}

	_ = r.Succeed(now.Add(time.Second), []run.Output{{Format: reportflow.FormatPDF}}, nil)
	_ = e.OnRunSucceeded(ctx, r, 1200*time.Millisecond)
	got = sink.last(t)
	if got.Action != ah.ActionRunSuccess {
		t.Errorf("Action = %q", got.Action)
	}
	if got.Metadata["durationMs"] != int64(1200) || got.Metadata["outputCount"] != 1 {
		t.Errorf("success metadata = %v", got.Metadata)
	}
	if got.Metadata["templateId"] != r.TemplateID.String() {
		t.Errorf("templateId = %v", got.Metadata["templateId"])
	}
}

func TestRunFailedEntry(t *testing.T) {
	sink := &captureSink{}
	e := ah.New(sink)
	r := newRun()
	_ = r.Start(time.Now())
	cause := reportflow.Configf("cadence", "bad")
	_ = r.Fail(time.Now(), run.ErrorFrom(cause))

	_ = e.OnRunFailed(context.Background(), r, cause)
	got := sink.last(t)
	if got.Action != ah.ActionRunFailed || got.Metadata["errorCode"] != reportflow.CodeConfiguration {
		t.Errorf("entry = %+v", got)
	}
	if got.Metadata["previousStatus"] != "running" {
		t.Errorf("previousStatus = %v", got.Metadata["previousStatus"])
	}
}

func TestRetriedRunAuditsAsTriggered(t *testing.T) {
	sink := &captureSink{}
	e := ah.New(sink)
	r := newRun()
	_ = e.OnRunRetried(context.Background(), r)

	got := sink.last(t)
	if got.Action != ah.ActionRunTriggered || got.Metadata["triggerType"] != "retry" {
		t.Errorf("entry = %+v", got)
	}
}

func TestJobEntriesTargetTheRun(t *testing.T) {
	sink := &captureSink{}
	e := ah.New(sink)
	r := newRun()
	j, err := job.New("reports", &job.Payload{RunID: r.ID.String(), TenantID: "t1"}, 3)
	if err != nil {
		t.Fatal(err)
	}

	_ = e.OnJobRetrying(context.Background(), j, 1, time.Now())
	if got := sink.last(t); got.Action != ah.ActionRunRetried || got.ResourceID != r.ID.String() {
		t.Errorf("retrying entry = %+v", got)
	}
	_ = e.OnJobDLQ(context.Background(), j, errors.New("crash"))
	if got := sink.last(t); got.Action != ah.ActionRunDeadLettered || got.Metadata["error"] != "crash" {
		t.Errorf("dlq entry = %+v", got)
	}
}

func TestScheduleAndTemplateDiffs(t *testing.T) {
	sink := &captureSink{}
	e := ah.New(sink)
	ctx := context.Background()

	before := &schedule.Schedule{ID: id.NewScheduleID(), TenantID: "t1", Status: schedule.StatusActive}
	after := before.Clone()
	after.Status = schedule.StatusPaused
	_ = e.OnScheduleUpdated(ctx, before, after)
	got := sink.last(t)
	if got.Diff == nil || got.Diff.Before != before || got.Diff.After != after {
		t.Errorf("diff = %+v", got.Diff)
	}
	if got.Metadata["nextStatus"] != "paused" {
		t.Errorf("metadata = %v", got.Metadata)
	}

	tpl := &template.Template{ID: id.NewTemplateID(), TenantID: "t1", Code: "DSR"}
	_ = e.OnTemplateDeleted(ctx, tpl)
	got = sink.last(t)
	if got.Action != ah.ActionTemplateDeleted || got.ResourceType != audit.ResourceTemplate || got.Diff.Before != tpl {
		t.Errorf("entry = %+v", got)
	}
}

func TestClientInfoFromContext(t *testing.T) {
	sink := &captureSink{}
	e := ah.New(sink)
	ctx := reportflow.WithClientInfo(context.Background(), reportflow.ClientInfo{
		ActorID: "admin", IP: "10.0.0.1", UserAgent: "curl/8",
	})

	_ = e.OnRunDeleted(ctx, newRun())
	got := sink.last(t)
	if got.ActorID != "admin" || got.IP != "10.0.0.1" || got.UserAgent != "curl/8" {
		t.Errorf("entry = %+v", got)
	}
}

func TestWithActionsFilters(t *testing.T) {
	sink := &captureSink{}
	e := ah.New(sink, ah.WithActions(ah.ActionRunFailed))
	r := newRun()

	_ = e.OnRunQueued(context.Background(), r)
	_ = e.OnRunFailed(context.Background(), r, errors.New("x"))

	if len(sink.entries) != 1 || sink.entries[0].Action != ah.ActionRunFailed {
		t.Errorf("entries = %+v", sink.entries)
	}
}

func TestSinkErrorsAreSwallowed(t *testing.T) {
	sink := &captureSink{err: errors.New("down")}
	e := ah.New(sink)
	if err := e.OnRunQueued(context.Background(), newRun()); err != nil {
		t.Errorf("err = %v, want nil", err)
	}
}

func TestRegistersThroughRegistry(t *testing.T) {
	sink := &captureSink{}
	reg := ext.NewRegistry(nil)
	reg.Register(ah.New(sink))

	reg.EmitScheduleFired(context.Background(), &schedule.Schedule{ID: id.NewScheduleID(), TenantID: "t1"}, newRun())
	if got := sink.last(t); got.Action != ah.ActionScheduleFired || got.Metadata["status"] != "success" {
		t.Errorf("entry = %+v", got)
	}
}

func TestAllActions(t *testing.T) {
	if got := len(ah.AllActions()); got != 14 {
		t.Errorf("AllActions() = %d, want 14", got)
	}
}
