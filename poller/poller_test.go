package poller_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/cadence"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/keyspace"
	"github.com/xraph/reportflow/lock"
	"github.com/xraph/reportflow/poller"
	"github.com/xraph/reportflow/run"
	"github.com/xraph/reportflow/schedule"
	"github.com/xraph/reportflow/store/memory"
)

var kolkata, _ = time.LoadLocation("Asia/Kolkata")

type recorder struct {
	mu    sync.Mutex
	fired []string
	fail  map[string]bool
}

func (r *recorder) TriggerScheduledRun(_ context.Context, s *schedule.Schedule) (*run.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, s.ID.String())
	if r.fail[s.ID.String()] {
		return nil, reportflow.ErrConcurrencyLimitExceeded
	}
	rn := run.New(s.TenantID, s.TemplateID, run.TriggerSchedule, reportflow.Period{}, s.Scope, nil)
	rn.ScheduleID = s.ID
	return rn, nil
}

type fixture struct {
	now   time.Time
	store *memory.Store
	locks *lock.Coordinator
	keys  keyspace.Keys
	rec   *recorder
	p     *poller.Poller
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{now: now, keys: keyspace.New("test"), rec: &recorder{fail: map[string]bool{}}}
	clock := func() time.Time { return f.now }
	f.store = memory.New(memory.WithClock(clock))
	f.locks = lock.NewCoordinator(f.store, nil)
	f.p = poller.New(f.store, f.rec, f.locks, f.keys, nil, poller.WithClock(clock))
	return f
}

func (f *fixture) daily(t *testing.T, next time.Time) *schedule.Schedule {
	t.Helper()
	s := &schedule.Schedule{
		Entity:     reportflow.NewEntity(),
		ID:         id.NewScheduleID(),
		TenantID:   "acme",
		TemplateID: id.NewTemplateID(),
		Name:       "daily sales",
		Status:     schedule.StatusActive,
		Scope:      reportflow.TenantScope(),
		Cadence:    cadence.Daily,
		Timezone:   "Asia/Kolkata",
		RunAt:      schedule.RunAt{Hour: 9},
		NextRunAt:  &next,
	}
	if err := f.store.CreateSchedule(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	return s
}

func (f *fixture) get(t *testing.T, s *schedule.Schedule) *schedule.Schedule {
	t.Helper()
	got, err := f.store.GetSchedule(context.Background(), s.TenantID, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func TestTickFiresAndAdvances(t *testing.T) {
	nine := time.Date(2026, 3, 2, 9, 0, 0, 0, kolkata)
	f := newFixture(t, nine.Add(time.Minute))
	s := f.daily(t, nine)

	res, err := f.p.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Due != 1 || res.Triggered != 1 {
		t.Fatalf("result = %+v", res)
	}

	got := f.get(t, s)
	want := nine.AddDate(0, 0, 1)
	if !got.NextRunAt.Equal(want) {
		t.Fatalf("next = %s, want %s", got.NextRunAt, want)
	}
	if got.LastRunStatus != schedule.LastRunSuccess || got.LastRunID.IsNil() || got.LastRunAt == nil {
		t.Fatalf("last run = %+v", got)
	}

	// Second tick in the same minute finds nothing due.
	res, _ = f.p.Tick(context.Background())
	if res.Due != 0 || len(f.rec.fired) != 1 {
		t.Fatalf("schedule fired twice: %+v", res)
	}
}

func TestTickCollapsesMissedFirings(t *testing.T) {
	nine := time.Date(2026, 3, 2, 9, 0, 0, 0, kolkata)
	f := newFixture(t, nine.AddDate(0, 0, 3).Add(time.Hour))
	s := f.daily(t, nine)

	if _, err := f.p.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.rec.fired) != 1 {
		t.Fatalf("expected a single catch-up run, got %d", len(f.rec.fired))
	}
	got := f.get(t, s)
	if !got.NextRunAt.After(f.now) {
		t.Fatalf("next %s must be after now %s", got.NextRunAt, f.now)
	}
}

func TestTickTriggerFailureStillAdvances(t *testing.T) {
	nine := time.Date(2026, 3, 2, 9, 0, 0, 0, kolkata)
	f := newFixture(t, nine.Add(time.Minute))
	bad := f.daily(t, nine)
	good := f.daily(t, nine.Add(-time.Hour))
	f.rec.fail[bad.ID.String()] = true

	res, err := f.p.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Triggered != 1 || res.Failed != 1 {
		t.Fatalf("result = %+v", res)
	}

	gotBad := f.get(t, bad)
	if gotBad.LastRunStatus != schedule.LastRunFailed || gotBad.LastError == "" {
		t.Fatalf("failed schedule = %+v", gotBad)
	}
	if !gotBad.NextRunAt.After(nine) {
		t.Fatal("failed schedule must still advance")
	}
	if f.get(t, good).LastRunStatus != schedule.LastRunSuccess {
		t.Fatal("one failure must not abort the tick")
	}
}

func TestTickRecoversTriggerPanic(t *testing.T) {
	nine := time.Date(2026, 3, 2, 9, 0, 0, 0, kolkata)
	f := newFixture(t, nine.Add(time.Minute))
	s := f.daily(t, nine)

	p := poller.New(f.store, poller.TriggerFunc(func(context.Context, *schedule.Schedule) (*run.Run, error) {
		panic("template cache poisoned")
	}), f.locks, f.keys, nil, poller.WithClock(func() time.Time { return f.now }))

	res, err := p.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 1 || res.Triggered != 0 {
		t.Fatalf("result = %+v", res)
	}

	got := f.get(t, s)
	if got.LastRunStatus != schedule.LastRunFailed || !strings.Contains(got.LastError, "template cache poisoned") {
		t.Fatalf("schedule = status %s error %q", got.LastRunStatus, got.LastError)
	}
	if want := nine.AddDate(0, 0, 1); !got.NextRunAt.Equal(want) {
		t.Fatalf("next = %s, want %s", got.NextRunAt, want)
	}

	// The poller lock is released, so the next tick runs.
	res, err = p.Tick(context.Background())
	if err != nil || res.Skipped {
		t.Fatalf("next tick = %+v err=%v", res, err)
	}
}

func TestTickSkipsWhenPollerLockHeld(t *testing.T) {
	nine := time.Date(2026, 3, 2, 9, 0, 0, 0, kolkata)
	f := newFixture(t, nine.Add(time.Minute))
	f.daily(t, nine)

	held, _ := f.locks.TryAcquire(context.Background(), f.keys.PollerLock(), time.Minute)
	if held == nil {
		t.Fatal("expected to hold the poller lock")
	}

	res, err := f.p.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped || len(f.rec.fired) != 0 {
		t.Fatalf("result = %+v fired=%d", res, len(f.rec.fired))
	}
}

func TestTickSkipsLockedSchedule(t *testing.T) {
	nine := time.Date(2026, 3, 2, 9, 0, 0, 0, kolkata)
	f := newFixture(t, nine.Add(time.Minute))
	s := f.daily(t, nine)

	held, _ := f.locks.TryAcquire(context.Background(), f.keys.ScheduleLock("acme", s.ID.String()), time.Minute)
	if held == nil {
		t.Fatal("expected to hold the schedule lock")
	}

	res, _ := f.p.Tick(context.Background())
	if res.Locked != 1 || len(f.rec.fired) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if !f.get(t, s).NextRunAt.Equal(nine) {
		t.Fatal("locked schedule must be left to its holder")
	}
}

func TestTickDisablesUnresolvableCadence(t *testing.T) {
	nine := time.Date(2026, 3, 2, 9, 0, 0, 0, kolkata)
	f := newFixture(t, nine.Add(time.Minute))
	s := f.daily(t, nine)
	s.Cadence = cadence.Weekly
	s.Weekday = nil
	if err := f.store.UpdateSchedule(context.Background(), s); err != nil {
		t.Fatal(err)
	}

	if _, err := f.p.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := f.get(t, s)
	if got.Status != schedule.StatusDisabled || got.NextRunAt != nil {
		t.Fatalf("schedule = %+v", got)
	}
	if got.LastRunStatus != schedule.LastRunFailed || got.LastError == "" {
		t.Fatal("expected the cadence error to be recorded")
	}
}

func TestTickIgnoresPausedSchedules(t *testing.T) {
	nine := time.Date(2026, 3, 2, 9, 0, 0, 0, kolkata)
	f := newFixture(t, nine.Add(time.Minute))
	s := f.daily(t, nine)
	s.Status = schedule.StatusPaused
	_ = f.store.UpdateSchedule(context.Background(), s)

	res, _ := f.p.Tick(context.Background())
	if res.Due != 0 || len(f.rec.fired) != 0 {
		t.Fatalf("paused schedule fired: %+v", res)
	}
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, time.Now())
	p := poller.New(f.store, f.rec, f.locks, f.keys, nil, poller.WithInterval(10*time.Millisecond))
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if err := p.Stop(ctx); err != nil {
		t.Fatal(err)
	}
}
