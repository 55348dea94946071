// Package poller fires due report schedules.
//
// Every tick the Poller takes the global poller lock, lists active
// schedules whose NextRunAt has passed, and for each one takes the
// per-schedule lock, triggers a run, and reprograms NextRunAt from the
// current time. NextRunAt advances whether or not the trigger succeeded,
// so missed firings collapse into a single run and a failing schedule is
// never stuck. Lock contention at either level skips the work for this
// tick.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/reportflow/cadence"
	"github.com/xraph/reportflow/ext"
	"github.com/xraph/reportflow/keyspace"
	"github.com/xraph/reportflow/lock"
	"github.com/xraph/reportflow/run"
	"github.com/xraph/reportflow/schedule"
)

// Trigger creates and enqueues the run of a due schedule.
type Trigger interface {
	TriggerScheduledRun(ctx context.Context, s *schedule.Schedule) (*run.Run, error)
}

// TriggerFunc adapts a plain function to Trigger.
type TriggerFunc func(ctx context.Context, s *schedule.Schedule) (*run.Run, error)

// TriggerScheduledRun calls f.
func (f TriggerFunc) TriggerScheduledRun(ctx context.Context, s *schedule.Schedule) (*run.Run, error) {
	return f(ctx, s)
}

// TickResult summarizes one tick.
type TickResult struct {
	// Skipped is true when another poller held the global lock.
	Skipped   bool
	Due       int
	Triggered int
	Failed    int
	// Locked counts schedules another instance was already handling.
	Locked int
}

// Poller is the scheduler control loop.
type Poller struct {
	schedules  schedule.Store
	trigger    Trigger
	locks      *lock.Coordinator
	keys       keyspace.Keys
	resolver   *cadence.Resolver
	extensions *ext.Registry
	logger     *slog.Logger
	now        func() time.Time

	interval        time.Duration
	pollerLockTTL   time.Duration
	scheduleLockTTL time.Duration
	batchSize       int

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the tick interval.
func WithInterval(d time.Duration) Option { return func(p *Poller) { p.interval = d } }

// WithLockTTLs sets the global and per-schedule lock TTLs.
func WithLockTTLs(poller, schedule time.Duration) Option {
	return func(p *Poller) {
		p.pollerLockTTL = poller
		p.scheduleLockTTL = schedule
	}
}

// WithBatchSize caps the due schedules handled per tick.
func WithBatchSize(n int) Option { return func(p *Poller) { p.batchSize = n } }

// WithResolver sets the cadence resolver.
func WithResolver(r *cadence.Resolver) Option { return func(p *Poller) { p.resolver = r } }

// WithExtensions sets the lifecycle hook registry.
func WithExtensions(r *ext.Registry) Option { return func(p *Poller) { p.extensions = r } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(p *Poller) { p.now = now } }

// New creates a Poller.
func New(schedules schedule.Store, trigger Trigger, locks *lock.Coordinator, keys keyspace.Keys, logger *slog.Logger, opts ...Option) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Poller{
		schedules:       schedules,
		trigger:         trigger,
		locks:           locks,
		keys:            keys,
		resolver:        cadence.NewResolver(),
		logger:          logger,
		now:             time.Now,
		interval:        time.Minute,
		pollerLockTTL:   time.Minute,
		scheduleLockTTL: 5 * time.Minute,
		batchSize:       100,
		stopCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.extensions == nil {
		p.extensions = ext.NewRegistry(logger)
	}
	return p
}

// Start launches the tick loop. It returns immediately.
func (p *Poller) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("schedule poller starting", slog.Duration("interval", p.interval))

	p.wg.Add(1)
	go p.loop()
	return nil
}

// Stop ends the tick loop and waits for an in-flight tick to finish or
// ctx to expire.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("schedule poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if _, err := p.Tick(context.Background()); err != nil {
				p.logger.Error("schedule poller tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Tick runs one polling cycle. Per-schedule failures are recorded on the
// schedule and never abort the tick; the returned error is limited to
// the global lock and the due-schedule query.
func (p *Poller) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult

	lease, err := p.locks.TryAcquire(ctx, p.keys.PollerLock(), p.pollerLockTTL)
	if err != nil {
		return res, err
	}
	if lease == nil {
		res.Skipped = true
		return res, nil
	}
	defer lease.Release(ctx)

	now := p.clock()
	due, err := p.schedules.ListDueSchedules(ctx, now, p.batchSize)
	if err != nil {
		return res, err
	}
	res.Due = len(due)

	for _, s := range due {
		switch p.fire(ctx, s) {
		case fired:
			res.Triggered++
		case failed:
			res.Failed++
		case locked:
			res.Locked++
		}
	}

	if res.Due > 0 {
		p.logger.Info("schedule poller tick",
			slog.Int("due", res.Due),
			slog.Int("triggered", res.Triggered),
			slog.Int("failed", res.Failed),
			slog.Int("locked", res.Locked),
		)
	}
	return res, nil
}

type fireResult int

const (
	skipped fireResult = iota
	fired
	failed
	locked
)

// fire handles one due schedule under its lock.
func (p *Poller) fire(ctx context.Context, due *schedule.Schedule) fireResult {
	lease, err := p.locks.TryAcquire(ctx, p.keys.ScheduleLock(due.TenantID, due.ID.String()), p.scheduleLockTTL)
	if err != nil {
		p.logger.Warn("schedule lock failed",
			slog.String("schedule_id", due.ID.String()),
			slog.String("error", err.Error()),
		)
		return failed
	}
	if lease == nil {
		return locked
	}
	defer lease.Release(ctx)

	// Re-read under the lock; the schedule may have been paused, edited
	// or fired since the due query.
	s, err := p.schedules.GetSchedule(ctx, due.TenantID, due.ID)
	if err != nil {
		p.logger.Warn("due schedule vanished",
			slog.String("schedule_id", due.ID.String()),
			slog.String("error", err.Error()),
		)
		return skipped
	}
	now := p.clock()
	if s.Status != schedule.StatusActive || s.NextRunAt == nil || s.NextRunAt.After(now) {
		return skipped
	}

	r, triggerErr := p.triggerRun(ctx, s)

	now = p.clock()
	s.LastRunAt = &now
	if triggerErr != nil {
		s.LastRunStatus = schedule.LastRunFailed
		s.LastError = triggerErr.Error()
	} else {
		s.LastRunID = r.ID
		s.LastRunStatus = schedule.LastRunSuccess
		s.LastError = ""
	}

	next, err := p.resolver.Next(s.CadenceSpec(), now)
	if err != nil {
		p.logger.Error("schedule cadence no longer resolves, disabling",
			slog.String("schedule_id", s.ID.String()),
			slog.String("tenant_id", s.TenantID),
			slog.String("error", err.Error()),
		)
		s.Status = schedule.StatusDisabled
		s.NextRunAt = nil
		s.LastRunStatus = schedule.LastRunFailed
		s.LastError = err.Error()
	} else {
		s.NextRunAt = &next
	}

	if err := p.schedules.UpdateSchedule(ctx, s); err != nil {
		p.logger.Error("failed to reprogram schedule",
			slog.String("schedule_id", s.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	if triggerErr != nil {
		p.logger.Warn("scheduled run trigger failed",
			slog.String("schedule_id", s.ID.String()),
			slog.String("tenant_id", s.TenantID),
			slog.String("error", triggerErr.Error()),
		)
		p.extensions.EmitScheduleTriggerFailed(ctx, s, triggerErr)
		return failed
	}
	p.extensions.EmitScheduleFired(ctx, s, r)
	return fired
}

// triggerRun calls the trigger and turns a panic into a trigger error so
// the schedule is still recorded and reprogrammed.
func (p *Poller) triggerRun(ctx context.Context, s *schedule.Schedule) (r *run.Run, err error) {
	defer func() {
		if v := recover(); v != nil {
			p.logger.Error("scheduled run trigger panicked",
				slog.String("schedule_id", s.ID.String()),
				slog.String("tenant_id", s.TenantID),
				slog.Any("panic", v),
			)
			r, err = nil, fmt.Errorf("trigger panic: %v", v)
		}
	}()
	return p.trigger.TriggerScheduledRun(ctx, s)
}

func (p *Poller) clock() time.Time { return p.now().UTC() }
