// Package sweep fails report runs left in running by a worker that died.
//
// A run holds its per-run lock for as long as a worker executes it. A
// run still running past the maximum duration whose lock is free has no
// live worker, so the Sweeper fails it with STUCK_TIMEOUT and sends the
// failure notification the worker never sent.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/ext"
	"github.com/xraph/reportflow/keyspace"
	"github.com/xraph/reportflow/lock"
	"github.com/xraph/reportflow/run"
)

// Notifier sends the completion notification of a terminal run.
type Notifier interface {
	Notify(ctx context.Context, r *run.Run)
}

// Sweeper periodically fails stuck runs.
type Sweeper struct {
	runs       run.Store
	locks      *lock.Coordinator
	keys       keyspace.Keys
	notifier   Notifier
	extensions *ext.Registry
	logger     *slog.Logger
	now        func() time.Time

	interval       time.Duration
	maxRunDuration time.Duration
	batchSize      int

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithInterval sets how often the sweep runs.
func WithInterval(d time.Duration) Option { return func(s *Sweeper) { s.interval = d } }

// WithMaxRunDuration sets how long a run may stay running.
func WithMaxRunDuration(d time.Duration) Option { return func(s *Sweeper) { s.maxRunDuration = d } }

// WithBatchSize caps the runs handled per sweep.
func WithBatchSize(n int) Option { return func(s *Sweeper) { s.batchSize = n } }

// WithExtensions sets the lifecycle hook registry.
func WithExtensions(r *ext.Registry) Option { return func(s *Sweeper) { s.extensions = r } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Sweeper) { s.now = now } }

// New creates a Sweeper. notifier may be nil.
func New(runs run.Store, locks *lock.Coordinator, keys keyspace.Keys, notifier Notifier, logger *slog.Logger, opts ...Option) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		runs:           runs,
		locks:          locks,
		keys:           keys,
		notifier:       notifier,
		logger:         logger,
		now:            time.Now,
		interval:       5 * time.Minute,
		maxRunDuration: 30 * time.Minute,
		batchSize:      100,
		stopCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.extensions == nil {
		s.extensions = ext.NewRegistry(logger)
	}
	return s
}

// Start launches the sweep loop. It returns immediately.
func (s *Sweeper) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	s.running = true

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop ends the sweep loop.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.Sweep(context.Background()); err != nil {
				s.logger.Error("stuck run sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep fails every stuck run whose lock is free and returns how many it
// failed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.clock().Add(-s.maxRunDuration)
	stuck, err := s.runs.ListStuckRuns(ctx, cutoff, s.batchSize)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, r := range stuck {
		ok, err := s.sweepOne(ctx, r)
		if err != nil {
			s.logger.Warn("failed to sweep stuck run",
				slog.String("run_id", r.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			swept++
		}
	}
	return swept, nil
}

func (s *Sweeper) sweepOne(ctx context.Context, r *run.Run) (bool, error) {
	lease, err := s.locks.TryAcquire(ctx, s.keys.RunLock(r.TenantID, r.ID.String()), time.Minute)
	if err != nil {
		return false, err
	}
	if lease == nil {
		// A worker still holds the run.
		return false, nil
	}
	defer lease.Release(ctx)

	// Re-read under the lock in case the run finished meanwhile.
	cur, err := s.runs.GetRun(ctx, r.TenantID, r.ID)
	if err != nil {
		return false, err
	}
	if cur.Status != run.StatusRunning {
		return false, nil
	}

	runErr := &run.Error{
		Message: fmt.Sprintf("run exceeded the maximum duration of %s", s.maxRunDuration),
		Code:    reportflow.CodeStuckTimeout,
	}
	if err := cur.Fail(s.clock(), runErr); err != nil {
		return false, err
	}
	if err := s.runs.UpdateRun(ctx, cur); err != nil {
		return false, err
	}

	s.logger.Warn("failed stuck report run",
		slog.String("run_id", cur.ID.String()),
		slog.String("tenant_id", cur.TenantID),
	)
	s.extensions.EmitRunFailed(ctx, cur, fmt.Errorf("%s: %s", runErr.Code, runErr.Message))
	if s.notifier != nil {
		s.notifier.Notify(ctx, cur)
	}
	return true, nil
}

func (s *Sweeper) clock() time.Time { return s.now().UTC() }
