// Package worker delivers report jobs to the executor. A Processor
// handles one dequeued job: it takes the per-run lock, runs the executor
// through middleware, and on a crash either schedules a retry with
// backoff or dead-letters the job. A Pool manages the goroutines that
// poll the job store and feed the Processor.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/backoff"
	"github.com/xraph/reportflow/dlq"
	"github.com/xraph/reportflow/ext"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/job"
	"github.com/xraph/reportflow/keyspace"
	"github.com/xraph/reportflow/lock"
	"github.com/xraph/reportflow/middleware"
	"github.com/xraph/reportflow/run"
)

// RunExecutor executes queued runs. *executor.Executor satisfies it.
type RunExecutor interface {
	Execute(ctx context.Context, tenantID string, runID id.RunID) (*run.Run, error)
	Notify(ctx context.Context, r *run.Run)
}

// Outcome is how a job left the Processor.
type Outcome string

const (
	// OutcomeCompleted means the run reached a terminal state.
	OutcomeCompleted Outcome = "completed"
	// OutcomeDuplicate means another worker holds the run lock.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeSkipped means the run is gone or no longer queued.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeRetrying means the job was rescheduled after a crash.
	OutcomeRetrying Outcome = "retrying"
	// OutcomeDeadLettered means the retry budget is spent.
	OutcomeDeadLettered Outcome = "dead_lettered"
)

// Processor runs one job at a time through the executor.
type Processor struct {
	jobs       job.Store
	runs       run.Store
	executor   RunExecutor
	locks      *lock.Coordinator
	keys       keyspace.Keys
	dlq        *dlq.Service
	extensions *ext.Registry
	backoff    backoff.Strategy
	mw         middleware.Middleware
	runLockTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithBackoff sets the retry delay strategy.
func WithBackoff(s backoff.Strategy) ProcessorOption {
	return func(p *Processor) { p.backoff = s }
}

// WithMiddleware sets the middleware wrapped around every execution.
// The first middleware is the outermost.
func WithMiddleware(mws ...middleware.Middleware) ProcessorOption {
	return func(p *Processor) { p.mw = middleware.Chain(mws...) }
}

// WithRunLockTTL sets how long the per-run lock is held at most.
func WithRunLockTTL(d time.Duration) ProcessorOption {
	return func(p *Processor) { p.runLockTTL = d }
}

// WithExtensions sets the lifecycle hook registry.
func WithExtensions(r *ext.Registry) ProcessorOption {
	return func(p *Processor) { p.extensions = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

// NewProcessor creates a Processor.
func NewProcessor(
	jobs job.Store,
	runs run.Store,
	executor RunExecutor,
	locks *lock.Coordinator,
	keys keyspace.Keys,
	dlqService *dlq.Service,
	logger *slog.Logger,
	opts ...ProcessorOption,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		jobs:       jobs,
		runs:       runs,
		executor:   executor,
		locks:      locks,
		keys:       keys,
		dlq:        dlqService,
		backoff:    backoff.Default(5 * time.Second),
		mw:         middleware.Chain(),
		runLockTTL: 10 * time.Minute,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.extensions == nil {
		p.extensions = ext.NewRegistry(logger)
	}
	return p
}

// Process handles a claimed job. The returned error is non-nil only when
// the job state itself could not be persisted.
func (p *Processor) Process(ctx context.Context, j *job.Job) (Outcome, error) {
	payload, err := job.DecodePayload(j.Payload)
	if err != nil {
		p.logger.Error("undecodable report job payload",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return p.deadLetter(ctx, j, nil, err)
	}

	lease, err := p.locks.TryAcquire(ctx, p.keys.RunLock(payload.TenantID, payload.RunID), p.runLockTTL)
	if err != nil {
		return p.handleFailure(ctx, j, fmt.Errorf("acquire run lock: %w", err), false)
	}
	if lease == nil {
		p.logger.Info("report run locked by another worker, skipping",
			slog.String("job_id", j.ID.String()),
			slog.String("run_id", payload.RunID),
		)
		return OutcomeDuplicate, p.complete(ctx, j)
	}
	defer lease.Release(ctx)

	terminal := func(ctx context.Context) error {
		_, execErr := p.executor.Execute(ctx, j.TenantID, j.RunID)
		return execErr
	}
	err = p.mw(ctx, j, terminal)

	switch {
	case err == nil:
		return OutcomeCompleted, p.complete(ctx, j)
	case errors.Is(err, reportflow.ErrRunNotFound), errors.Is(err, reportflow.ErrInvalidTransition):
		p.logger.Info("report job has no queued run, skipping",
			slog.String("job_id", j.ID.String()),
			slog.String("run_id", payload.RunID),
			slog.String("reason", err.Error()),
		)
		return OutcomeSkipped, p.complete(ctx, j)
	default:
		return p.handleFailure(ctx, j, err, true)
	}
}

func (p *Processor) complete(ctx context.Context, j *job.Job) error {
	now := p.clock()
	j.State = job.StateCompleted
	j.CompletedAt = &now
	if err := p.jobs.UpdateJob(context.WithoutCancel(ctx), j); err != nil {
		p.logger.Error("failed to update job after completion",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// handleFailure counts the attempt and either retries or dead-letters.
// The run is only failed and requeued when leased is true; without the
// run lock another worker may own it, so only the job is rescheduled.
func (p *Processor) handleFailure(ctx context.Context, j *job.Job, cause error, leased bool) (Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	j.Attempts++
	j.LastError = cause.Error()

	var r *run.Run
	if leased {
		r = p.failRun(ctx, j, cause)
	} else {
		p.logger.Warn("run lock unavailable, rescheduling job without touching run",
			slog.String("job_id", j.ID.String()),
			slog.String("run_id", j.RunID.String()),
			slog.String("error", cause.Error()),
		)
	}
	if j.Attempts < j.MaxAttempts {
		return p.scheduleRetry(ctx, j, r)
	}
	return p.deadLetter(ctx, j, r, cause)
}

// failRun fails a run that the crash left running. Queued and already
// failed runs are returned as they are.
func (p *Processor) failRun(ctx context.Context, j *job.Job, cause error) *run.Run {
	r, err := p.runs.GetRun(ctx, j.TenantID, j.RunID)
	if err != nil {
		p.logger.Warn("crashed job has no readable run",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if r.Status != run.StatusRunning {
		return r
	}
	if !errors.Is(cause, reportflow.ErrExecutorCrash) {
		cause = fmt.Errorf("%w: %v", reportflow.ErrExecutorCrash, cause)
	}
	if err := r.Fail(p.clock(), run.ErrorFrom(cause)); err != nil {
		return r
	}
	if err := p.runs.UpdateRun(ctx, r); err != nil {
		p.logger.Error("failed to record crashed run",
			slog.String("run_id", r.ID.String()),
			slog.String("error", err.Error()),
		)
		return r
	}
	p.extensions.EmitRunFailed(ctx, r, cause)
	return r
}

func (p *Processor) scheduleRetry(ctx context.Context, j *job.Job, r *run.Run) (Outcome, error) {
	now := p.clock()
	if r != nil && r.Status == run.StatusFailed {
		if err := r.Requeue(now); err == nil {
			if err := p.runs.UpdateRun(ctx, r); err != nil {
				p.logger.Error("failed to requeue run for retry",
					slog.String("run_id", r.ID.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	delay := p.backoff.Delay(j.Attempts)
	nextRunAt := now.Add(delay)
	j.State = job.StateRetrying
	j.RunAt = nextRunAt
	j.WorkerID = id.WorkerID{}
	j.HeartbeatAt = nil
	if err := p.jobs.UpdateJob(ctx, j); err != nil {
		p.logger.Error("failed to update job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return OutcomeRetrying, err
	}

	p.extensions.EmitJobRetrying(ctx, j, j.Attempts, nextRunAt)
	p.logger.Info("report job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("run_id", j.RunID.String()),
		slog.Int("attempt", j.Attempts),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
	)
	return OutcomeRetrying, nil
}

func (p *Processor) deadLetter(ctx context.Context, j *job.Job, r *run.Run, cause error) (Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	j.State = job.StateFailed
	j.LastError = cause.Error()
	if err := p.jobs.UpdateJob(ctx, j); err != nil {
		p.logger.Error("failed to update job as failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return OutcomeDeadLettered, err
	}

	if p.dlq != nil {
		if _, err := p.dlq.Push(ctx, j, cause); err != nil {
			p.logger.Error("failed to push job to DLQ",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	p.extensions.EmitJobDLQ(ctx, j, cause)

	p.logger.Warn("report job moved to DLQ after exhausting retries",
		slog.String("job_id", j.ID.String()),
		slog.String("run_id", j.RunID.String()),
		slog.Int("attempts", j.Attempts),
		slog.String("error", cause.Error()),
	)

	if r != nil && r.Status == run.StatusQueued {
		crash := cause
		if !errors.Is(crash, reportflow.ErrExecutorCrash) {
			crash = fmt.Errorf("%w: %v", reportflow.ErrExecutorCrash, cause)
		}
		if err := r.Fail(p.clock(), run.ErrorFrom(crash)); err == nil {
			if err := p.runs.UpdateRun(ctx, r); err != nil {
				p.logger.Error("failed to fail dead-lettered run",
					slog.String("run_id", r.ID.String()),
					slog.String("error", err.Error()),
				)
			} else {
				p.extensions.EmitRunFailed(ctx, r, crash)
			}
		}
	}
	if r != nil && r.Status == run.StatusFailed {
		p.executor.Notify(ctx, r)
	}
	return OutcomeDeadLettered, nil
}

func (p *Processor) clock() time.Time { return p.now().UTC() }
