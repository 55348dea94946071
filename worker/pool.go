package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/job"
)

// QueueManager admits jobs against per-queue and per-tenant ceilings.
// The pool asks before a claimed job reaches the Processor and gives the
// slot back once the job has an outcome.
type QueueManager interface {
	// Acquire reports whether a job of tenantID may start on queue now.
	Acquire(queue, tenantID string) bool
	// Release frees the slot taken by Acquire.
	Release(queue, tenantID string)
}

// Pool claims report jobs and feeds them to a Processor from a fixed
// number of goroutines. Optional loops keep heartbeats fresh for jobs in
// flight and hand jobs of dead workers back to the queue.
type Pool struct {
	store     job.Store
	processor *Processor
	admission QueueManager
	logger    *slog.Logger
	workerID  id.WorkerID

	concurrency       int
	queues            []string
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	staleJobThreshold time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	inflightMu sync.Mutex
	inflight   map[id.JobID]context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of jobs processed at once.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueues sets the queues the pool claims from.
func WithPoolQueues(queues []string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPollInterval sets how long an idle worker waits before claiming
// again. Rate-limited jobs are handed back for the same delay.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often jobs in flight are heartbeated.
// Zero disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleJobThreshold sets the heartbeat age after which a running job
// is considered abandoned and handed back. Zero disables the reaper.
func WithStaleJobThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleJobThreshold = d }
}

// WithQueueManager sets the admission control for claimed jobs.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.admission = m }
}

// NewPool creates a worker pool.
func NewPool(store job.Store, processor *Processor, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		store:        store,
		processor:    processor,
		logger:       logger,
		workerID:     id.NewWorkerID(),
		concurrency:  5,
		queues:       []string{"reports"},
		pollInterval: time.Second,
		stopCh:       make(chan struct{}),
		inflight:     make(map[id.JobID]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID identifies this pool on claimed jobs and heartbeats.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines and returns. Starting a running
// pool is a no-op.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("report worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
	)

	for range p.concurrency {
		p.spawn(p.workLoop)
	}
	if p.heartbeatInterval > 0 {
		p.spawn(p.every(p.heartbeatInterval, p.heartbeat))
	}
	if p.staleJobThreshold > 0 {
		p.spawn(p.every(p.staleJobThreshold, p.reap))
	}
	return nil
}

// Stop stops claiming and waits for jobs in flight. When ctx ends first
// their contexts are cancelled and Stop waits for them to unwind.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("report worker pool stopping", slog.String("worker_id", p.workerID.String()))
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("report worker pool stopped")
	case <-ctx.Done():
		p.logger.Warn("report worker pool stop timed out, cancelling jobs in flight")
		p.cancelInflight()
		<-done
	}
	return nil
}

func (p *Pool) spawn(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

// every returns a loop that calls fn on each tick until the pool stops.
func (p *Pool) every(d time.Duration, fn func()) func() {
	return func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				fn()
			}
		}
	}
}

func (p *Pool) workLoop() {
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		j, ok := p.claim()
		if !ok {
			p.idle()
			continue
		}
		if p.admission != nil && !p.admission.Acquire(j.Queue, j.TenantID) {
			p.handBack(j, p.processor.clock().Add(p.pollInterval), "rate limited")
			p.idle()
			continue
		}
		p.deliver(j)
		if p.admission != nil {
			p.admission.Release(j.Queue, j.TenantID)
		}
	}
}

// claim takes the next due job, if any.
func (p *Pool) claim() (*job.Job, bool) {
	jobs, err := p.store.DequeueJobs(context.Background(), p.queues, 1)
	if err != nil {
		p.logger.Error("failed to claim report job", slog.String("error", err.Error()))
		return nil, false
	}
	if len(jobs) == 0 {
		return nil, false
	}
	return jobs[0], true
}

// deliver runs one claimed job through the Processor.
func (p *Pool) deliver(j *job.Job) {
	j.WorkerID = p.workerID
	ctx, cancel := context.WithCancel(context.Background())
	p.track(j.ID, cancel)
	defer func() {
		p.untrack(j.ID)
		cancel()
	}()

	outcome, err := p.processor.Process(ctx, j)
	if err != nil {
		p.logger.Error("report job state not persisted",
			slog.String("job_id", j.ID.String()),
			slog.String("run_id", j.RunID.String()),
			slog.String("outcome", string(outcome)),
			slog.String("error", err.Error()),
		)
		return
	}
	p.logger.Debug("report job processed",
		slog.String("job_id", j.ID.String()),
		slog.String("run_id", j.RunID.String()),
		slog.String("outcome", string(outcome)),
	)
}

// handBack returns a claimed job to pending as if it had never been
// claimed. Attempts are untouched; the run is never read or written.
func (p *Pool) handBack(j *job.Job, runAt time.Time, reason string) bool {
	j.State = job.StatePending
	j.RunAt = runAt
	j.WorkerID = id.WorkerID{}
	j.StartedAt = nil
	j.HeartbeatAt = nil
	if err := p.store.UpdateJob(context.Background(), j); err != nil {
		p.logger.Error("failed to hand report job back",
			slog.String("job_id", j.ID.String()),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

func (p *Pool) heartbeat() {
	p.inflightMu.Lock()
	jobIDs := make([]id.JobID, 0, len(p.inflight))
	for jobID := range p.inflight {
		jobIDs = append(jobIDs, jobID)
	}
	p.inflightMu.Unlock()

	for _, jobID := range jobIDs {
		if err := p.store.HeartbeatJob(context.Background(), jobID, p.workerID); err != nil {
			p.logger.Warn("report job heartbeat failed",
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reap hands jobs of dead workers back to the queue. The run is only
// read for the log line: a redelivered job whose run is still running or
// locked is skipped by the Processor and the run is left to the
// stuck-run sweep.
func (p *Pool) reap() {
	ctx := context.Background()
	stale, err := p.store.ReapStaleJobs(ctx, p.staleJobThreshold)
	if err != nil {
		p.logger.Error("failed to list stale report jobs", slog.String("error", err.Error()))
		return
	}

	for _, j := range stale {
		if !p.handBack(j, p.processor.clock(), "stale heartbeat") {
			continue
		}
		runStatus := "unknown"
		if r, err := p.processor.runs.GetRun(ctx, j.TenantID, j.RunID); err == nil {
			runStatus = string(r.Status)
		}
		p.logger.Info("reaped stale report job",
			slog.String("job_id", j.ID.String()),
			slog.String("run_id", j.RunID.String()),
			slog.String("tenant_id", j.TenantID),
			slog.String("run_status", runStatus),
			slog.String("run_lock", p.processor.keys.RunLock(j.TenantID, j.RunID.String())),
		)
	}
}

func (p *Pool) idle() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) track(jobID id.JobID, cancel context.CancelFunc) {
	p.inflightMu.Lock()
	p.inflight[jobID] = cancel
	p.inflightMu.Unlock()
}

func (p *Pool) untrack(jobID id.JobID) {
	p.inflightMu.Lock()
	delete(p.inflight, jobID)
	p.inflightMu.Unlock()
}

func (p *Pool) cancelInflight() {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()
	for jobID, cancel := range p.inflight {
		p.logger.Warn("cancelling report job", slog.String("job_id", jobID.String()))
		cancel()
	}
}
