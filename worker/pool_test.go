package worker_test

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/reportflow/job"
	"github.com/xraph/reportflow/queue"
	"github.com/xraph/reportflow/run"
	"github.com/xraph/reportflow/worker"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPool_StartStop(t *testing.T) {
	h := newHarness(t)
	pool := worker.NewPool(h.store, h.proc, discardLogger(),
		worker.WithPoolConcurrency(2),
		worker.WithPollInterval(20*time.Millisecond),
	)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestPool_ProcessesJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r1, _ := h.enqueue(t, 3)
	r2, _ := h.enqueue(t, 3)
	// enqueue claims the job; hand both back so the pool can dequeue them.
	for _, jb := range mustList(t, h, job.StateRunning) {
		jb.State = job.StatePending
		_ = h.store.UpdateJob(ctx, jb)
	}

	pool := worker.NewPool(h.store, h.proc, discardLogger(),
		worker.WithPoolConcurrency(2),
		worker.WithPollInterval(10*time.Millisecond),
		worker.WithPoolQueues([]string{"reports"}),
		worker.WithQueueManager(queue.NewManager(queue.Config{Name: "reports", MaxConcurrency: 2, JobsPerWindow: 10, Window: time.Second})),
	)
	if err := pool.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_ = pool.Stop(stopCtx)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		a, _ := h.store.GetRun(ctx, "acme", r1.ID)
		b, _ := h.store.GetRun(ctx, "acme", r2.ID)
		if a.Status == run.StatusSuccess && b.Status == run.StatusSuccess {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("runs were not processed before the deadline")
}

func TestPool_ReapsStaleJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, j := h.enqueue(t, 3)
	old := time.Now().UTC().Add(-time.Hour)
	j.HeartbeatAt = &old
	_ = h.store.UpdateJob(ctx, j)

	pool := worker.NewPool(h.store, h.proc, discardLogger(),
		worker.WithPoolConcurrency(1),
		worker.WithPollInterval(10*time.Millisecond),
		worker.WithStaleJobThreshold(20*time.Millisecond),
	)
	if err := pool.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_ = pool.Stop(stopCtx)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := h.store.GetJob(ctx, j.ID)
		if got.State == job.StateCompleted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("stale job was not redelivered")
}

// closedQueue admits nothing and counts how often it was asked.
type closedQueue struct{ asked atomic.Int32 }

func (q *closedQueue) Acquire(string, string) bool { q.asked.Add(1); return false }
func (q *closedQueue) Release(string, string)      {}

func TestPool_RateLimitedJobIsHandedBackUnclaimed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r, j := h.enqueue(t, 3)
	j.State = job.StatePending
	_ = h.store.UpdateJob(ctx, j)

	admission := &closedQueue{}
	pool := worker.NewPool(h.store, h.proc, discardLogger(),
		worker.WithPoolConcurrency(1),
		worker.WithPollInterval(10*time.Millisecond),
		worker.WithQueueManager(admission),
	)
	if err := pool.Start(ctx); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for admission.asked.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = pool.Stop(stopCtx)

	if admission.asked.Load() == 0 {
		t.Fatal("job was never offered for admission")
	}
	got, _ := h.store.GetJob(ctx, j.ID)
	if got.State != job.StatePending || got.Attempts != 0 {
		t.Fatalf("job = state %s attempts %d", got.State, got.Attempts)
	}
	if got.StartedAt != nil || got.HeartbeatAt != nil || !got.WorkerID.IsNil() {
		t.Fatalf("handed-back job still looks claimed: %+v", got)
	}
	if h.exec.Calls() != 0 {
		t.Fatal("rate-limited job must not reach the executor")
	}
	gotRun, _ := h.store.GetRun(ctx, "acme", r.ID)
	if gotRun.Status != run.StatusQueued {
		t.Fatalf("run status = %s", gotRun.Status)
	}
}

func mustList(t *testing.T, h *harness, state job.State) []*job.Job {
	t.Helper()
	list, err := h.store.ListJobsByState(context.Background(), state, job.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	return list
}
