package sweep_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/keyspace"
	"github.com/xraph/reportflow/lock"
	"github.com/xraph/reportflow/run"
	"github.com/xraph/reportflow/store/memory"
	"github.com/xraph/reportflow/sweep"
)

type notes struct {
	mu   sync.Mutex
	runs []*run.Run
}

func (n *notes) Notify(_ context.Context, r *run.Run) {
	n.mu.Lock()
	n.runs = append(n.runs, r)
	n.mu.Unlock()
}

func running(t *testing.T, s *memory.Store, started time.Time) *run.Run {
	t.Helper()
	r := run.New("acme", id.NewTemplateID(), run.TriggerSchedule, reportflow.Period{}, reportflow.TenantScope(), nil)
	if err := r.Start(started); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateRun(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestSweepFailsStuckRuns(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	keys := keyspace.New("test")
	locks := lock.NewCoordinator(s, nil)
	n := &notes{}
	sw := sweep.New(s, locks, keys, n, nil, sweep.WithMaxRunDuration(30*time.Minute))

	now := time.Now().UTC()
	stuck := running(t, s, now.Add(-time.Hour))
	alive := running(t, s, now.Add(-time.Hour))
	fresh := running(t, s, now.Add(-time.Minute))

	held, _ := locks.TryAcquire(ctx, keys.RunLock("acme", alive.ID.String()), time.Minute)
	if held == nil {
		t.Fatal("expected to hold the run lock")
	}

	swept, err := sw.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	got, _ := s.GetRun(ctx, "acme", stuck.ID)
	if got.Status != run.StatusFailed || got.Error.Code != reportflow.CodeStuckTimeout {
		t.Fatalf("stuck run = %+v", got)
	}
	for _, r := range []*run.Run{alive, fresh} {
		got, _ := s.GetRun(ctx, "acme", r.ID)
		if got.Status != run.StatusRunning {
			t.Fatalf("run %s must stay running", r.ID)
		}
	}
	if len(n.runs) != 1 {
		t.Fatalf("notifications = %d", len(n.runs))
	}

	// Failed runs are retryable.
	if err := got.Retry(now); err != nil {
		t.Fatalf("swept run must be retryable: %v", err)
	}
}
