//go:build integration

package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/dlq"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/job"
	"github.com/xraph/reportflow/keyspace"
	"github.com/xraph/reportflow/notify"
	redisstore "github.com/xraph/reportflow/store/redis"
)

func setupClient(t *testing.T) *goredis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate redis container: %v", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	opts, err := goredis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func setupTestStore(t *testing.T) *redisstore.Store {
	t.Helper()
	s := redisstore.New(setupClient(t), redisstore.WithPrefix("test:"))
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	return s
}

func newJob(t *testing.T, queue string, runAt time.Time) *job.Job {
	t.Helper()
	j, err := job.New(queue, &job.Payload{RunID: id.NewRunID().String(), TenantID: "t1"}, 3)
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	j.RunAt = runAt
	return j
}

// ──────────────────────────────────────────────────
// Jobs
// ──────────────────────────────────────────────────

func TestJobEnqueueDequeue(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	early := newJob(t, "reports", now.Add(-2*time.Minute))
	late := newJob(t, "reports", now.Add(-time.Minute))
	future := newJob(t, "reports", now.Add(time.Hour))
	for _, j := range []*job.Job{late, future, early} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}
	if err := s.EnqueueJob(ctx, early); !errors.Is(err, reportflow.ErrJobExists) {
		t.Fatalf("duplicate enqueue: got %v, want ErrJobExists", err)
	}

	got, err := s.DequeueJobs(ctx, []string{"reports"}, 10)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("dequeued %d jobs, want 2", len(got))
	}
	if got[0].ID != early.ID || got[1].ID != late.ID {
		t.Fatalf("dequeue order: got %s, %s", got[0].ID, got[1].ID)
	}
	for _, j := range got {
		if j.State != job.StateRunning || j.StartedAt == nil || j.HeartbeatAt == nil {
			t.Fatalf("claimed job not running: %+v", j)
		}
	}

	again, err := s.DequeueJobs(ctx, []string{"reports"}, 10)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("claimed jobs delivered twice: %d", len(again))
	}

	n, err := s.CountJobs(ctx, job.CountOpts{State: job.StateRunning, TenantID: "t1"})
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if n != 2 {
		t.Fatalf("running count = %d, want 2", n)
	}
}

func TestJobUpdateRequeues(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := newJob(t, "reports", time.Now().UTC().Add(-time.Second))
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	claimed, err := s.DequeueJobs(ctx, nil, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("DequeueJobs: %v (%d)", err, len(claimed))
	}

	cur := claimed[0]
	cur.State = job.StateRetrying
	cur.Attempts = 1
	cur.RunAt = time.Now().UTC().Add(-time.Millisecond)
	if err := s.UpdateJob(ctx, cur); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	redelivered, err := s.DequeueJobs(ctx, []string{"reports"}, 1)
	if err != nil || len(redelivered) != 1 {
		t.Fatalf("redeliver: %v (%d)", err, len(redelivered))
	}
	if redelivered[0].Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", redelivered[0].Attempts)
	}

	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, reportflow.ErrJobNotFound) {
		t.Fatalf("GetJob after delete: %v", err)
	}
}

func TestHeartbeatAndReap(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := newJob(t, "reports", time.Now().UTC().Add(-time.Second))
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.DequeueJobs(ctx, []string{"reports"}, 1); err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	stale, err := s.ReapStaleJobs(ctx, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("ReapStaleJobs: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("stale = %d, want 1", len(stale))
	}

	if err := s.HeartbeatJob(ctx, j.ID, id.NewWorkerID()); err != nil {
		t.Fatalf("HeartbeatJob: %v", err)
	}
	stale, err = s.ReapStaleJobs(ctx, time.Minute)
	if err != nil {
		t.Fatalf("ReapStaleJobs: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("fresh heartbeat reaped: %d", len(stale))
	}
}

// ──────────────────────────────────────────────────
// Dead letters
// ──────────────────────────────────────────────────

func TestDLQ(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	older := &dlq.Entry{ID: id.NewDLQID(), JobID: id.NewJobID(), RunID: id.NewRunID(), TenantID: "t1", Queue: "reports", FailedAt: now.Add(-48 * time.Hour), CreatedAt: now}
	newer := &dlq.Entry{ID: id.NewDLQID(), JobID: id.NewJobID(), RunID: id.NewRunID(), TenantID: "t2", Queue: "reports", FailedAt: now, CreatedAt: now}
	for _, e := range []*dlq.Entry{older, newer} {
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
	}

	all, err := s.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(all) != 2 || all[0].ID != newer.ID {
		t.Fatalf("ListDLQ not newest first: %d entries", len(all))
	}
	scoped, err := s.ListDLQ(ctx, dlq.ListOpts{TenantID: "t1"})
	if err != nil {
		t.Fatalf("ListDLQ tenant: %v", err)
	}
	if len(scoped) != 1 || scoped[0].ID != older.ID {
		t.Fatalf("tenant filter: %d entries", len(scoped))
	}

	if err := s.ReplayDLQ(ctx, newer.ID); err != nil {
		t.Fatalf("ReplayDLQ: %v", err)
	}
	got, err := s.GetDLQ(ctx, newer.ID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if got.ReplayedAt == nil {
		t.Fatal("ReplayedAt not stamped")
	}

	purged, err := s.PurgeDLQ(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeDLQ: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}
	if n, _ := s.CountDLQ(ctx); n != 1 {
		t.Fatalf("CountDLQ = %d, want 1", n)
	}
}

// ──────────────────────────────────────────────────
// Locks
// ──────────────────────────────────────────────────

func TestLocks(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ok, err := s.AcquireLock(ctx, "poller", "a", time.Second)
	if err != nil || !ok {
		t.Fatalf("first acquire: %v %v", ok, err)
	}
	ok, err = s.AcquireLock(ctx, "poller", "b", time.Second)
	if err != nil || ok {
		t.Fatalf("second acquire granted: %v %v", ok, err)
	}

	if err := s.ReleaseLock(ctx, "poller", "b"); err != nil {
		t.Fatalf("foreign release: %v", err)
	}
	if ok, _ := s.AcquireLock(ctx, "poller", "b", time.Second); ok {
		t.Fatal("foreign release freed the lock")
	}

	if err := s.ReleaseLock(ctx, "poller", "a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := s.AcquireLock(ctx, "poller", "b", 50*time.Millisecond); !ok {
		t.Fatal("lock not free after release")
	}
	time.Sleep(100 * time.Millisecond)
	if ok, _ := s.AcquireLock(ctx, "poller", "c", time.Second); !ok {
		t.Fatal("lock not free after expiry")
	}
}

// ──────────────────────────────────────────────────
// Notifications
// ──────────────────────────────────────────────────

func TestNotifyPublishes(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()
	keys := keyspace.New("test")

	sub := client.Subscribe(ctx, keys.NotificationChannel("t1"))
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := notify.NewRedis(client, keys).Emit(ctx, notify.Completed("t1", "run-1", "Sales")); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Payload == "" {
			t.Fatal("empty notification payload")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("notification not published")
	}
}
