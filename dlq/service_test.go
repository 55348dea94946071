package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/dlq"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/job"
	"github.com/xraph/reportflow/run"
	"github.com/xraph/reportflow/store/memory"
)

// crashedRun stores a failed run and the dead job that carried it.
func crashedRun(t *testing.T, s *memory.Store) (*run.Run, *job.Job) {
	t.Helper()
	ctx := context.Background()

	r := run.New("t1", id.NewTemplateID(), run.TriggerSchedule, reportflow.Period{}, reportflow.TenantScope(), nil)
	now := time.Now().UTC()
	_ = r.Start(now)
	_ = r.Fail(now, &run.Error{Message: "boom", Code: reportflow.CodeCrash})
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	j, err := job.New("reports", &job.Payload{RunID: r.ID.String(), TenantID: "t1"}, 3)
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	j.State = job.StateFailed
	j.Attempts = 3
	j.LastError = "boom"
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	return r, j
}

func TestPushBuildsEntryFromJob(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s, s)
	ctx := context.Background()
	r, j := crashedRun(t, s)

	entry, err := svc.Push(ctx, j, errors.New("renderer exploded"))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if entry.RunID.String() != r.ID.String() || entry.TenantID != "t1" {
		t.Errorf("entry identity = %+v", entry)
	}
	if entry.Error != "renderer exploded" || entry.Attempts != 3 {
		t.Errorf("entry = %+v", entry)
	}

	n, err := s.CountDLQ(ctx)
	if err != nil || n != 1 {
		t.Errorf("CountDLQ = %d, %v", n, err)
	}
}

func TestReplayRequeuesRunAndEnqueues(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s, s)
	ctx := context.Background()
	r, j := crashedRun(t, s)

	entry, err := svc.Push(ctx, j, nil)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	got, newJob, err := svc.Replay(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if got.Status != run.StatusQueued {
		t.Errorf("run status = %q, want queued", got.Status)
	}
	if newJob.ID.String() == j.ID.String() {
		t.Error("replay should enqueue a fresh job")
	}
	if newJob.Attempts != 0 || newJob.MaxAttempts != 3 {
		t.Errorf("replayed job attempts = %d/%d, want 0/3", newJob.Attempts, newJob.MaxAttempts)
	}

	stored, err := s.GetRun(ctx, "t1", r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.Status != run.StatusQueued || stored.Job.JobID.String() != newJob.ID.String() {
		t.Errorf("stored run = status %q job %s", stored.Status, stored.Job.JobID)
	}

	replayed, err := s.GetDLQ(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if replayed.ReplayedAt == nil {
		t.Error("ReplayedAt should be set")
	}

	if _, _, err := svc.Replay(ctx, entry.ID); !errors.Is(err, reportflow.ErrDLQReplayed) {
		t.Errorf("second Replay err = %v, want ErrDLQReplayed", err)
	}
}

func TestReplayRequiresFailedRun(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s, s)
	ctx := context.Background()
	r, j := crashedRun(t, s)

	entry, _ := svc.Push(ctx, j, nil)

	// An explicit retry already re-opened the run.
	_ = r.Retry(time.Now())
	_ = s.UpdateRun(ctx, r)

	if _, _, err := svc.Replay(ctx, entry.ID); !errors.Is(err, reportflow.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestReplayUnknownEntry(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s, s)
	if _, _, err := svc.Replay(context.Background(), id.NewDLQID()); !errors.Is(err, reportflow.ErrDLQNotFound) {
		t.Errorf("err = %v, want ErrDLQNotFound", err)
	}
}
