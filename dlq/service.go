package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/job"
	"github.com/xraph/reportflow/run"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
	runStore run.Store
}

// NewService creates a DLQ service.
func NewService(store Store, jobStore job.Store, runStore run.Store) *Service {
	return &Service{store: store, jobStore: jobStore, runStore: runStore}
}

// Push records a job that exhausted its attempts.
func (s *Service) Push(ctx context.Context, j *job.Job, jobErr error) (*Entry, error) {
	now := time.Now().UTC()
	msg := j.LastError
	if jobErr != nil {
		msg = jobErr.Error()
	}
	entry := &Entry{
		ID:          id.NewDLQID(),
		JobID:       j.ID,
		RunID:       j.RunID,
		TenantID:    j.TenantID,
		Queue:       j.Queue,
		Payload:     j.Payload,
		Error:       msg,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		FailedAt:    now,
		CreatedAt:   now,
	}
	if err := s.store.PushDLQ(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Replay requeues the entry's run and enqueues a fresh job for it. The
// run must still be failed. It returns the requeued run and the job.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*run.Run, *job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, nil, err
	}
	if entry.ReplayedAt != nil {
		return nil, nil, reportflow.ErrDLQReplayed
	}

	r, err := s.runStore.GetRun(ctx, entry.TenantID, entry.RunID)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	if err := r.Requeue(now); err != nil {
		return nil, nil, err
	}

	j := &job.Job{
		Entity:      reportflow.NewEntity(),
		ID:          id.NewJobID(),
		Queue:       entry.Queue,
		RunID:       entry.RunID,
		TenantID:    entry.TenantID,
		Payload:     entry.Payload,
		State:       job.StatePending,
		Attempts:    0,
		MaxAttempts: entry.MaxAttempts,
		RunAt:       now,
	}
	r.Job.Queue = j.Queue
	r.Job.JobID = j.ID
	if err := s.runStore.UpdateRun(ctx, r); err != nil {
		return nil, nil, fmt.Errorf("reportflow: requeue run: %w", err)
	}

	if err := s.jobStore.EnqueueJob(ctx, j); err != nil {
		if failErr := r.Fail(time.Now().UTC(), &run.Error{Message: err.Error(), Code: reportflow.CodeEnqueueFailed}); failErr == nil {
			_ = s.runStore.UpdateRun(ctx, r)
		}
		return nil, nil, fmt.Errorf("reportflow: enqueue replay: %w", err)
	}

	// The job is already enqueued, so a failed stamp is reported but the
	// replay stands.
	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		return r, j, err
	}
	return r, j, nil
}

// DLQStore returns the underlying store for list, get, purge and count.
func (s *Service) DLQStore() Store { return s.store }
