package job

import (
	"time"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/id"
)

// State represents the delivery state of a job.
type State string

const (
	// StatePending means the job is waiting to be picked up by a worker.
	StatePending State = "pending"
	// StateRunning means a worker has claimed the job.
	StateRunning State = "running"
	// StateCompleted means the job was handled and needs no more delivery.
	StateCompleted State = "completed"
	// StateRetrying means the executor crashed and the job waits for RunAt.
	StateRetrying State = "retrying"
	// StateFailed means the retry budget is spent. The job is dead-lettered.
	StateFailed State = "failed"
)

// Job is a queued request to execute one report run.
type Job struct {
	reportflow.Entity

	ID          id.JobID      `json:"id"`
	Queue       string        `json:"queue"`
	RunID       id.RunID      `json:"run_id"`
	TenantID    string        `json:"tenant_id"`
	Payload     []byte        `json:"payload"`
	State       State         `json:"state"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"max_attempts"`
	LastError   string        `json:"last_error,omitempty"`
	WorkerID    id.WorkerID   `json:"worker_id,omitempty"`
	RunAt       time.Time     `json:"run_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// New builds a pending job for p on queue.
func New(queue string, p *Payload, maxAttempts int) (*Job, error) {
	data, err := EncodePayload(p)
	if err != nil {
		return nil, err
	}
	runID, err := id.ParseRunID(p.RunID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Job{
		Entity:      reportflow.NewEntity(),
		ID:          id.NewJobID(),
		Queue:       queue,
		RunID:       runID,
		TenantID:    p.TenantID,
		Payload:     data,
		State:       StatePending,
		MaxAttempts: maxAttempts,
		RunAt:       now,
	}, nil
}

// Due reports whether the job can be claimed at now.
func (j *Job) Due(now time.Time) bool {
	return (j.State == StatePending || j.State == StateRetrying) && !j.RunAt.After(now)
}

// Clone returns a copy of j safe to hand out of a store.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Payload = append([]byte(nil), j.Payload...)
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	cp.HeartbeatAt = cloneTime(j.HeartbeatAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
