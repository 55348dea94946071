package dlq

import (
	"time"

	"github.com/xraph/reportflow/id"
)

// Entry is a dead-lettered report job.
type Entry struct {
	ID          id.DLQID   `json:"id"`
	JobID       id.JobID   `json:"job_id"`
	RunID       id.RunID   `json:"run_id"`
	TenantID    string     `json:"tenant_id"`
	Queue       string     `json:"queue"`
	Payload     []byte     `json:"payload"`
	Error       string     `json:"error"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	FailedAt    time.Time  `json:"failed_at"`
	ReplayedAt  *time.Time `json:"replayed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
