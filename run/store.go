package run

import (
	"context"
	"time"

	"github.com/xraph/reportflow/id"
)

// ListOpts controls pagination and filtering for run queries.
type ListOpts struct {
	// Limit is the maximum number of runs to return. Zero means no limit.
	Limit int
	// Offset is the number of runs to skip.
	Offset int
	// TemplateID filters by template. Nil means all templates.
	TemplateID id.TemplateID
	// ScheduleID filters by schedule. Nil means all schedules.
	ScheduleID id.ScheduleID
	// Statuses filters by status. Empty means all statuses.
	Statuses []Status
	// TriggerTypes filters by trigger type. Empty means all triggers.
	TriggerTypes []TriggerType
	// CreatedFrom and CreatedTo bound CreatedAt, inclusive.
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// Store defines the persistence contract for report runs.
type Store interface {
	// CreateRun persists a new run.
	CreateRun(ctx context.Context, r *Run) error

	// GetRun retrieves a run by ID within a tenant.
	GetRun(ctx context.Context, tenantID string, runID id.RunID) (*Run, error)

	// UpdateRun persists changes to an existing run.
	UpdateRun(ctx context.Context, r *Run) error

	// DeleteRun removes a run.
	DeleteRun(ctx context.Context, tenantID string, runID id.RunID) error

	// ListRuns returns runs ordered by creation time, newest first.
	ListRuns(ctx context.Context, tenantID string, opts ListOpts) ([]*Run, error)

	// CountRuns returns the number of runs matching opts, ignoring Limit
	// and Offset.
	CountRuns(ctx context.Context, tenantID string, opts ListOpts) (int64, error)

	// ListStuckRuns returns running runs of every tenant that started
	// before the given instant.
	ListStuckRuns(ctx context.Context, startedBefore time.Time, limit int) ([]*Run, error)
}
