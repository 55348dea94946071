package schedule

import (
	"context"
	"time"

	"github.com/xraph/reportflow/cadence"
	"github.com/xraph/reportflow/id"
)

// ListOpts controls pagination and filtering for schedule list queries.
type ListOpts struct {
	// Limit is the maximum number of schedules to return. Zero means no limit.
	Limit int
	// Offset is the number of schedules to skip.
	Offset int
	// TemplateID filters by template. Nil means all templates.
	TemplateID id.TemplateID
	// Status filters by status. Empty means all statuses.
	Status Status
	// Cadence filters by cadence. Empty means all cadences.
	Cadence cadence.Cadence
}

// Store defines the persistence contract for report schedules.
type Store interface {
	// CreateSchedule persists a new schedule.
	CreateSchedule(ctx context.Context, s *Schedule) error

	// GetSchedule retrieves a schedule by ID within a tenant.
	GetSchedule(ctx context.Context, tenantID string, scheduleID id.ScheduleID) (*Schedule, error)

	// UpdateSchedule persists changes to an existing schedule.
	UpdateSchedule(ctx context.Context, s *Schedule) error

	// DeleteSchedule removes a schedule.
	DeleteSchedule(ctx context.Context, tenantID string, scheduleID id.ScheduleID) error

	// ListSchedules returns schedules ordered by creation time, newest first.
	ListSchedules(ctx context.Context, tenantID string, opts ListOpts) ([]*Schedule, error)

	// CountSchedules returns the number of schedules matching opts,
	// ignoring Limit and Offset.
	CountSchedules(ctx context.Context, tenantID string, opts ListOpts) (int64, error)

	// ListDueSchedules returns active schedules of every tenant whose
	// NextRunAt is at or before now, oldest first.
	ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]*Schedule, error)

	// ListUpcomingSchedules returns a tenant's active schedules with
	// NextRunAt in [from, to], soonest first.
	ListUpcomingSchedules(ctx context.Context, tenantID string, from, to time.Time) ([]*Schedule, error)
}
