package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/schedule"
)

// CreateSchedule inserts a schedule.
func (s *Store) CreateSchedule(ctx context.Context, sc *schedule.Schedule) error {
	doc, err := encodeDoc(sc, "schedule")
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO reportflow_schedules (
			id, tenant_id, template_id, status, cadence, next_run_at, doc, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sc.ID.String(), sc.TenantID, sc.TemplateID.String(), string(sc.Status), string(sc.Cadence),
		sc.NextRunAt, doc, sc.CreatedAt, sc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("reportflow/postgres: create schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves a schedule by ID within a tenant.
func (s *Store) GetSchedule(ctx context.Context, tenantID string, scheduleID id.ScheduleID) (*schedule.Schedule, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM reportflow_schedules WHERE tenant_id = $1 AND id = $2`,
		tenantID, scheduleID.String(),
	).Scan(&raw)
	if err != nil {
		if isNoRows(err) {
			return nil, reportflow.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("reportflow/postgres: get schedule: %w", err)
	}
	return decodeDoc[schedule.Schedule](raw, "schedule")
}

// UpdateSchedule replaces a stored schedule.
func (s *Store) UpdateSchedule(ctx context.Context, sc *schedule.Schedule) error {
	doc, err := encodeDoc(sc, "schedule")
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE reportflow_schedules SET
			template_id = $3, status = $4, cadence = $5, next_run_at = $6, doc = $7, updated_at = $8
		WHERE tenant_id = $1 AND id = $2`,
		sc.TenantID, sc.ID.String(), sc.TemplateID.String(), string(sc.Status), string(sc.Cadence),
		sc.NextRunAt, doc, sc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("reportflow/postgres: update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return reportflow.ErrScheduleNotFound
	}
	return nil
}

// DeleteSchedule removes a schedule.
func (s *Store) DeleteSchedule(ctx context.Context, tenantID string, scheduleID id.ScheduleID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM reportflow_schedules WHERE tenant_id = $1 AND id = $2`,
		tenantID, scheduleID.String(),
	)
	if err != nil {
		return fmt.Errorf("reportflow/postgres: delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return reportflow.ErrScheduleNotFound
	}
	return nil
}

// ListSchedules returns schedules newest first.
func (s *Store) ListSchedules(ctx context.Context, tenantID string, opts schedule.ListOpts) ([]*schedule.Schedule, error) {
	f := scheduleFilter(tenantID, opts)
	query := `SELECT doc FROM reportflow_schedules` + f.where() +
		` ORDER BY created_at DESC` + f.page(opts.Limit, opts.Offset)
	rows, err := s.pool.Query(ctx, query, f.args...)
	if err != nil {
		return nil, fmt.Errorf("reportflow/postgres: list schedules: %w", err)
	}
	return collectDocs[schedule.Schedule](rows, "schedule")
}

// CountSchedules returns the number of schedules matching opts.
func (s *Store) CountSchedules(ctx context.Context, tenantID string, opts schedule.ListOpts) (int64, error) {
	f := scheduleFilter(tenantID, opts)
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM reportflow_schedules`+f.where(), f.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("reportflow/postgres: count schedules: %w", err)
	}
	return n, nil
}

// ListDueSchedules returns active schedules of every tenant due at now,
// oldest NextRunAt first.
func (s *Store) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]*schedule.Schedule, error) {
	f := &filter{}
	f.add("status = $%d", string(schedule.StatusActive))
	f.add("next_run_at <= $%d", now)
	query := `SELECT doc FROM reportflow_schedules` + f.where() +
		` ORDER BY next_run_at ASC` + f.page(limit, 0)
	rows, err := s.pool.Query(ctx, query, f.args...)
	if err != nil {
		return nil, fmt.Errorf("reportflow/postgres: list due schedules: %w", err)
	}
	return collectDocs[schedule.Schedule](rows, "schedule")
}

// ListUpcomingSchedules returns a tenant's active schedules firing in
// [from, to], soonest first.
func (s *Store) ListUpcomingSchedules(ctx context.Context, tenantID string, from, to time.Time) ([]*schedule.Schedule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT doc FROM reportflow_schedules
		WHERE tenant_id = $1 AND status = $2 AND next_run_at BETWEEN $3 AND $4
		ORDER BY next_run_at ASC`,
		tenantID, string(schedule.StatusActive), from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("reportflow/postgres: list upcoming schedules: %w", err)
	}
	return collectDocs[schedule.Schedule](rows, "schedule")
}

func scheduleFilter(tenantID string, opts schedule.ListOpts) *filter {
	f := &filter{}
	f.add("tenant_id = $%d", tenantID)
	if !opts.TemplateID.IsNil() {
		f.add("template_id = $%d", opts.TemplateID.String())
	}
	if opts.Status != "" {
		f.add("status = $%d", string(opts.Status))
	}
	if opts.Cadence != "" {
		f.add("cadence = $%d", string(opts.Cadence))
	}
	return f
}
