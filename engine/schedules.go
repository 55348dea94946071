package engine

import (
	"context"
	"time"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/schedule"
	"github.com/xraph/reportflow/template"
)

// DefaultUpcomingWindow is the look-ahead of UpcomingSchedules when the
// caller passes no window.
const DefaultUpcomingWindow = 24 * time.Hour

// ──────────────────────────────────────────────────
// Schedules
// ──────────────────────────────────────────────────

// CreateSchedule validates and stores a new schedule and programs its
// first firing. The template must exist and be active. Output formats
// default to the template's, then to Config.DefaultFormats.
func (eng *Engine) CreateSchedule(ctx context.Context, s *schedule.Schedule) (*schedule.Schedule, error) {
	if s.TenantID == "" {
		return nil, reportflow.Configf("tenantId", "required")
	}
	tpl, err := eng.activeTemplate(ctx, s.TenantID, s.TemplateID)
	if err != nil {
		return nil, err
	}

	s.ApplyDefaults(eng.config.DefaultTimezone, defaultFormats(tpl, eng.config.DefaultFormats))
	if err := s.Validate(); err != nil {
		return nil, err
	}

	now := eng.clock()
	s.ID = id.NewScheduleID()
	s.CreatedAt, s.UpdatedAt = now, now
	if s.CreatedBy == "" {
		s.CreatedBy = actor(ctx)
	}
	s.UpdatedBy = s.CreatedBy
	s.LastRunAt, s.LastRunID, s.LastRunStatus, s.LastError = nil, id.Nil, "", ""
	s.NextRunAt = nil
	if s.Status == schedule.StatusActive {
		next, err := eng.resolver.Next(s.CadenceSpec(), now)
		if err != nil {
			return nil, err
		}
		s.NextRunAt = &next
	}

	if err := eng.store.CreateSchedule(ctx, s); err != nil {
		return nil, err
	}
	eng.extensions.EmitScheduleCreated(ctx, s)
	return s, nil
}

// GetSchedule returns a schedule of the tenant.
func (eng *Engine) GetSchedule(ctx context.Context, tenantID string, scheduleID id.ScheduleID) (*schedule.Schedule, error) {
	return eng.store.GetSchedule(ctx, tenantID, scheduleID)
}

// ListSchedules returns one page of a tenant's schedules, newest first.
func (eng *Engine) ListSchedules(ctx context.Context, tenantID string, filter schedule.ListOpts, page reportflow.PageRequest) (reportflow.Page[*schedule.Schedule], error) {
	page = page.Normalize()
	filter.Limit, filter.Offset = page.Limit, page.Offset()

	items, err := eng.store.ListSchedules(ctx, tenantID, filter)
	if err != nil {
		return reportflow.Page[*schedule.Schedule]{}, err
	}
	total, err := eng.store.CountSchedules(ctx, tenantID, filter)
	if err != nil {
		return reportflow.Page[*schedule.Schedule]{}, err
	}
	return reportflow.NewPage(items, total, page), nil
}

// UpdateSchedule replaces the editable fields of a stored schedule with
// those of s. NextRunAt is recomputed from now when any cadence field
// changed; the trigger bookkeeping is kept from the stored schedule.
func (eng *Engine) UpdateSchedule(ctx context.Context, s *schedule.Schedule) (*schedule.Schedule, error) {
	before, err := eng.store.GetSchedule(ctx, s.TenantID, s.ID)
	if err != nil {
		return nil, err
	}
	if s.TemplateID.IsNil() {
		s.TemplateID = before.TemplateID
	}
	tpl, err := eng.store.GetTemplate(ctx, s.TenantID, s.TemplateID)
	if err != nil {
		return nil, err
	}

	after := s.Clone()
	after.CreatedAt = before.CreatedAt
	after.CreatedBy = before.CreatedBy
	after.LastRunAt = before.LastRunAt
	after.LastRunID = before.LastRunID
	after.LastRunStatus = before.LastRunStatus
	after.LastError = before.LastError
	after.NextRunAt = before.NextRunAt
	if after.Status == "" {
		after.Status = before.Status
	}
	after.ApplyDefaults(eng.config.DefaultTimezone, defaultFormats(tpl, eng.config.DefaultFormats))
	if err := after.Validate(); err != nil {
		return nil, err
	}

	now := eng.clock()
	if after.Status != schedule.StatusActive {
		after.NextRunAt = nil
	} else if after.CadenceChanged(before) || after.NextRunAt == nil {
		next, err := eng.resolver.Next(after.CadenceSpec(), now)
		if err != nil {
			return nil, err
		}
		after.NextRunAt = &next
	}
	after.UpdatedAt = now
	if after.UpdatedBy == "" {
		after.UpdatedBy = actor(ctx)
	}

	if err := eng.store.UpdateSchedule(ctx, after); err != nil {
		return nil, err
	}
	eng.extensions.EmitScheduleUpdated(ctx, before, after)
	return after, nil
}

// PauseSchedule stops a schedule from firing.
func (eng *Engine) PauseSchedule(ctx context.Context, tenantID string, scheduleID id.ScheduleID) (*schedule.Schedule, error) {
	return eng.setScheduleStatus(ctx, tenantID, scheduleID, schedule.StatusPaused)
}

// ResumeSchedule reactivates a paused or disabled schedule. NextRunAt is
// recomputed from now, so firings missed while paused are not replayed.
func (eng *Engine) ResumeSchedule(ctx context.Context, tenantID string, scheduleID id.ScheduleID) (*schedule.Schedule, error) {
	return eng.setScheduleStatus(ctx, tenantID, scheduleID, schedule.StatusActive)
}

func (eng *Engine) setScheduleStatus(ctx context.Context, tenantID string, scheduleID id.ScheduleID, status schedule.Status) (*schedule.Schedule, error) {
	before, err := eng.store.GetSchedule(ctx, tenantID, scheduleID)
	if err != nil {
		return nil, err
	}
	now := eng.clock()

	after := before.Clone()
	after.Status = status
	after.NextRunAt = nil
	if status == schedule.StatusActive {
		next, err := eng.resolver.Next(after.CadenceSpec(), now)
		if err != nil {
			return nil, err
		}
		after.NextRunAt = &next
	}
	after.UpdatedAt = now
	after.UpdatedBy = actor(ctx)

	if err := eng.store.UpdateSchedule(ctx, after); err != nil {
		return nil, err
	}
	eng.extensions.EmitScheduleUpdated(ctx, before, after)
	return after, nil
}

// DeleteSchedule removes a schedule. Its runs are kept.
func (eng *Engine) DeleteSchedule(ctx context.Context, tenantID string, scheduleID id.ScheduleID) error {
	s, err := eng.store.GetSchedule(ctx, tenantID, scheduleID)
	if err != nil {
		return err
	}
	if err := eng.store.DeleteSchedule(ctx, tenantID, scheduleID); err != nil {
		return err
	}
	eng.extensions.EmitScheduleDeleted(ctx, s)
	return nil
}

// UpcomingSchedules returns the tenant's active schedules firing within
// window from now, soonest first. A non-positive window means
// DefaultUpcomingWindow.
func (eng *Engine) UpcomingSchedules(ctx context.Context, tenantID string, window time.Duration) ([]*schedule.Schedule, error) {
	if window <= 0 {
		window = DefaultUpcomingWindow
	}
	now := eng.clock()
	return eng.store.ListUpcomingSchedules(ctx, tenantID, now, now.Add(window))
}

func (eng *Engine) activeTemplate(ctx context.Context, tenantID string, templateID id.TemplateID) (*template.Template, error) {
	tpl, err := eng.store.GetTemplate(ctx, tenantID, templateID)
	if err != nil {
		return nil, err
	}
	if !tpl.IsActive() {
		return nil, reportflow.ErrTemplateNotActive
	}
	return tpl, nil
}

func defaultFormats(tpl *template.Template, fallback []reportflow.Format) []reportflow.Format {
	if len(tpl.OutputDefaults.Formats) > 0 {
		return tpl.OutputDefaults.Formats
	}
	return fallback
}
