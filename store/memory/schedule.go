package memory

import (
	"context"
	"sort"
	"time"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/schedule"
)

// CreateSchedule persists a new schedule.
func (m *Store) CreateSchedule(_ context.Context, s *schedule.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.schedules[s.ID.String()] = s.Clone()
	return nil
}

// GetSchedule retrieves a schedule by ID within a tenant.
func (m *Store) GetSchedule(_ context.Context, tenantID string, scheduleID id.ScheduleID) (*schedule.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.schedules[scheduleID.String()]
	if !ok || s.TenantID != tenantID {
		return nil, reportflow.ErrScheduleNotFound
	}
	return s.Clone(), nil
}

// UpdateSchedule persists changes to an existing schedule.
func (m *Store) UpdateSchedule(_ context.Context, s *schedule.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := s.ID.String()
	cur, ok := m.schedules[key]
	if !ok || cur.TenantID != s.TenantID {
		return reportflow.ErrScheduleNotFound
	}
	cp := s.Clone()
	cp.UpdatedAt = m.clock()
	m.schedules[key] = cp
	return nil
}

// DeleteSchedule removes a schedule.
func (m *Store) DeleteSchedule(_ context.Context, tenantID string, scheduleID id.ScheduleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := scheduleID.String()
	cur, ok := m.schedules[key]
	if !ok || cur.TenantID != tenantID {
		return reportflow.ErrScheduleNotFound
	}
	delete(m.schedules, key)
	return nil
}

// ListSchedules returns a tenant's schedules newest first.
func (m *Store) ListSchedules(_ context.Context, tenantID string, opts schedule.ListOpts) ([]*schedule.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := m.filterSchedules(tenantID, opts)
	sort.Slice(result, func(i, k int) bool { return result[i].CreatedAt.After(result[k].CreatedAt) })
	return cloneSchedules(page(result, opts.Limit, opts.Offset)), nil
}

// CountSchedules returns the number of a tenant's schedules matching opts.
func (m *Store) CountSchedules(_ context.Context, tenantID string, opts schedule.ListOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.filterSchedules(tenantID, opts))), nil
}

// ListDueSchedules returns active schedules of every tenant whose
// NextRunAt is at or before now, soonest first.
func (m *Store) ListDueSchedules(_ context.Context, now time.Time, limit int) ([]*schedule.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*schedule.Schedule, 0)
	for _, s := range m.schedules {
		if s.Status != schedule.StatusActive || s.NextRunAt == nil || s.NextRunAt.After(now) {
			continue
		}
		result = append(result, s)
	}
	sortByNextRun(result)
	return cloneSchedules(page(result, limit, 0)), nil
}

// ListUpcomingSchedules returns a tenant's active schedules with
// NextRunAt inside [from, to], soonest first.
func (m *Store) ListUpcomingSchedules(_ context.Context, tenantID string, from, to time.Time) ([]*schedule.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*schedule.Schedule, 0)
	for _, s := range m.schedules {
		if s.TenantID != tenantID || s.Status != schedule.StatusActive || s.NextRunAt == nil {
			continue
		}
		if s.NextRunAt.Before(from) || s.NextRunAt.After(to) {
			continue
		}
		result = append(result, s)
	}
	sortByNextRun(result)
	return cloneSchedules(result), nil
}

func (m *Store) filterSchedules(tenantID string, opts schedule.ListOpts) []*schedule.Schedule {
	result := make([]*schedule.Schedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		if s.TenantID != tenantID {
			continue
		}
		if !opts.TemplateID.IsNil() && s.TemplateID.String() != opts.TemplateID.String() {
			continue
		}
		if opts.Status != "" && s.Status != opts.Status {
			continue
		}
		if opts.Cadence != "" && s.Cadence != opts.Cadence {
			continue
		}
		result = append(result, s)
	}
	return result
}

func sortByNextRun(list []*schedule.Schedule) {
	sort.Slice(list, func(i, k int) bool { return list[i].NextRunAt.Before(*list[k].NextRunAt) })
}

func cloneSchedules(list []*schedule.Schedule) []*schedule.Schedule {
	out := make([]*schedule.Schedule, len(list))
	for i, s := range list {
		out[i] = s.Clone()
	}
	return out
}
