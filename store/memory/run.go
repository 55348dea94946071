package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/run"
)

// CreateRun persists a new run.
func (m *Store) CreateRun(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	if _, exists := m.runs[key]; exists {
		return reportflow.ErrRunExists
	}
	m.runs[key] = r.Clone()
	return nil
}

// GetRun retrieves a run by ID within a tenant.
func (m *Store) GetRun(_ context.Context, tenantID string, runID id.RunID) (*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID.String()]
	if !ok || r.TenantID != tenantID {
		return nil, reportflow.ErrRunNotFound
	}
	return r.Clone(), nil
}

// UpdateRun persists changes to an existing run.
func (m *Store) UpdateRun(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	cur, ok := m.runs[key]
	if !ok || cur.TenantID != r.TenantID {
		return reportflow.ErrRunNotFound
	}
	m.runs[key] = r.Clone()
	return nil
}

// DeleteRun removes a run.
func (m *Store) DeleteRun(_ context.Context, tenantID string, runID id.RunID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := runID.String()
	cur, ok := m.runs[key]
	if !ok || cur.TenantID != tenantID {
		return reportflow.ErrRunNotFound
	}
	delete(m.runs, key)
	return nil
}

// ListRuns returns a tenant's runs newest first.
func (m *Store) ListRuns(_ context.Context, tenantID string, opts run.ListOpts) ([]*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := m.filterRuns(tenantID, opts)
	sort.Slice(result, func(i, k int) bool { return result[i].CreatedAt.After(result[k].CreatedAt) })
	result = page(result, opts.Limit, opts.Offset)
	for i, r := range result {
		result[i] = r.Clone()
	}
	return result, nil
}

// CountRuns returns the number of a tenant's runs matching opts.
func (m *Store) CountRuns(_ context.Context, tenantID string, opts run.ListOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.filterRuns(tenantID, opts))), nil
}

// ListStuckRuns returns running runs of every tenant that started before
// startedBefore, oldest first.
func (m *Store) ListStuckRuns(_ context.Context, startedBefore time.Time, limit int) ([]*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*run.Run, 0)
	for _, r := range m.runs {
		if r.Status != run.StatusRunning || r.Job.StartedAt == nil || !r.Job.StartedAt.Before(startedBefore) {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].Job.StartedAt.Before(*result[k].Job.StartedAt) })
	result = page(result, limit, 0)
	for i, r := range result {
		result[i] = r.Clone()
	}
	return result, nil
}

func (m *Store) filterRuns(tenantID string, opts run.ListOpts) []*run.Run {
	result := make([]*run.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if r.TenantID != tenantID {
			continue
		}
		if !opts.TemplateID.IsNil() && r.TemplateID.String() != opts.TemplateID.String() {
			continue
		}
		if !opts.ScheduleID.IsNil() && r.ScheduleID.String() != opts.ScheduleID.String() {
			continue
		}
		if len(opts.Statuses) > 0 && !slices.Contains(opts.Statuses, r.Status) {
			continue
		}
		if len(opts.TriggerTypes) > 0 && !slices.Contains(opts.TriggerTypes, r.TriggerType) {
			continue
		}
		if opts.CreatedFrom != nil && r.CreatedAt.Before(*opts.CreatedFrom) {
			continue
		}
		if opts.CreatedTo != nil && r.CreatedAt.After(*opts.CreatedTo) {
			continue
		}
		result = append(result, r)
	}
	return result
}
