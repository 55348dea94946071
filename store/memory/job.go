package memory

import (
	"context"
	"sort"
	"time"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/job"
)

// EnqueueJob persists a new job.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return reportflow.ErrJobExists
	}
	m.jobs[key] = j.Clone()
	return nil
}

// DequeueJobs atomically claims up to limit due jobs from the given
// queues, sets them to running, and returns them oldest RunAt first.
func (m *Store) DequeueJobs(_ context.Context, queues []string, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queueSet := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		queueSet[q] = struct{}{}
	}

	now := m.clock()
	candidates := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if !j.Due(now) {
			continue
		}
		if len(queueSet) > 0 {
			if _, ok := queueSet[j.Queue]; !ok {
				continue
			}
		}
		candidates = append(candidates, j)
	}
	sort.Slice(candidates, func(i, k int) bool { return candidates[i].RunAt.Before(candidates[k].RunAt) })
	candidates = page(candidates, limit, 0)

	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		j.State = job.StateRunning
		started, beat := now, now
		j.StartedAt = &started
		j.HeartbeatAt = &beat
		result[i] = j.Clone()
	}
	return result, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, reportflow.ErrJobNotFound
	}
	return j.Clone(), nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return reportflow.ErrJobNotFound
	}
	cp := j.Clone()
	cp.UpdatedAt = m.clock()
	m.jobs[key] = cp
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return reportflow.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ListJobsByState returns jobs in state, oldest first.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		result = append(result, j)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].CreatedAt.Before(result[k].CreatedAt) })
	result = page(result, opts.Limit, opts.Offset)
	for i, j := range result {
		result[i] = j.Clone()
	}
	return result, nil
}

// HeartbeatJob stamps HeartbeatAt on a running job.
func (m *Store) HeartbeatJob(_ context.Context, jobID id.JobID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return reportflow.ErrJobNotFound
	}
	now := m.clock()
	j.HeartbeatAt = &now
	j.WorkerID = workerID
	return nil
}

// ReapStaleJobs returns running jobs whose heartbeat is older than
// threshold.
func (m *Store) ReapStaleJobs(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.clock().Add(-threshold)
	result := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if j.State != job.StateRunning || j.HeartbeatAt == nil || !j.HeartbeatAt.Before(cutoff) {
			continue
		}
		result = append(result, j.Clone())
	}
	return result, nil
}

// CountJobs returns the number of jobs matching opts.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, j := range m.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if opts.TenantID != "" && j.TenantID != opts.TenantID {
			continue
		}
		n++
	}
	return n, nil
}
