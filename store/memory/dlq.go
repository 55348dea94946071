package memory

import (
	"context"
	"sort"
	"time"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/dlq"
	"github.com/xraph/reportflow/id"
)

// PushDLQ adds an entry.
func (m *Store) PushDLQ(_ context.Context, e *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dlqs[e.ID.String()] = cloneEntry(e)
	return nil
}

// ListDLQ returns entries newest first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.TenantID != "" && e.TenantID != opts.TenantID {
			continue
		}
		result = append(result, e)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].FailedAt.After(result[k].FailedAt) })
	result = page(result, opts.Limit, opts.Offset)
	for i, e := range result {
		result[i] = cloneEntry(e)
	}
	return result, nil
}

// GetDLQ retrieves an entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, reportflow.ErrDLQNotFound
	}
	return cloneEntry(e), nil
}

// ReplayDLQ stamps ReplayedAt on an entry.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return reportflow.ErrDLQNotFound
	}
	now := m.clock()
	e.ReplayedAt = &now
	return nil
}

// PurgeDLQ removes entries that failed before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			n++
		}
	}
	return n, nil
}

// CountDLQ returns the number of entries.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.dlqs)), nil
}

func cloneEntry(e *dlq.Entry) *dlq.Entry {
	cp := *e
	cp.Payload = append([]byte(nil), e.Payload...)
	if e.ReplayedAt != nil {
		t := *e.ReplayedAt
		cp.ReplayedAt = &t
	}
	return &cp
}
