package memory

import (
	"context"
	"maps"

	"github.com/xraph/reportflow/audit"
)

// AppendAudit stores an entry.
func (m *Store) AppendAudit(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	cp.Metadata = maps.Clone(e.Metadata)
	m.audits = append(m.audits, &cp)
	return nil
}

// ListAudit returns a tenant's entries newest first.
func (m *Store) ListAudit(_ context.Context, tenantID string, opts audit.ListOpts) ([]*audit.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := m.filterAudit(tenantID, opts)
	result := make([]*audit.Entry, 0, len(matched))
	for i := len(matched) - 1; i >= 0; i-- {
		result = append(result, matched[i])
	}
	result = page(result, opts.Limit, opts.Offset)
	for i, e := range result {
		cp := *e
		cp.Metadata = maps.Clone(e.Metadata)
		result[i] = &cp
	}
	return result, nil
}

// CountAudit returns the number of a tenant's entries matching opts.
func (m *Store) CountAudit(_ context.Context, tenantID string, opts audit.ListOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.filterAudit(tenantID, opts))), nil
}

// filterAudit returns matches in insertion order.
func (m *Store) filterAudit(tenantID string, opts audit.ListOpts) []*audit.Entry {
	result := make([]*audit.Entry, 0)
	for _, e := range m.audits {
		if e.TenantID != tenantID {
			continue
		}
		if opts.Action != "" && e.Action != opts.Action {
			continue
		}
		if opts.ResourceType != "" && e.ResourceType != opts.ResourceType {
			continue
		}
		if opts.ResourceID != "" && e.ResourceID != opts.ResourceID {
			continue
		}
		result = append(result, e)
	}
	return result
}
