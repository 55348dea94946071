package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/template"
)

// CreateTemplate persists a new template.
func (m *Store) CreateTemplate(_ context.Context, t *template.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.templates {
		if existing.TenantID == t.TenantID && existing.Code == t.Code {
			return reportflow.ErrTemplateExists
		}
	}
	m.templates[t.ID.String()] = t.Clone()
	return nil
}

// GetTemplate retrieves a template by ID within a tenant.
func (m *Store) GetTemplate(_ context.Context, tenantID string, templateID id.TemplateID) (*template.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.templates[templateID.String()]
	if !ok || t.TenantID != tenantID {
		return nil, reportflow.ErrTemplateNotFound
	}
	return t.Clone(), nil
}

// GetTemplateByCode retrieves a template by code within a tenant.
func (m *Store) GetTemplateByCode(_ context.Context, tenantID, code string) (*template.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.templates {
		if t.TenantID == tenantID && t.Code == code {
			return t.Clone(), nil
		}
	}
	return nil, reportflow.ErrTemplateNotFound
}

// UpdateTemplate persists changes to an existing template.
func (m *Store) UpdateTemplate(_ context.Context, t *template.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := t.ID.String()
	cur, ok := m.templates[key]
	if !ok || cur.TenantID != t.TenantID {
		return reportflow.ErrTemplateNotFound
	}
	cp := t.Clone()
	cp.UpdatedAt = m.clock()
	m.templates[key] = cp
	return nil
}

// DeleteTemplate removes a template.
func (m *Store) DeleteTemplate(_ context.Context, tenantID string, templateID id.TemplateID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := templateID.String()
	cur, ok := m.templates[key]
	if !ok || cur.TenantID != tenantID {
		return reportflow.ErrTemplateNotFound
	}
	delete(m.templates, key)
	return nil
}

// ListTemplates returns a tenant's templates newest first.
func (m *Store) ListTemplates(_ context.Context, tenantID string, opts template.ListOpts) ([]*template.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := m.filterTemplates(tenantID, opts)
	sort.Slice(result, func(i, k int) bool { return result[i].CreatedAt.After(result[k].CreatedAt) })
	result = page(result, opts.Limit, opts.Offset)
	for i, t := range result {
		result[i] = t.Clone()
	}
	return result, nil
}

// CountTemplates returns the number of a tenant's templates matching opts.
func (m *Store) CountTemplates(_ context.Context, tenantID string, opts template.ListOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.filterTemplates(tenantID, opts))), nil
}

func (m *Store) filterTemplates(tenantID string, opts template.ListOpts) []*template.Template {
	search := strings.ToLower(opts.Search)
	result := make([]*template.Template, 0, len(m.templates))
	for _, t := range m.templates {
		if t.TenantID != tenantID {
			continue
		}
		if opts.ReportType != "" && t.ReportType != opts.ReportType {
			continue
		}
		if opts.Status != "" && t.Status != opts.Status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(t.Name), search) &&
			!strings.Contains(strings.ToLower(t.Code), search) {
			continue
		}
		result = append(result, t)
	}
	return result
}
