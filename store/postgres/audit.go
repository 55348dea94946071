package postgres

import (
	"context"
	"fmt"

	"github.com/xraph/reportflow/audit"
)

// AppendAudit inserts an audit entry.
func (s *Store) AppendAudit(ctx context.Context, e *audit.Entry) error {
	doc, err := encodeDoc(e, "audit entry")
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO reportflow_audit (
			id, tenant_id, action, resource_type, resource_id, doc, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID.String(), e.TenantID, e.Action, e.ResourceType, e.ResourceID, doc, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("reportflow/postgres: append audit: %w", err)
	}
	return nil
}

// ListAudit returns a tenant's entries newest first.
func (s *Store) ListAudit(ctx context.Context, tenantID string, opts audit.ListOpts) ([]*audit.Entry, error) {
	f := auditFilter(tenantID, opts)
	query := `SELECT doc FROM reportflow_audit` + f.where() +
		` ORDER BY created_at DESC` + f.page(opts.Limit, opts.Offset)
	rows, err := s.pool.Query(ctx, query, f.args...)
	if err != nil {
		return nil, fmt.Errorf("reportflow/postgres: list audit: %w", err)
	}
	return collectDocs[audit.Entry](rows, "audit entry")
}

// CountAudit returns the number of entries matching opts.
func (s *Store) CountAudit(ctx context.Context, tenantID string, opts audit.ListOpts) (int64, error) {
	f := auditFilter(tenantID, opts)
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM reportflow_audit`+f.where(), f.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("reportflow/postgres: count audit: %w", err)
	}
	return n, nil
}

func auditFilter(tenantID string, opts audit.ListOpts) *filter {
	f := &filter{}
	f.add("tenant_id = $%d", tenantID)
	if opts.Action != "" {
		f.add("action = $%d", opts.Action)
	}
	if opts.ResourceType != "" {
		f.add("resource_type = $%d", opts.ResourceType)
	}
	if opts.ResourceID != "" {
		f.add("resource_id = $%d", opts.ResourceID)
	}
	return f
}
