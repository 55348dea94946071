package postgres

import (
	"context"
	"fmt"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/template"
)

// CreateTemplate inserts a template. The (tenant_id, code) unique index
// turns a duplicate code into reportflow.ErrTemplateExists.
func (s *Store) CreateTemplate(ctx context.Context, t *template.Template) error {
	doc, err := encodeDoc(t, "template")
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO reportflow_templates (
			id, tenant_id, code, name, report_type, status, doc, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID.String(), t.TenantID, t.Code, t.Name, string(t.ReportType), string(t.Status),
		doc, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return reportflow.ErrTemplateExists
		}
		return fmt.Errorf("reportflow/postgres: create template: %w", err)
	}
	return nil
}

// GetTemplate retrieves a template by ID within a tenant.
func (s *Store) GetTemplate(ctx context.Context, tenantID string, templateID id.TemplateID) (*template.Template, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM reportflow_templates WHERE tenant_id = $1 AND id = $2`,
		tenantID, templateID.String(),
	).Scan(&raw)
	if err != nil {
		if isNoRows(err) {
			return nil, reportflow.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("reportflow/postgres: get template: %w", err)
	}
	return decodeDoc[template.Template](raw, "template")
}

// GetTemplateByCode retrieves a template by its tenant-unique code.
func (s *Store) GetTemplateByCode(ctx context.Context, tenantID, code string) (*template.Template, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM reportflow_templates WHERE tenant_id = $1 AND code = $2`,
		tenantID, code,
	).Scan(&raw)
	if err != nil {
		if isNoRows(err) {
			return nil, reportflow.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("reportflow/postgres: get template by code: %w", err)
	}
	return decodeDoc[template.Template](raw, "template")
}

// UpdateTemplate replaces a stored template.
func (s *Store) UpdateTemplate(ctx context.Context, t *template.Template) error {
	doc, err := encodeDoc(t, "template")
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE reportflow_templates SET
			code = $3, name = $4, report_type = $5, status = $6, doc = $7, updated_at = $8
		WHERE tenant_id = $1 AND id = $2`,
		t.TenantID, t.ID.String(), t.Code, t.Name, string(t.ReportType), string(t.Status),
		doc, t.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return reportflow.ErrTemplateExists
		}
		return fmt.Errorf("reportflow/postgres: update template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return reportflow.ErrTemplateNotFound
	}
	return nil
}

// DeleteTemplate removes a template.
func (s *Store) DeleteTemplate(ctx context.Context, tenantID string, templateID id.TemplateID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM reportflow_templates WHERE tenant_id = $1 AND id = $2`,
		tenantID, templateID.String(),
	)
	if err != nil {
		return fmt.Errorf("reportflow/postgres: delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return reportflow.ErrTemplateNotFound
	}
	return nil
}

// ListTemplates returns templates newest first.
func (s *Store) ListTemplates(ctx context.Context, tenantID string, opts template.ListOpts) ([]*template.Template, error) {
	f := templateFilter(tenantID, opts)
	query := `SELECT doc FROM reportflow_templates` + f.where() +
		` ORDER BY created_at DESC` + f.page(opts.Limit, opts.Offset)
	rows, err := s.pool.Query(ctx, query, f.args...)
	if err != nil {
		return nil, fmt.Errorf("reportflow/postgres: list templates: %w", err)
	}
	return collectDocs[template.Template](rows, "template")
}

// CountTemplates returns the number of templates matching opts.
func (s *Store) CountTemplates(ctx context.Context, tenantID string, opts template.ListOpts) (int64, error) {
	f := templateFilter(tenantID, opts)
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM reportflow_templates`+f.where(), f.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("reportflow/postgres: count templates: %w", err)
	}
	return n, nil
}

func templateFilter(tenantID string, opts template.ListOpts) *filter {
	f := &filter{}
	f.add("tenant_id = $%d", tenantID)
	if opts.ReportType != "" {
		f.add("report_type = $%d", string(opts.ReportType))
	}
	if opts.Status != "" {
		f.add("status = $%d", string(opts.Status))
	}
	if opts.Search != "" {
		f.add("(name ILIKE '%%' || $%[1]d || '%%' OR code ILIKE '%%' || $%[1]d || '%%')", opts.Search)
	}
	return f
}
