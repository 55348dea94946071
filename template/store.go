package template

import (
	"context"

	"github.com/xraph/reportflow/id"
)

// ListOpts controls pagination and filtering for template list queries.
type ListOpts struct {
	// Limit is the maximum number of templates to return. Zero means no limit.
	Limit int
	// Offset is the number of templates to skip.
	Offset int
	// ReportType filters by report type. Empty means all types.
	ReportType ReportType
	// Status filters by status. Empty means all statuses.
	Status Status
	// Search matches name or code, case-insensitively.
	Search string
}

// Store defines the persistence contract for report templates. Every
// operation is scoped to a tenant.
type Store interface {
	// CreateTemplate persists a new template. It returns
	// reportflow.ErrTemplateExists if the tenant already has the code.
	CreateTemplate(ctx context.Context, t *Template) error

	// GetTemplate retrieves a template by ID.
	GetTemplate(ctx context.Context, tenantID string, templateID id.TemplateID) (*Template, error)

	// GetTemplateByCode retrieves a template by its tenant-unique code.
	GetTemplateByCode(ctx context.Context, tenantID, code string) (*Template, error)

	// UpdateTemplate persists changes to an existing template.
	UpdateTemplate(ctx context.Context, t *Template) error

	// DeleteTemplate removes a template.
	DeleteTemplate(ctx context.Context, tenantID string, templateID id.TemplateID) error

	// ListTemplates returns templates ordered by creation time, newest first.
	ListTemplates(ctx context.Context, tenantID string, opts ListOpts) ([]*Template, error)

	// CountTemplates returns the number of templates matching opts,
	// ignoring Limit and Offset.
	CountTemplates(ctx context.Context, tenantID string, opts ListOpts) (int64, error)
}
