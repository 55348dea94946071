package mongo

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/template"
)

type templateModel struct {
	ID         string    `bson:"_id"`
	TenantID   string    `bson:"tenant_id"`
	Code       string    `bson:"code"`
	Name       string    `bson:"name"`
	ReportType string    `bson:"report_type"`
	Status     string    `bson:"status"`
	CreatedAt  time.Time `bson:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at"`
	Doc        string    `bson:"doc"`
}

func toTemplateModel(t *template.Template) (*templateModel, error) {
	doc, err := encodeDoc(t, "template")
	if err != nil {
		return nil, err
	}
	return &templateModel{
		ID:         t.ID.String(),
		TenantID:   t.TenantID,
		Code:       t.Code,
		Name:       t.Name,
		ReportType: string(t.ReportType),
		Status:     string(t.Status),
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
		Doc:        doc,
	}, nil
}

// CreateTemplate inserts a template. The (tenant_id, code) unique index
// turns a duplicate code into reportflow.ErrTemplateExists.
func (s *Store) CreateTemplate(ctx context.Context, t *template.Template) error {
	m, err := toTemplateModel(t)
	if err != nil {
		return err
	}
	if _, err := s.col(colTemplates).InsertOne(ctx, m); err != nil {
		if isDuplicateKey(err) {
			return reportflow.ErrTemplateExists
		}
		return fmt.Errorf("reportflow/mongo: create template: %w", err)
	}
	return nil
}

// GetTemplate retrieves a template by ID within a tenant.
func (s *Store) GetTemplate(ctx context.Context, tenantID string, templateID id.TemplateID) (*template.Template, error) {
	return findOneDoc[template.Template](ctx, s.col(colTemplates),
		bson.M{"_id": templateID.String(), "tenant_id": tenantID},
		reportflow.ErrTemplateNotFound, "template")
}

// GetTemplateByCode retrieves a template by its tenant-unique code.
func (s *Store) GetTemplateByCode(ctx context.Context, tenantID, code string) (*template.Template, error) {
	return findOneDoc[template.Template](ctx, s.col(colTemplates),
		bson.M{"tenant_id": tenantID, "code": code},
		reportflow.ErrTemplateNotFound, "template")
}

// UpdateTemplate replaces a stored template.
func (s *Store) UpdateTemplate(ctx context.Context, t *template.Template) error {
	m, err := toTemplateModel(t)
	if err != nil {
		return err
	}
	res, err := s.col(colTemplates).ReplaceOne(ctx, bson.M{"_id": m.ID, "tenant_id": m.TenantID}, m)
	if err != nil {
		if isDuplicateKey(err) {
			return reportflow.ErrTemplateExists
		}
		return fmt.Errorf("reportflow/mongo: update template: %w", err)
	}
	if res.MatchedCount == 0 {
		return reportflow.ErrTemplateNotFound
	}
	return nil
}

// DeleteTemplate removes a template.
func (s *Store) DeleteTemplate(ctx context.Context, tenantID string, templateID id.TemplateID) error {
	res, err := s.col(colTemplates).DeleteOne(ctx, bson.M{"_id": templateID.String(), "tenant_id": tenantID})
	if err != nil {
		return fmt.Errorf("reportflow/mongo: delete template: %w", err)
	}
	if res.DeletedCount == 0 {
		return reportflow.ErrTemplateNotFound
	}
	return nil
}

// ListTemplates returns templates newest first.
func (s *Store) ListTemplates(ctx context.Context, tenantID string, opts template.ListOpts) ([]*template.Template, error) {
	return findDocs[template.Template](ctx, s.col(colTemplates), templateFilter(tenantID, opts),
		pageOpts("created_at", -1, opts.Limit, opts.Offset), "template")
}

// CountTemplates returns the number of templates matching opts.
func (s *Store) CountTemplates(ctx context.Context, tenantID string, opts template.ListOpts) (int64, error) {
	n, err := s.col(colTemplates).CountDocuments(ctx, templateFilter(tenantID, opts))
	if err != nil {
		return 0, fmt.Errorf("reportflow/mongo: count templates: %w", err)
	}
	return n, nil
}

func templateFilter(tenantID string, opts template.ListOpts) bson.M {
	f := bson.M{"tenant_id": tenantID}
	if opts.ReportType != "" {
		f["report_type"] = string(opts.ReportType)
	}
	if opts.Status != "" {
		f["status"] = string(opts.Status)
	}
	if opts.Search != "" {
		pattern := bson.M{"$regex": regexp.QuoteMeta(opts.Search), "$options": "i"}
		f["$or"] = bson.A{bson.M{"name": pattern}, bson.M{"code": pattern}}
	}
	return f
}
