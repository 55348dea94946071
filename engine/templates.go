package engine

import (
	"context"
	"fmt"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/schedule"
	"github.com/xraph/reportflow/template"
)

// ──────────────────────────────────────────────────
// Templates
// ──────────────────────────────────────────────────

// CreateTemplate validates and stores a new template. Defaults are
// filled in place. A duplicate code within the tenant returns
// reportflow.ErrTemplateExists.
func (eng *Engine) CreateTemplate(ctx context.Context, t *template.Template) (*template.Template, error) {
	if t.TenantID == "" {
		return nil, reportflow.Configf("tenantId", "required")
	}
	t.ApplyDefaults()
	if err := eng.validator.Validate(t); err != nil {
		return nil, err
	}

	now := eng.clock()
	t.ID = id.NewTemplateID()
	t.CreatedAt, t.UpdatedAt = now, now
	if t.CreatedBy == "" {
		t.CreatedBy = actor(ctx)
	}
	t.UpdatedBy = t.CreatedBy

	if err := eng.store.CreateTemplate(ctx, t); err != nil {
		return nil, err
	}
	eng.extensions.EmitTemplateCreated(ctx, t)
	return t, nil
}

// GetTemplate returns a template of the tenant.
func (eng *Engine) GetTemplate(ctx context.Context, tenantID string, templateID id.TemplateID) (*template.Template, error) {
	return eng.store.GetTemplate(ctx, tenantID, templateID)
}

// ListTemplates returns one page of a tenant's templates, newest first.
func (eng *Engine) ListTemplates(ctx context.Context, tenantID string, filter template.ListOpts, page reportflow.PageRequest) (reportflow.Page[*template.Template], error) {
	page = page.Normalize()
	filter.Limit, filter.Offset = page.Limit, page.Offset()

	items, err := eng.store.ListTemplates(ctx, tenantID, filter)
	if err != nil {
		return reportflow.Page[*template.Template]{}, err
	}
	total, err := eng.store.CountTemplates(ctx, tenantID, filter)
	if err != nil {
		return reportflow.Page[*template.Template]{}, err
	}
	return reportflow.NewPage(items, total, page), nil
}

// UpdateTemplate replaces the editable fields of a stored template with
// those of t and re-validates. Code, tenant and creation stamps are
// kept from the stored template.
func (eng *Engine) UpdateTemplate(ctx context.Context, t *template.Template) (*template.Template, error) {
	before, err := eng.store.GetTemplate(ctx, t.TenantID, t.ID)
	if err != nil {
		return nil, err
	}
	if t.Code != "" && t.Code != before.Code {
		return nil, reportflow.Configf("code", "is immutable")
	}

	after := t.Clone()
	after.Code = before.Code
	after.CreatedAt = before.CreatedAt
	after.CreatedBy = before.CreatedBy
	after.ApplyDefaults()
	if err := eng.validator.Validate(after); err != nil {
		return nil, err
	}
	after.UpdatedAt = eng.clock()
	if after.UpdatedBy == "" {
		after.UpdatedBy = actor(ctx)
	}

	if err := eng.store.UpdateTemplate(ctx, after); err != nil {
		return nil, err
	}
	eng.extensions.EmitTemplateUpdated(ctx, before, after)
	return after, nil
}

// UpdateTemplateStatus activates or disables a template. Disabled
// templates keep their schedules, but those schedules stop producing
// runs until the template is active again.
func (eng *Engine) UpdateTemplateStatus(ctx context.Context, tenantID string, templateID id.TemplateID, status template.Status) (*template.Template, error) {
	if status != template.StatusActive && status != template.StatusDisabled {
		return nil, reportflow.Configf("status", "unsupported status %q", status)
	}
	before, err := eng.store.GetTemplate(ctx, tenantID, templateID)
	if err != nil {
		return nil, err
	}
	after := before.Clone()
	after.Status = status
	after.UpdatedAt = eng.clock()
	after.UpdatedBy = actor(ctx)

	if err := eng.store.UpdateTemplate(ctx, after); err != nil {
		return nil, err
	}
	eng.extensions.EmitTemplateUpdated(ctx, before, after)
	return after, nil
}

// CloneTemplate copies a template under a derived code. The copy starts
// disabled so it produces nothing until reviewed.
func (eng *Engine) CloneTemplate(ctx context.Context, tenantID string, templateID id.TemplateID) (*template.Template, error) {
	src, err := eng.store.GetTemplate(ctx, tenantID, templateID)
	if err != nil {
		return nil, err
	}
	now := eng.clock()

	cp := src.Clone()
	cp.ID = id.NewTemplateID()
	suffix := fmt.Sprintf("_COPY_%d", now.UnixMilli())
	base := src.Code
	if len(base)+len(suffix) > 100 {
		base = base[:100-len(suffix)]
	}
	cp.Code = base + suffix
	cp.Name = src.Name + " (Copy)"
	cp.Status = template.StatusDisabled
	cp.CreatedAt, cp.UpdatedAt = now, now
	cp.CreatedBy = actor(ctx)
	cp.UpdatedBy = cp.CreatedBy

	if err := eng.store.CreateTemplate(ctx, cp); err != nil {
		return nil, err
	}
	eng.extensions.EmitTemplateCreated(ctx, cp)
	return cp, nil
}

// DeleteTemplate removes a template that no schedule references.
// Otherwise it returns reportflow.ErrTemplateInUse.
func (eng *Engine) DeleteTemplate(ctx context.Context, tenantID string, templateID id.TemplateID) error {
	t, err := eng.store.GetTemplate(ctx, tenantID, templateID)
	if err != nil {
		return err
	}
	n, err := eng.store.CountSchedules(ctx, tenantID, schedule.ListOpts{TemplateID: templateID})
	if err != nil {
		return err
	}
	if n > 0 {
		return reportflow.ErrTemplateInUse
	}
	if err := eng.store.DeleteTemplate(ctx, tenantID, templateID); err != nil {
		return err
	}
	eng.extensions.EmitTemplateDeleted(ctx, t)
	return nil
}

func actor(ctx context.Context) string {
	if info, ok := reportflow.ClientInfoFrom(ctx); ok {
		return info.ActorID
	}
	return ""
}
