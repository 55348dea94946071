package executor

import (
	"context"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/aggregation"
	"github.com/xraph/reportflow/run"
	"github.com/xraph/reportflow/template"
)

// Row is one result document of a query plan.
type Row = map[string]any

// DataAccess executes tenant-isolated query plans. Implementations trust
// the plan's embedded tenant predicate and add no scoping of their own.
type DataAccess interface {
	RunQueryPlan(ctx context.Context, plan aggregation.Plan) ([]Row, error)
}

// DataAccessFunc adapts a plain function to DataAccess.
type DataAccessFunc func(ctx context.Context, plan aggregation.Plan) ([]Row, error)

// RunQueryPlan calls f.
func (f DataAccessFunc) RunQueryPlan(ctx context.Context, plan aggregation.Plan) ([]Row, error) {
	return f(ctx, plan)
}

// SectionResult is the outcome of one section. A failed section has no
// rows and a non-empty Error.
type SectionResult struct {
	Key       string        `json:"key"`
	Title     string        `json:"title"`
	View      template.View `json:"view"`
	Rows      []Row         `json:"rows"`
	Error     string        `json:"error,omitempty"`
	Narrative string        `json:"narrative,omitempty"`
}

// RenderRequest carries everything a renderer needs for one format.
type RenderRequest struct {
	TenantID        string
	RunID           string
	TemplateCode    string
	TemplateName    string
	Period          reportflow.Period
	Format          reportflow.Format
	Sections        []SectionResult
	IncludeBranding bool
	Locale          string
	Currency        string
	Timezone        string
}

// Renderer turns section results into one artifact.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (*run.Output, error)
}

// RendererFunc adapts a plain function to Renderer.
type RendererFunc func(ctx context.Context, req RenderRequest) (*run.Output, error)

// Render calls f.
func (f RendererFunc) Render(ctx context.Context, req RenderRequest) (*run.Output, error) {
	return f(ctx, req)
}

// InsightContext describes the report a narrative is written for.
type InsightContext struct {
	TenantID     string
	TemplateName string
	SectionKey   string
	Period       reportflow.Period
	Locale       string
}

// InsightGenerator writes narrative text for narrative sections.
type InsightGenerator interface {
	Summarize(ctx context.Context, sections []SectionResult, ic InsightContext) (string, error)
}
