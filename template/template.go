package template

import (
	"slices"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/aggregation"
	"github.com/xraph/reportflow/id"
)

// Status is the lifecycle status of a template. Templates referenced by
// schedules are never deleted; they are disabled instead.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// ReportType classifies a template.
type ReportType string

const (
	TypeDSR       ReportType = "DSR"
	TypeWSR       ReportType = "WSR"
	TypeMonthly   ReportType = "MONTHLY"
	TypeQuarterly ReportType = "QUARTERLY"
	TypeYearly    ReportType = "YEARLY"
	TypeCustom    ReportType = "CUSTOM"
)

// ViewType is the presentation kind of a section.
type ViewType string

const (
	ViewTable ViewType = "TABLE"
	ViewChart ViewType = "CHART"
	ViewText  ViewType = "TEXT"
	ViewKPI   ViewType = "KPI"
	ViewList  ViewType = "LIST"
)

// Column is one table column of a section view.
type Column struct {
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
}

// Chart configures a CHART view.
type Chart struct {
	Kind string `json:"kind"`
	X    string `json:"x"`
	Y    string `json:"y"`
}

// View is the presentation half of a section.
type View struct {
	Type     ViewType `json:"type"`
	Columns  []Column `json:"columns,omitempty"`
	Chart    *Chart   `json:"chart,omitempty"`
	Template string   `json:"template,omitempty"`
}

// Section is one block of a report: where its data comes from and how it
// is presented. Narrative sections are additionally summarized by the
// insight generator.
type Section struct {
	Key       string             `json:"key"`
	Title     string             `json:"title"`
	Enabled   bool               `json:"enabled"`
	Narrative bool               `json:"narrative,omitempty"`
	Source    aggregation.Source `json:"source"`
	View      View               `json:"view"`
}

// OutputDefaults are the rendering defaults of a template.
type OutputDefaults struct {
	Formats         []reportflow.Format `json:"formats"`
	Timezone        string              `json:"timezone"`
	Locale          string              `json:"locale"`
	Currency        string              `json:"currency"`
	IncludeBranding bool                `json:"include_branding"`
}

// DefaultOutput returns the output defaults applied to new templates.
func DefaultOutput() OutputDefaults {
	return OutputDefaults{
		Formats:         []reportflow.Format{reportflow.FormatPDF},
		Timezone:        "Asia/Kolkata",
		Locale:          "en-IN",
		Currency:        "INR",
		IncludeBranding: true,
	}
}

// Access restricts who may view reports generated from a template.
// Enforcement belongs to the host platform.
type Access struct {
	MinPermission  string   `json:"min_permission"`
	AllowedRoleIDs []string `json:"allowed_role_ids,omitempty"`
	AllowedUserIDs []string `json:"allowed_user_ids,omitempty"`
}

// DepartmentScope selects which departments a template targets.
type DepartmentScope string

const (
	DepartmentsAll      DepartmentScope = "ALL"
	DepartmentsSelected DepartmentScope = "SELECTED"
)

// Audience lists the organisational units a template is intended for.
type Audience struct {
	DepartmentScope DepartmentScope `json:"department_scope"`
	DepartmentIDs   []string        `json:"department_ids,omitempty"`
	TeamIDs         []string        `json:"team_ids,omitempty"`
	UserIDs         []string        `json:"user_ids,omitempty"`
}

// Template defines what a report contains. Code is unique per tenant and
// never changes after creation.
type Template struct {
	reportflow.Entity

	ID             id.TemplateID  `json:"id"`
	TenantID       string         `json:"tenant_id"`
	Code           string         `json:"code"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	ReportType     ReportType     `json:"report_type"`
	Audience       Audience       `json:"audience"`
	Sections       []Section      `json:"sections"`
	OutputDefaults OutputDefaults `json:"output_defaults"`
	Access         Access         `json:"access"`
	Status         Status         `json:"status"`
	CreatedBy      string         `json:"created_by,omitempty"`
	UpdatedBy      string         `json:"updated_by,omitempty"`
}

// IsActive reports whether runs may be generated from the template.
func (t *Template) IsActive() bool { return t.Status == StatusActive }

// EnabledSections returns the sections that take part in a run, in order.
func (t *Template) EnabledSections() []Section {
	out := make([]Section, 0, len(t.Sections))
	for _, s := range t.Sections {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// ApplyDefaults fills unset output, access and audience fields.
func (t *Template) ApplyDefaults() {
	def := DefaultOutput()
	if len(t.OutputDefaults.Formats) == 0 {
		t.OutputDefaults.Formats = def.Formats
	}
	if t.OutputDefaults.Timezone == "" {
		t.OutputDefaults.Timezone = def.Timezone
	}
	if t.OutputDefaults.Locale == "" {
		t.OutputDefaults.Locale = def.Locale
	}
	if t.OutputDefaults.Currency == "" {
		t.OutputDefaults.Currency = def.Currency
	}
	if t.Access.MinPermission == "" {
		t.Access.MinPermission = "reports.view"
	}
	if t.Audience.DepartmentScope == "" {
		t.Audience.DepartmentScope = DepartmentsAll
	}
	if t.Status == "" {
		t.Status = StatusActive
	}
	for i := range t.Sections {
		if t.Sections[i].View.Type == "" {
			t.Sections[i].View.Type = ViewTable
		}
	}
}

// Clone returns a deep copy of t.
func (t *Template) Clone() *Template {
	cp := *t
	cp.Audience.DepartmentIDs = slices.Clone(t.Audience.DepartmentIDs)
	cp.Audience.TeamIDs = slices.Clone(t.Audience.TeamIDs)
	cp.Audience.UserIDs = slices.Clone(t.Audience.UserIDs)
	cp.OutputDefaults.Formats = slices.Clone(t.OutputDefaults.Formats)
	cp.Access.AllowedRoleIDs = slices.Clone(t.Access.AllowedRoleIDs)
	cp.Access.AllowedUserIDs = slices.Clone(t.Access.AllowedUserIDs)
	if t.Sections != nil {
		cp.Sections = make([]Section, len(t.Sections))
		for i, s := range t.Sections {
			s.Source.BaseFilters = reportflow.CloneFilters(s.Source.BaseFilters)
			s.Source.GroupBy = slices.Clone(s.Source.GroupBy)
			s.Source.Metrics = slices.Clone(s.Source.Metrics)
			s.Source.Sort = slices.Clone(s.Source.Sort)
			s.View.Columns = slices.Clone(s.View.Columns)
			if s.View.Chart != nil {
				c := *s.View.Chart
				s.View.Chart = &c
			}
			cp.Sections[i] = s
		}
	}
	return &cp
}
