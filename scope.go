package reportflow

import "time"

// ScopeType narrows the data a report covers within a tenant.
type ScopeType string

const (
	ScopeTenant     ScopeType = "TENANT"
	ScopeDepartment ScopeType = "DEPARTMENT"
	ScopeTeam       ScopeType = "TEAM"
	ScopeUser       ScopeType = "USER"
	ScopeCustom     ScopeType = "CUSTOM"
)

// Scope is the targeting of a schedule or a manual run. A run keeps a
// copy taken at trigger time.
type Scope struct {
	Type          ScopeType      `json:"type"`
	DepartmentID  string         `json:"department_id,omitempty"`
	TeamID        string         `json:"team_id,omitempty"`
	UserID        string         `json:"user_id,omitempty"`
	CustomFilters map[string]any `json:"custom_filters,omitempty"`
}

// TenantScope is the default, unnarrowed scope.
func TenantScope() Scope { return Scope{Type: ScopeTenant} }

// Validate checks that the id matching the scope type is present.
func (s Scope) Validate() error {
	switch s.Type {
	case "", ScopeTenant:
		return nil
	case ScopeDepartment:
		if s.DepartmentID == "" {
			return Configf("scope.departmentId", "required for DEPARTMENT scope")
		}
	case ScopeTeam:
		if s.TeamID == "" {
			return Configf("scope.teamId", "required for TEAM scope")
		}
	case ScopeUser:
		if s.UserID == "" {
			return Configf("scope.userId", "required for USER scope")
		}
	case ScopeCustom:
		if len(s.CustomFilters) == 0 {
			return Configf("scope.customFilters", "required for CUSTOM scope")
		}
	default:
		return Configf("scope.type", "unsupported scope type %q", s.Type)
	}
	return nil
}

// Clone returns a deep copy. Nested maps and slices inside custom filters
// are copied so a snapshot never aliases the schedule it came from.
func (s Scope) Clone() Scope {
	out := s
	if s.Type == "" {
		out.Type = ScopeTenant
	}
	if s.CustomFilters != nil {
		out.CustomFilters = cloneMap(s.CustomFilters)
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		cp := make([]any, len(t))
		for i := range t {
			cp[i] = cloneValue(t[i])
		}
		return cp
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// CloneFilters deep-copies a filter map. Nil stays nil.
func CloneFilters(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return cloneMap(m)
}

// Period is the reporting window of a run. From and To are inclusive.
type Period struct {
	From  *time.Time `json:"from,omitempty"`
	To    *time.Time `json:"to,omitempty"`
	Label string     `json:"label,omitempty"`
}

// Validate rejects inverted ranges.
func (p Period) Validate() error {
	if p.From != nil && p.To != nil && p.To.Before(*p.From) {
		return Configf("period", "to %s is before from %s", p.To.Format(time.RFC3339), p.From.Format(time.RFC3339))
	}
	return nil
}

// IsZero reports whether the period has no bounds.
func (p Period) IsZero() bool { return p.From == nil && p.To == nil }

// Format is an output artifact format.
type Format string

const (
	FormatPDF  Format = "PDF"
	FormatXLSX Format = "XLSX"
	FormatCSV  Format = "CSV"
	FormatJSON Format = "JSON"
	FormatHTML Format = "HTML"
)

// Valid reports whether f is a supported format.
func (f Format) Valid() bool {
	switch f {
	case FormatPDF, FormatXLSX, FormatCSV, FormatJSON, FormatHTML:
		return true
	}
	return false
}

// ValidateFormats checks a requested format list.
func ValidateFormats(formats []Format) error {
	if len(formats) == 0 {
		return Configf("formats", "at least one output format is required")
	}
	seen := make(map[Format]bool, len(formats))
	for _, f := range formats {
		if !f.Valid() {
			return Configf("formats", "unsupported format %q", f)
		}
		if seen[f] {
			return Configf("formats", "duplicate format %q", f)
		}
		seen[f] = true
	}
	return nil
}
