package aggregation

import (
	"regexp"

	"github.com/xraph/reportflow"
)

// MaxLimit caps the row limit a section may request.
const MaxLimit = 10000

var (
	fieldPattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
	metricPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// ValidField reports whether name is an acceptable document field path.
// Operator sigils, empty segments and anything outside the allow-listed
// alphabet are rejected.
func ValidField(name string) bool { return fieldPattern.MatchString(name) }

// MetricOp is an accumulator applied inside a group stage.
type MetricOp string

const (
	OpCount MetricOp = "count"
	OpSum   MetricOp = "sum"
	OpAvg   MetricOp = "avg"
	OpMin   MetricOp = "min"
	OpMax   MetricOp = "max"
)

// Metric is one computed column of a grouped section.
type Metric struct {
	Name  string   `json:"name"`
	Op    MetricOp `json:"op"`
	Field string   `json:"field,omitempty"`
}

// SortKey orders section rows.
type SortKey struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// Source is the data definition of a report section: which entity to
// read, which author-supplied filters apply and how rows are grouped,
// ordered and capped.
type Source struct {
	Module      string         `json:"module"`
	Entity      string         `json:"entity"`
	BaseFilters map[string]any `json:"base_filters,omitempty"`
	GroupBy     []string       `json:"group_by,omitempty"`
	Metrics     []Metric       `json:"metrics,omitempty"`
	Sort        []SortKey      `json:"sort,omitempty"`
	Limit       int            `json:"limit,omitempty"`
}

// Kind returns "module.entity".
func (s Source) Kind() string { return s.Module + "." + s.Entity }

// Validate checks the structural shape of the source. Filter values are
// not checked here; the builder sanitizes them on every build.
func (s Source) Validate() error {
	if s.Module == "" || !metricPattern.MatchString(s.Module) {
		return reportflow.Configf("source.module", "invalid module %q", s.Module)
	}
	if s.Entity == "" || !metricPattern.MatchString(s.Entity) {
		return reportflow.Configf("source.entity", "invalid entity %q", s.Entity)
	}
	for _, f := range s.GroupBy {
		if !ValidField(f) {
			return reportflow.Configf("source.groupBy", "invalid field %q", f)
		}
	}
	names := make(map[string]bool, len(s.Metrics))
	for _, m := range s.Metrics {
		if !metricPattern.MatchString(m.Name) || m.Name == "_id" {
			return reportflow.Configf("source.metrics", "invalid metric name %q", m.Name)
		}
		if names[m.Name] {
			return reportflow.Configf("source.metrics", "duplicate metric %q", m.Name)
		}
		names[m.Name] = true
		switch m.Op {
		case OpCount:
		case OpSum, OpAvg, OpMin, OpMax:
			if !ValidField(m.Field) {
				return reportflow.Configf("source.metrics", "metric %q needs a valid field", m.Name)
			}
		default:
			return reportflow.Configf("source.metrics", "unsupported op %q", m.Op)
		}
	}
	for _, k := range s.Sort {
		if !ValidField(k.Field) {
			return reportflow.Configf("source.sort", "invalid field %q", k.Field)
		}
	}
	if s.Limit < 0 || s.Limit > MaxLimit {
		return reportflow.Configf("source.limit", "must be 0-%d, got %d", MaxLimit, s.Limit)
	}
	return nil
}
