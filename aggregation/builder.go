// Package aggregation compiles a report section's source definition plus
// tenant, period and scope context into a tenant-isolated aggregation
// pipeline.
//
// Every plan starts with a $match whose first predicate is the tenant
// filter. Author-supplied filters pass through an allow-list sanitizer and
// can never replace the tenant, period or scope predicates.
package aggregation

import (
	"encoding/json"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xraph/reportflow"
)

// Default document field names.
const (
	DefaultTenantField = "tenantId"
	DefaultTimeField   = "createdAt"
)

// Plan is a compiled, tenant-scoped query for one section.
type Plan struct {
	Module   string
	Entity   string
	TenantID string
	Pipeline mongo.Pipeline
}

// Match returns the plan's $match document.
func (p Plan) Match() bson.D {
	if len(p.Pipeline) == 0 || len(p.Pipeline[0]) == 0 || p.Pipeline[0][0].Key != "$match" {
		return nil
	}
	m, _ := p.Pipeline[0][0].Value.(bson.D)
	return m
}

// Builder compiles plans. The zero value is not usable; use NewBuilder.
type Builder struct {
	tenantField string
	timeField   string
	encodeID    func(string) any
}

// Option configures a Builder.
type Option func(*Builder)

// WithTenantField overrides the tenant field name.
func WithTenantField(f string) Option { return func(b *Builder) { b.tenantField = f } }

// WithTimeField overrides the field the period applies to.
func WithTimeField(f string) Option { return func(b *Builder) { b.timeField = f } }

// WithIDEncoder converts tenant and scope identifiers before they enter
// the plan, e.g. hex strings into ObjectIDs.
func WithIDEncoder(fn func(string) any) Option { return func(b *Builder) { b.encodeID = fn } }

// NewBuilder returns a Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		tenantField: DefaultTenantField,
		timeField:   DefaultTimeField,
		encodeID:    func(s string) any { return s },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var defaultBuilder = NewBuilder()

// Build compiles src with the default Builder.
func Build(src Source, tenantID string, period *reportflow.Period, scope reportflow.Scope) (Plan, error) {
	return defaultBuilder.Build(src, tenantID, period, scope)
}

// Build compiles src into a plan scoped to tenantID. It fails with a
// ConfigurationError when the tenant is missing or the source is
// malformed; it never returns a plan without the tenant predicate.
func (b *Builder) Build(src Source, tenantID string, period *reportflow.Period, scope reportflow.Scope) (Plan, error) {
	if tenantID == "" {
		return Plan{}, reportflow.Configf("tenantId", "required to build a query plan")
	}
	if err := src.Validate(); err != nil {
		return Plan{}, err
	}

	match := bson.D{{Key: b.tenantField, Value: b.encodeID(tenantID)}}
	taken := map[string]bool{b.tenantField: true}
	add := func(key string, value any) {
		if taken[key] {
			return
		}
		taken[key] = true
		match = append(match, bson.E{Key: key, Value: value})
	}

	if period != nil && !period.IsZero() {
		rng := bson.D{}
		if period.From != nil {
			rng = append(rng, bson.E{Key: "$gte", Value: period.From.UTC()})
		}
		if period.To != nil {
			rng = append(rng, bson.E{Key: "$lte", Value: period.To.UTC()})
		}
		add(b.timeField, rng)
	}

	switch scope.Type {
	case reportflow.ScopeDepartment:
		if scope.DepartmentID != "" {
			add("departmentId", b.encodeID(scope.DepartmentID))
		}
	case reportflow.ScopeTeam:
		if scope.TeamID != "" {
			add("teamId", b.encodeID(scope.TeamID))
		}
	case reportflow.ScopeUser:
		if scope.UserID != "" {
			add("userId", b.encodeID(scope.UserID))
		}
	case reportflow.ScopeCustom:
		for _, e := range Sanitize(scope.CustomFilters) {
			add(e.Key, e.Value)
		}
	}

	for _, e := range Sanitize(src.BaseFilters) {
		add(e.Key, e.Value)
	}

	pipeline := mongo.Pipeline{{{Key: "$match", Value: match}}}

	if g := groupStage(src); g != nil {
		pipeline = append(pipeline, bson.D{{Key: "$group", Value: g}})
	}
	if len(src.Sort) > 0 {
		s := make(bson.D, 0, len(src.Sort))
		for _, k := range src.Sort {
			dir := 1
			if k.Desc {
				dir = -1
			}
			s = append(s, bson.E{Key: k.Field, Value: dir})
		}
		pipeline = append(pipeline, bson.D{{Key: "$sort", Value: s}})
	}
	if src.Limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: int64(src.Limit)}})
	}

	return Plan{
		Module:   src.Module,
		Entity:   src.Entity,
		TenantID: tenantID,
		Pipeline: pipeline,
	}, nil
}

func groupStage(src Source) bson.D {
	if len(src.GroupBy) == 0 && len(src.Metrics) == 0 {
		return nil
	}

	var key any
	switch len(src.GroupBy) {
	case 0:
		key = nil
	case 1:
		key = "$" + src.GroupBy[0]
	default:
		k := make(bson.D, 0, len(src.GroupBy))
		for _, f := range src.GroupBy {
			k = append(k, bson.E{Key: outputName(f), Value: "$" + f})
		}
		key = k
	}

	g := bson.D{{Key: "_id", Value: key}}
	for _, m := range src.Metrics {
		var acc bson.D
		switch m.Op {
		case OpCount:
			acc = bson.D{{Key: "$sum", Value: 1}}
		default:
			acc = bson.D{{Key: "$" + string(m.Op), Value: "$" + m.Field}}
		}
		g = append(g, bson.E{Key: m.Name, Value: acc})
	}
	return g
}

// outputName flattens a dotted path into a group key name.
func outputName(field string) string {
	out := []byte(field)
	for i, c := range out {
		if c == '.' {
			out[i] = '_'
		}
	}
	return string(out)
}

// Sanitize filters author-supplied predicates through an allow-list.
// Keys must be plain field paths. Scalars and times pass unchanged,
// arrays of scalars become $in predicates, and everything else (nested
// documents, operator objects, nil, arrays with non-scalar members) is
// dropped. The result is sorted by key for deterministic plans.
func Sanitize(filters map[string]any) bson.D {
	if len(filters) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		if ValidField(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make(bson.D, 0, len(keys))
	for _, k := range keys {
		v := filters[k]
		if s, ok := scalar(v); ok {
			out = append(out, bson.E{Key: k, Value: s})
			continue
		}
		if list, ok := scalarList(v); ok {
			out = append(out, bson.E{Key: k, Value: bson.D{{Key: "$in", Value: list}}})
		}
	}
	return out
}

func scalar(v any) (any, bool) {
	switch t := v.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint8, uint16, uint32,
		float32, float64:
		return t, true
	case time.Time:
		return t.UTC(), true
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, true
		}
		if f, err := t.Float64(); err == nil {
			return f, true
		}
	}
	return nil, false
}

func scalarList(v any) (bson.A, bool) {
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case []string:
		items = make([]any, len(t))
		for i := range t {
			items[i] = t[i]
		}
	case []int:
		items = make([]any, len(t))
		for i := range t {
			items[i] = t[i]
		}
	case []float64:
		items = make([]any, len(t))
		for i := range t {
			items[i] = t[i]
		}
	default:
		return nil, false
	}

	out := make(bson.A, 0, len(items))
	for _, it := range items {
		s, ok := scalar(it)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
