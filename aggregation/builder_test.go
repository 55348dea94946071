package aggregation_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/aggregation"
)

func salesSource() aggregation.Source {
	return aggregation.Source{Module: "crm", Entity: "deals"}
}

func lookup(d bson.D, key string) (any, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// collectKeys walks every document in the plan and returns all keys.
func collectKeys(v any, out *[]string) {
	switch t := v.(type) {
	case bson.D:
		for _, e := range t {
			*out = append(*out, e.Key)
			collectKeys(e.Value, out)
		}
	case bson.A:
		for _, x := range t {
			collectKeys(x, out)
		}
	}
}

func TestTenantPredicateComesFirst(t *testing.T) {
	plan, err := aggregation.Build(salesSource(), "acme", nil, reportflow.TenantScope())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	match := plan.Match()
	if len(match) == 0 || match[0].Key != "tenantId" || match[0].Value != "acme" {
		t.Fatalf("first predicate = %v, want tenantId=acme", match)
	}
}

func TestBuildRequiresTenant(t *testing.T) {
	_, err := aggregation.Build(salesSource(), "", nil, reportflow.TenantScope())
	if !errors.Is(err, reportflow.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestAdversarialFiltersNeverLeak(t *testing.T) {
	adversarial := map[string]any{
		"$where":         "sleep(1000)",
		"$or":            []any{map[string]any{"tenantId": "other"}},
		"tenantId":       "other-tenant",
		"status":         map[string]any{"$ne": "closed"},
		"region.$gt":     "",
		"":               "empty",
		"owner":          nil,
		"stage":          "won",
		"amount":         1500,
		"tags":           []any{"vip", "renewal"},
		"mixed":          []any{"ok", map[string]any{"$gt": 1}},
		"closedAt":       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		"createdAt":      "2020-01-01",
		"departmentId":   "d-other",
		"nested.field_1": true,
	}

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	scopes := []reportflow.Scope{
		reportflow.TenantScope(),
		{Type: reportflow.ScopeDepartment, DepartmentID: "d1"},
		{Type: reportflow.ScopeTeam, TeamID: "t1"},
		{Type: reportflow.ScopeUser, UserID: "u1"},
		{Type: reportflow.ScopeCustom, CustomFilters: map[string]any{"$expr": "x", "tenantId": "evil", "branch": "north"}},
	}

	for _, scope := range scopes {
		t.Run(string(scope.Type), func(t *testing.T) {
			src := salesSource()
			src.BaseFilters = adversarial
			plan, err := aggregation.Build(src, "acme", &reportflow.Period{From: &from, To: &to}, scope)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}

			match := plan.Match()
			if match[0].Key != "tenantId" || match[0].Value != "acme" {
				t.Fatalf("tenant predicate missing or replaced: %v", match[0])
			}

			count := 0
			for _, e := range match {
				if e.Key == "tenantId" {
					count++
				}
			}
			if count != 1 {
				t.Errorf("tenantId appears %d times", count)
			}

			var keys []string
			collectKeys(match, &keys)
			for _, k := range keys {
				if strings.HasPrefix(k, "$") && k != "$in" && k != "$gte" && k != "$lte" {
					t.Errorf("operator key %q leaked into match", k)
				}
				if strings.Contains(k, ".$") {
					t.Errorf("operator path %q leaked into match", k)
				}
			}

			if v, _ := lookup(match, "createdAt"); v == "2020-01-01" {
				t.Error("base filter overrode the period predicate")
			}
			if scope.Type == reportflow.ScopeDepartment {
				if v, _ := lookup(match, "departmentId"); v != "d1" {
					t.Errorf("departmentId = %v, want d1", v)
				}
			}
			for _, dropped := range []string{"status", "owner", "mixed"} {
				if _, ok := lookup(match, dropped); ok {
					t.Errorf("%q should have been dropped", dropped)
				}
			}
			if v, _ := lookup(match, "stage"); v != "won" {
				t.Errorf("stage = %v, want won", v)
			}
			if v, ok := lookup(match, "tags"); !ok {
				t.Error("tags should become an $in predicate")
			} else if in, _ := lookup(v.(bson.D), "$in"); len(in.(bson.A)) != 2 {
				t.Errorf("tags $in = %v", in)
			}
		})
	}
}

func TestPeriodRange(t *testing.T) {
	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 28, 23, 59, 59, 0, time.UTC)
	plan, err := aggregation.Build(salesSource(), "acme", &reportflow.Period{From: &from, To: &to}, reportflow.TenantScope())
	if err != nil {
		t.Fatal(err)
	}

	v, ok := lookup(plan.Match(), "createdAt")
	if !ok {
		t.Fatal("missing createdAt range")
	}
	rng := v.(bson.D)
	if gte, _ := lookup(rng, "$gte"); !gte.(time.Time).Equal(from) {
		t.Errorf("$gte = %v", gte)
	}
	if lte, _ := lookup(rng, "$lte"); !lte.(time.Time).Equal(to) {
		t.Errorf("$lte = %v", lte)
	}
}

func TestGroupSortLimitStages(t *testing.T) {
	src := salesSource()
	src.GroupBy = []string{"stage", "owner.team"}
	src.Metrics = []aggregation.Metric{
		{Name: "deals", Op: aggregation.OpCount},
		{Name: "revenue", Op: aggregation.OpSum, Field: "amount"},
	}
	src.Sort = []aggregation.SortKey{{Field: "revenue", Desc: true}}
	src.Limit = 10

	plan, err := aggregation.Build(src, "acme", nil, reportflow.TenantScope())
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Pipeline) != 4 {
		t.Fatalf("pipeline has %d stages, want 4", len(plan.Pipeline))
	}

	wantOps := []string{"$match", "$group", "$sort", "$limit"}
	for i, op := range wantOps {
		if plan.Pipeline[i][0].Key != op {
			t.Errorf("stage %d = %s, want %s", i, plan.Pipeline[i][0].Key, op)
		}
	}

	group := plan.Pipeline[1][0].Value.(bson.D)
	id, _ := lookup(group, "_id")
	if teamKey, _ := lookup(id.(bson.D), "owner_team"); teamKey != "$owner.team" {
		t.Errorf("group key owner_team = %v", teamKey)
	}
	rev, _ := lookup(group, "revenue")
	if sum, _ := lookup(rev.(bson.D), "$sum"); sum != "$amount" {
		t.Errorf("revenue accumulator = %v", rev)
	}
}

func TestInvalidSourceRejected(t *testing.T) {
	tests := []aggregation.Source{
		{Module: "", Entity: "deals"},
		{Module: "crm", Entity: "$deals"},
		{Module: "crm", Entity: "deals", GroupBy: []string{"$stage"}},
		{Module: "crm", Entity: "deals", Sort: []aggregation.SortKey{{Field: "a.$b"}}},
		{Module: "crm", Entity: "deals", Metrics: []aggregation.Metric{{Name: "x", Op: aggregation.OpSum}}},
		{Module: "crm", Entity: "deals", Metrics: []aggregation.Metric{{Name: "x", Op: "$function"}}},
		{Module: "crm", Entity: "deals", Limit: aggregation.MaxLimit + 1},
	}
	for _, src := range tests {
		if _, err := aggregation.Build(src, "acme", nil, reportflow.TenantScope()); !errors.Is(err, reportflow.ErrConfiguration) {
			t.Errorf("Build(%+v) = %v, want configuration error", src, err)
		}
	}
}

func TestIDEncoder(t *testing.T) {
	b := aggregation.NewBuilder(aggregation.WithIDEncoder(func(s string) any { return "oid:" + s }))
	plan, err := b.Build(salesSource(), "acme", nil, reportflow.Scope{Type: reportflow.ScopeUser, UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	m := plan.Match()
	if m[0].Value != "oid:acme" {
		t.Errorf("tenant = %v", m[0].Value)
	}
	if v, _ := lookup(m, "userId"); v != "oid:u1" {
		t.Errorf("userId = %v", v)
	}
}
