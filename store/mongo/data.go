package mongo

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xraph/reportflow/aggregation"
	"github.com/xraph/reportflow/executor"
)

var _ executor.DataAccess = (*DataAccess)(nil)

// DataAccess runs compiled section plans against the application's
// business collections. Plans already carry the tenant predicate, so no
// scoping is added here.
type DataAccess struct {
	db         *mongod.Database
	collection func(module, entity string) string
	logger     *slog.Logger
}

// DataOption configures a DataAccess.
type DataOption func(*DataAccess)

// WithCollectionName maps a plan's module and entity to a collection.
// The default uses the entity name.
func WithCollectionName(fn func(module, entity string) string) DataOption {
	return func(d *DataAccess) { d.collection = fn }
}

// WithDataLogger sets the logger.
func WithDataLogger(logger *slog.Logger) DataOption {
	return func(d *DataAccess) { d.logger = logger }
}

// NewDataAccess returns a DataAccess reading from db.
func NewDataAccess(db *mongod.Database, opts ...DataOption) *DataAccess {
	d := &DataAccess{
		db:         db,
		collection: func(_, entity string) string { return entity },
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RunQueryPlan aggregates plan.Pipeline over the plan's collection and
// returns plain Go values: documents become maps, arrays become slices,
// dates become time.Time and ObjectIDs become hex strings.
func (d *DataAccess) RunQueryPlan(ctx context.Context, plan aggregation.Plan) ([]executor.Row, error) {
	name := d.collection(plan.Module, plan.Entity)
	if name == "" {
		return nil, fmt.Errorf("reportflow/mongo: no collection for %s/%s", plan.Module, plan.Entity)
	}
	cur, err := d.db.Collection(name).Aggregate(ctx, plan.Pipeline)
	if err != nil {
		return nil, fmt.Errorf("reportflow/mongo: aggregate %s: %w", name, err)
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("reportflow/mongo: decode %s aggregate: %w", name, err)
	}
	d.logger.Debug("section plan executed",
		slog.String("collection", name),
		slog.String("tenant_id", plan.TenantID),
		slog.Int("rows", len(docs)),
	)

	rows := make([]executor.Row, 0, len(docs))
	for _, doc := range docs {
		rows = append(rows, plainMap(doc))
	}
	return rows, nil
}

func plainMap(m bson.M) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = plainValue(v)
	}
	return out
}

func plainValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		return plainMap(t)
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = plainValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plainValue(e)
		}
		return out
	case bson.DateTime:
		return t.Time().UTC()
	case bson.ObjectID:
		return t.Hex()
	case bson.Decimal128:
		return t.String()
	default:
		return v
	}
}
