package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/reportflow/store"
)

// Collection name constants.
const (
	colTemplates = "reportflow_templates"
	colSchedules = "reportflow_schedules"
	colRuns      = "reportflow_runs"
	colAudit     = "reportflow_audit"
	colJobs      = "reportflow_jobs"
	colDLQ       = "reportflow_dlq"
	colLocks     = "reportflow_locks"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is a MongoDB implementation of store.Store. The caller owns the
// client lifecycle; Store never disconnects it.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock overrides the time source used for claims, heartbeats and
// lock expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a MongoDB store on db.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database for advanced usage.
func (s *Store) DB() *mongod.Database {
	return s.db
}

// Migrate creates the indexes of every collection. Index creation is
// idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("reportflow/mongo: migrate %s indexes: %w", col, err)
		}
		s.logger.Debug("ensured indexes", slog.String("collection", col), slog.Int("count", len(models)))
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error {
	return nil
}

func (s *Store) col(name string) *mongod.Collection { return s.db.Collection(name) }

func (s *Store) clock() time.Time { return s.now().UTC() }

// ── helpers ──────────────────────────────────────────────────────

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

func isDuplicateKey(err error) bool {
	return mongod.IsDuplicateKeyError(err)
}

func encodeDoc(v any, what string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("reportflow/mongo: encode %s: %w", what, err)
	}
	return string(data), nil
}

func decodeDoc[T any](doc, what string) (*T, error) {
	v := new(T)
	if err := json.Unmarshal([]byte(doc), v); err != nil {
		return nil, fmt.Errorf("reportflow/mongo: decode %s: %w", what, err)
	}
	return v, nil
}

// docModel is the projection every record collection shares.
type docModel struct {
	Doc string `bson:"doc"`
}

// findDocs runs a Find and decodes the doc field of every match.
func findDocs[T any](ctx context.Context, col *mongod.Collection, filter any, opts *options.FindOptionsBuilder, what string) ([]*T, error) {
	cur, err := col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("reportflow/mongo: find %s: %w", what, err)
	}
	var models []docModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("reportflow/mongo: decode %s cursor: %w", what, err)
	}
	out := make([]*T, 0, len(models))
	for _, m := range models {
		v, err := decodeDoc[T](m.Doc, what)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func findOneDoc[T any](ctx context.Context, col *mongod.Collection, filter any, notFound error, what string) (*T, error) {
	var m docModel
	if err := col.FindOne(ctx, filter).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, notFound
		}
		return nil, fmt.Errorf("reportflow/mongo: get %s: %w", what, err)
	}
	return decodeDoc[T](m.Doc, what)
}

// pageOpts sorts newest first and applies limit and offset. Zero means
// unbounded.
func pageOpts(sortField string, dir, limit, offset int) *options.FindOptionsBuilder {
	o := options.Find().SetSort(bson.D{{Key: sortField, Value: dir}})
	if limit > 0 {
		o.SetLimit(int64(limit))
	}
	if offset > 0 {
		o.SetSkip(int64(offset))
	}
	return o
}

// migrationIndexes returns the index definitions for all collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colTemplates: {
			{
				Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "code", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colSchedules: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_run_at", Value: 1}}},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "template_id", Value: 1}}},
		},
		colRuns: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "started_at", Value: 1}}},
		},
		colAudit: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colJobs: {
			{Keys: bson.D{{Key: "state", Value: 1}, {Key: "queue", Value: 1}, {Key: "run_at", Value: 1}}},
			{Keys: bson.D{{Key: "state", Value: 1}, {Key: "heartbeat_at", Value: 1}}},
		},
		colDLQ: {
			{Keys: bson.D{{Key: "failed_at", Value: -1}}},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "failed_at", Value: -1}}},
		},
		colLocks: {
			{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		},
	}
}
