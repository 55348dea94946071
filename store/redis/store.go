package redis

import (
	"context"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/reportflow/dlq"
	"github.com/xraph/reportflow/job"
	"github.com/xraph/reportflow/lock"
)

// Compile-time interface checks.
var (
	_ job.Store  = (*Store)(nil)
	_ dlq.Store  = (*Store)(nil)
	_ lock.Store = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPrefix sets the key prefix. Defaults to "reportflow:".
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.keys = keys{prefix: prefix} }
}

// WithClock overrides the time source used for due checks and stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store implements job.Store, dlq.Store and lock.Store on Redis.
type Store struct {
	client goredis.Cmdable
	keys   keys
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Redis-backed store. The caller owns the client.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client: client,
		keys:   keys{prefix: defaultPrefix},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Migrate is a no-op for Redis.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the client.
func (s *Store) Close() error { return nil }

func (s *Store) clock() time.Time { return s.now().UTC() }
