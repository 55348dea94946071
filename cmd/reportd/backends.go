package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/reportflow/store"
	"github.com/xraph/reportflow/store/memory"
	"github.com/xraph/reportflow/store/mongo"
	"github.com/xraph/reportflow/store/postgres"
	redisstore "github.com/xraph/reportflow/store/redis"
)

// backends holds the opened connections. Close releases the clients
// the stores do not own.
type backends struct {
	store store.Store
	mongo *mongod.Client
	redis *goredis.Client

	// parts lists every distinct store, so migrate reaches the queue
	// backend of a split store too.
	parts []migrator

	cfg *Config
}

type migrator interface {
	Migrate(ctx context.Context) error
}

// openBackends connects the record and queue stores named in cfg.
func openBackends(ctx context.Context, cfg *Config, logger *slog.Logger) (_ *backends, err error) {
	b := &backends{cfg: cfg}
	defer func() {
		if err != nil {
			_ = b.Close(context.WithoutCancel(ctx))
		}
	}()

	records, err := b.openRecords(ctx, cfg.Store.Records, logger)
	if err != nil {
		return nil, err
	}
	b.parts = append(b.parts, records)
	queueKind := cfg.Store.Queue
	if queueKind == "" || queueKind == cfg.Store.Records {
		full, ok := records.(store.Store)
		if !ok {
			return nil, fmt.Errorf("store %q cannot serve the queue", cfg.Store.Records)
		}
		b.store = full
		return b, nil
	}

	queue, err := b.openQueue(ctx, queueKind, logger)
	if err != nil {
		return nil, err
	}
	if m, ok := queue.(migrator); ok {
		b.parts = append(b.parts, m)
	}
	b.store = store.Split(records, queue)
	return b, nil
}

func (b *backends) openRecords(ctx context.Context, kind string, logger *slog.Logger) (store.Records, error) {
	switch kind {
	case "postgres":
		return b.postgres(ctx, logger)
	case "mongo":
		return b.mongoStore(ctx, logger)
	case "memory", "":
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown records store %q", kind)
}

func (b *backends) openQueue(ctx context.Context, kind string, logger *slog.Logger) (store.Queue, error) {
	switch kind {
	case "redis":
		client, err := b.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return redisstore.New(client,
			redisstore.WithLogger(logger),
			redisstore.WithPrefix(b.cfg.Redis.Prefix),
		), nil
	case "postgres":
		return b.postgres(ctx, logger)
	case "mongo":
		return b.mongoStore(ctx, logger)
	case "memory":
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown queue store %q", kind)
}

func (b *backends) postgres(ctx context.Context, logger *slog.Logger) (*postgres.Store, error) {
	if b.cfg.Postgres.URL == "" {
		return nil, errors.New("postgres.url is required")
	}
	return postgres.New(ctx, b.cfg.Postgres.URL, postgres.WithLogger(logger))
}

func (b *backends) mongoStore(ctx context.Context, logger *slog.Logger) (*mongo.Store, error) {
	client, err := b.mongoClient(ctx)
	if err != nil {
		return nil, err
	}
	return mongo.New(client.Database(b.cfg.Mongo.Database), mongo.WithLogger(logger)), nil
}

func (b *backends) mongoClient(ctx context.Context) (*mongod.Client, error) {
	if b.mongo != nil {
		return b.mongo, nil
	}
	if b.cfg.Mongo.URI == "" {
		return nil, errors.New("mongo.uri is required")
	}
	client, err := mongod.Connect(options.Client().ApplyURI(b.cfg.Mongo.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	b.mongo = client
	return client, nil
}

func (b *backends) redisClient(ctx context.Context) (*goredis.Client, error) {
	if b.redis != nil {
		return b.redis, nil
	}
	if b.cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	opts, err := goredis.ParseURL(b.cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	b.redis = client
	return client, nil
}

// dataAccess returns the MongoDB reader section plans run against.
func (b *backends) dataAccess(ctx context.Context, logger *slog.Logger) (*mongo.DataAccess, error) {
	client, err := b.mongoClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("data access: %w", err)
	}
	name := b.cfg.Mongo.DataDatabase
	if name == "" {
		name = b.cfg.Mongo.Database
	}
	return mongo.NewDataAccess(client.Database(name), mongo.WithDataLogger(logger)), nil
}

// Migrate applies the migrations of every opened store.
func (b *backends) Migrate(ctx context.Context) error {
	for _, m := range b.parts {
		if err := m.Migrate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the store and the clients opened for it.
func (b *backends) Close(ctx context.Context) error {
	var errs []error
	if b.store != nil {
		errs = append(errs, b.store.Close())
	}
	errs = append(errs, b.closeClients(ctx))
	return errors.Join(errs...)
}

// closeClients disconnects the shared clients only. Used after the
// Reporter has already closed the store.
func (b *backends) closeClients(ctx context.Context) error {
	var errs []error
	if b.mongo != nil {
		errs = append(errs, b.mongo.Disconnect(ctx))
	}
	if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	return errors.Join(errs...)
}
