package reportflow

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Reporter.
type Option func(*Reporter) error

// Storer is the minimal store interface held by the Reporter. It covers
// lifecycle operations only. Backends satisfy store.Store, which embeds
// every subsystem store.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Runner is a long-lived loop started and stopped with the Reporter:
// the worker pool, the scheduler poller and the stuck-run sweep.
type Runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Reporter is the process-level handle of the report orchestration
// engine. It owns configuration, the logger and the store, and starts
// the runners the engine package wires into it.
type Reporter struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	runners    []Runner

	started bool
}

// New creates a Reporter with the given options.
func New(opts ...Option) (*Reporter, error) {
	r := &Reporter{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if err := r.config.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Logger returns the reporter's logger.
func (r *Reporter) Logger() *slog.Logger { return r.logger }

// Store returns the reporter's store.
func (r *Reporter) Store() Storer { return r.store }

// Config returns a copy of the reporter's configuration.
func (r *Reporter) Config() Config { return r.config }

// AddRunner appends a runner (called by the engine package). Runners
// start in the order added and stop in reverse.
func (r *Reporter) AddRunner(rn Runner) { r.runners = append(r.runners, rn) }

// SetExtensions sets the extension emitter (called by the engine package).
func (r *Reporter) SetExtensions(e extensionEmitter) { r.extensions = e }

// Start starts every runner. If one fails, the ones already started are
// stopped again.
func (r *Reporter) Start(ctx context.Context) error {
	if r.store == nil {
		return ErrNoStore
	}
	for i, rn := range r.runners {
		if err := rn.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if stopErr := r.runners[j].Stop(ctx); stopErr != nil {
					r.logger.Error("runner stop error", slog.String("error", stopErr.Error()))
				}
			}
			return err
		}
	}
	r.started = true
	return nil
}

// Stop gracefully shuts down the runners, then closes the store.
func (r *Reporter) Stop(ctx context.Context) error {
	if r.started {
		for i := len(r.runners) - 1; i >= 0; i-- {
			if err := r.runners[i].Stop(ctx); err != nil {
				r.logger.Error("runner stop error", slog.String("error", err.Error()))
			}
		}
		r.started = false
	}
	if r.extensions != nil {
		r.extensions.EmitShutdown(ctx)
	}
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(r *Reporter) error {
		r.config = cfg
		return nil
	}
}

// WithEnv sets the deployment environment used in keys and channels.
func WithEnv(env string) Option {
	return func(r *Reporter) error {
		r.config.Env = env
		return nil
	}
}

// WithConcurrency sets the maximum number of concurrent report jobs.
func WithConcurrency(n int) Option {
	return func(r *Reporter) error {
		r.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets the scheduler poller interval.
func WithPollInterval(d time.Duration) Option {
	return func(r *Reporter) error {
		r.config.PollInterval = d
		if r.config.PollerLockTTL < d {
			r.config.PollerLockTTL = d
		}
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reporter) error {
		r.logger = l
		return nil
	}
}

// WithStore sets the persistence backend.
func WithStore(s Storer) Option {
	return func(r *Reporter) error {
		r.store = s
		return nil
	}
}
