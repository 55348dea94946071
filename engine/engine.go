package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/audit"
	audithook "github.com/xraph/reportflow/audit_hook"
	"github.com/xraph/reportflow/backoff"
	"github.com/xraph/reportflow/cadence"
	"github.com/xraph/reportflow/dlq"
	"github.com/xraph/reportflow/executor"
	"github.com/xraph/reportflow/ext"
	"github.com/xraph/reportflow/keyspace"
	"github.com/xraph/reportflow/lock"
	mw "github.com/xraph/reportflow/middleware"
	"github.com/xraph/reportflow/notify"
	"github.com/xraph/reportflow/observability"
	"github.com/xraph/reportflow/poller"
	"github.com/xraph/reportflow/queue"
	"github.com/xraph/reportflow/run"
	"github.com/xraph/reportflow/store"
	"github.com/xraph/reportflow/sweep"
	"github.com/xraph/reportflow/template"
	"github.com/xraph/reportflow/worker"
)

const instrumentationName = "github.com/xraph/reportflow"

// Engine exposes the report operations over a wired set of subsystems.
// Use Build to create one from a Reporter.
type Engine struct {
	reporter   *reportflow.Reporter
	config     reportflow.Config
	store      store.Store
	extensions *ext.Registry
	keys       keyspace.Keys
	locks      *lock.Coordinator
	validator  *template.Validator
	resolver   *cadence.Resolver
	admission  *run.Admission
	executor   *executor.Executor
	dlqService *dlq.Service
	queues     *queue.Manager
	pool       *worker.Pool
	poller     *poller.Poller
	sweeper    *sweep.Sweeper
	logger     *slog.Logger
	now        func() time.Time

	mws          []mw.Middleware
	bo           backoff.Strategy
	data         executor.DataAccess
	renderer     executor.Renderer
	insights     executor.InsightGenerator
	notifier     notify.Emitter
	auditSink    audit.Sink
	tenantLimits []queue.TenantConfig
	catalog      []string

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds job middleware after the default chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the queue-level retry backoff. If not set, an
// exponential strategy starting at Config.BackoffInitial is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithDataAccess sets the collaborator that executes aggregation plans.
// It is required.
func WithDataAccess(d executor.DataAccess) Option {
	return func(eng *Engine) {
		eng.data = d
	}
}

// WithRenderer sets the output renderer. It is required.
func WithRenderer(r executor.Renderer) Option {
	return func(eng *Engine) {
		eng.renderer = r
	}
}

// WithInsightGenerator enables narrative sections.
func WithInsightGenerator(g executor.InsightGenerator) Option {
	return func(eng *Engine) {
		eng.insights = g
	}
}

// WithNotifier sets the notification emitter. Defaults to a log emitter.
func WithNotifier(n notify.Emitter) Option {
	return func(eng *Engine) {
		eng.notifier = n
	}
}

// WithAuditSink sets where audit entries go. Defaults to the store's
// audit table.
func WithAuditSink(s audit.Sink) Option {
	return func(eng *Engine) {
		eng.auditSink = s
	}
}

// WithTenantLimits adds per-tenant worker limits. An empty QueueName
// means the configured report queue.
func WithTenantLimits(limits ...queue.TenantConfig) Option {
	return func(eng *Engine) {
		eng.tenantLimits = append(eng.tenantLimits, limits...)
	}
}

// WithEntityCatalog restricts template section sources to the given
// "module.entity" kinds.
func WithEntityCatalog(kinds ...string) Option {
	return func(eng *Engine) {
		eng.catalog = append(eng.catalog, kinds...)
	}
}

// WithClock overrides the time source of every wired component.
func WithClock(now func() time.Time) Option {
	return func(eng *Engine) {
		eng.now = now
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware and the observability extension. If not set, the global
// otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from a Reporter. The Reporter's store must
// implement store.Store. The pool, poller and sweep are registered as a
// runner on the Reporter.
func Build(r *reportflow.Reporter, opts ...Option) (*Engine, error) {
	logger := r.Logger()
	if r.Store() == nil {
		return nil, reportflow.ErrNoStore
	}
	s, ok := r.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("reportflow: store does not implement store.Store")
	}

	cfg := r.Config()
	eng := &Engine{
		reporter:   r,
		config:     cfg,
		store:      s,
		extensions: ext.NewRegistry(logger),
		keys:       keyspace.New(cfg.Env),
		resolver:   cadence.NewResolver(),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.data == nil {
		return nil, reportflow.Configf("dataAccess", "a data access collaborator is required")
	}
	if eng.renderer == nil {
		return nil, reportflow.Configf("renderer", "an output renderer is required")
	}
	if eng.bo == nil {
		eng.bo = backoff.Default(cfg.BackoffInitial)
	}
	if eng.notifier == nil {
		eng.notifier = notify.NewLog(logger)
	}
	if eng.auditSink == nil {
		eng.auditSink = audit.StoreSink(s)
	}

	var vopts []template.ValidatorOption
	if len(eng.catalog) > 0 {
		vopts = append(vopts, template.WithEntityCatalog(eng.catalog...))
	}
	validator, err := template.NewValidator(vopts...)
	if err != nil {
		return nil, err
	}
	eng.validator = validator

	// Lifecycle extensions: the audit trail, then OTel counters.
	eng.extensions.Register(audithook.New(eng.auditSink,
		audithook.WithLogger(logger),
		audithook.WithClock(eng.now),
	))
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt, err = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		obsExt, err = observability.NewMetricsExtension()
	}
	if err != nil {
		return nil, fmt.Errorf("reportflow: observability extension: %w", err)
	}
	eng.extensions.Register(obsExt)

	eng.locks = lock.NewCoordinator(s, logger)
	eng.dlqService = dlq.NewService(s, s, s)
	eng.admission = run.NewAdmission(s, cfg.ManualRateLimit, cfg.ManualRateWindow, cfg.MaxActiveRuns, run.WithClock(eng.now))

	execOpts := []executor.Option{
		executor.WithNotifier(eng.notifier),
		executor.WithExtensions(eng.extensions),
		executor.WithLogger(logger),
		executor.WithClock(eng.now),
	}
	if eng.insights != nil {
		execOpts = append(execOpts, executor.WithInsightGenerator(eng.insights))
	}
	eng.executor = executor.New(s, s, eng.data, eng.renderer, execOpts...)

	// Tracing and metrics middleware (custom provider or global).
	tracingMw := mw.Tracing()
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	}
	metricsMw := mw.Metrics()
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	}

	// Default stack: recover → tracing → metrics → logging → timeout.
	allMws := append([]mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(),
	}, eng.mws...)

	processor := worker.NewProcessor(s, s, eng.executor, eng.locks, eng.keys, eng.dlqService, logger,
		worker.WithBackoff(eng.bo),
		worker.WithMiddleware(allMws...),
		worker.WithRunLockTTL(cfg.RunLockTTL),
		worker.WithExtensions(eng.extensions),
		worker.WithClock(eng.now),
	)

	eng.queues = queue.NewManager(queue.Config{
		Name:           cfg.Queue,
		MaxConcurrency: cfg.Concurrency,
		JobsPerWindow:  cfg.JobsPerWindow,
		Window:         cfg.RateWindow,
	})
	for _, tl := range eng.tenantLimits {
		if tl.QueueName == "" {
			tl.QueueName = cfg.Queue
		}
		eng.queues.SetTenantConfig(tl)
	}

	eng.pool = worker.NewPool(s, processor, logger,
		worker.WithPoolConcurrency(cfg.Concurrency),
		worker.WithPoolQueues([]string{cfg.Queue}),
		worker.WithPollInterval(cfg.WorkerPollInterval),
		worker.WithHeartbeatInterval(cfg.HeartbeatInterval),
		worker.WithStaleJobThreshold(cfg.StaleJobThreshold),
		worker.WithQueueManager(eng.queues),
	)

	eng.poller = poller.New(s, eng, eng.locks, eng.keys, logger,
		poller.WithInterval(cfg.PollInterval),
		poller.WithLockTTLs(cfg.PollerLockTTL, cfg.ScheduleLockTTL),
		poller.WithResolver(eng.resolver),
		poller.WithExtensions(eng.extensions),
		poller.WithClock(eng.now),
	)

	eng.sweeper = sweep.New(s, eng.locks, eng.keys, eng.executor, logger,
		sweep.WithInterval(cfg.SweepInterval),
		sweep.WithMaxRunDuration(cfg.MaxRunDuration),
		sweep.WithExtensions(eng.extensions),
		sweep.WithClock(eng.now),
	)

	// Wire back into the Reporter.
	r.AddRunner(runners{eng.pool, eng.poller, eng.sweeper})
	r.SetExtensions(eng.extensions)

	return eng, nil
}

// runners starts its members in order and stops them concurrently.
type runners []reportflow.Runner

func (rs runners) Start(ctx context.Context) error {
	for i, rn := range rs {
		if err := rn.Start(ctx); err != nil {
			_ = runners(rs[:i]).Stop(ctx)
			return err
		}
	}
	return nil
}

func (rs runners) Stop(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, rn := range rs {
		g.Go(func() error { return rn.Stop(gctx) })
	}
	return g.Wait()
}

// Start begins scheduling, job processing and the stuck-run sweep.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.reporter.Start(ctx)
}

// Stop drains the runners within Config.ShutdownTimeout and closes the
// store.
func (eng *Engine) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, eng.config.ShutdownTimeout)
	defer cancel()
	return eng.reporter.Stop(ctx)
}

// Extensions returns the lifecycle hook registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Executor returns the run executor.
func (eng *Engine) Executor() *executor.Executor { return eng.executor }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Poller returns the scheduler poller.
func (eng *Engine) Poller() *poller.Poller { return eng.poller }

// Sweeper returns the stuck-run sweep.
func (eng *Engine) Sweeper() *sweep.Sweeper { return eng.sweeper }

// QueueManager returns the worker admission manager.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queues }

// DLQ returns the dead-letter service.
func (eng *Engine) DLQ() *dlq.Service { return eng.dlqService }

// Store returns the engine's store.
func (eng *Engine) Store() store.Store { return eng.store }

func (eng *Engine) clock() time.Time { return eng.now().UTC() }
