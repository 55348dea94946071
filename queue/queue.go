package queue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines the limits of one queue.
type Config struct {
	// Name is the queue identifier (must match job.Queue).
	Name string

	// MaxConcurrency limits how many jobs from this queue run at once.
	// Zero means no queue-specific limit.
	MaxConcurrency int

	// JobsPerWindow is the number of jobs that may start per Window.
	// Zero disables rate limiting.
	JobsPerWindow int

	// Window is the rate window. Defaults to one minute.
	Window time.Duration
}

// limiter builds the token bucket for a jobs-per-window budget, or nil
// when the budget is disabled.
func limiter(jobs int, window time.Duration) *rate.Limiter {
	if jobs <= 0 {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	return rate.NewLimiter(rate.Every(window/time.Duration(jobs)), jobs)
}

// queueState tracks runtime state for a single queue.
type queueState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager enforces per-queue and per-tenant limits. It is safe for
// concurrent use.
type Manager struct {
	mu      sync.Mutex
	queues  map[string]*queueState
	tenants map[string]*tenantState
}

// NewManager creates a Manager with the given queue configurations.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		queues:  make(map[string]*queueState, len(configs)),
		tenants: make(map[string]*tenantState),
	}
	for _, cfg := range configs {
		m.queues[cfg.Name] = &queueState{config: cfg, limiter: limiter(cfg.JobsPerWindow, cfg.Window)}
	}
	return m
}

// Acquire reports whether a job of the given queue and tenant may start
// now. On true the caller MUST call Release when the job finishes.
// Concurrency is checked before any rate token is spent, so a rejected
// job never consumes budget.
func (m *Manager) Acquire(queue, tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	var ts *tenantState
	if tenantID != "" {
		ts = m.tenants[tenantKey(queue, tenantID)]
	}

	if qs != nil && qs.config.MaxConcurrency > 0 && qs.active >= qs.config.MaxConcurrency {
		return false
	}
	if ts != nil && ts.maxConcurrency > 0 && ts.active >= ts.maxConcurrency {
		return false
	}

	now := time.Now()
	var qr, tr *rate.Reservation
	if qs != nil && qs.limiter != nil {
		if qr = qs.limiter.ReserveN(now, 1); !qr.OK() || qr.DelayFrom(now) > 0 {
			qr.CancelAt(now)
			return false
		}
	}
	if ts != nil && ts.limiter != nil {
		if tr = ts.limiter.ReserveN(now, 1); !tr.OK() || tr.DelayFrom(now) > 0 {
			tr.CancelAt(now)
			if qr != nil {
				qr.CancelAt(now)
			}
			return false
		}
	}

	if qs != nil {
		qs.active++
	}
	if ts != nil {
		ts.active++
	}
	return true
}

// Release returns the concurrency slot taken by Acquire.
func (m *Manager) Release(queue, tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}
	if tenantID != "" {
		if ts := m.tenants[tenantKey(queue, tenantID)]; ts != nil && ts.active > 0 {
			ts.active--
		}
	}
}

// SetQueueConfig replaces (or creates) a queue configuration, keeping
// the current active count.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := &queueState{config: cfg, limiter: limiter(cfg.JobsPerWindow, cfg.Window)}
	if existing := m.queues[cfg.Name]; existing != nil {
		qs.active = existing.active
	}
	m.queues[cfg.Name] = qs
}

// ActiveCount returns the current number of active jobs for a queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}
