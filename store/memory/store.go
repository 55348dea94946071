// Package memory is a fully in-memory implementation of store.Store.
// It is safe for concurrent access and hands out copies, so callers may
// mutate returned records freely. Intended for unit testing and
// development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/reportflow/audit"
	"github.com/xraph/reportflow/dlq"
	"github.com/xraph/reportflow/job"
	"github.com/xraph/reportflow/lock"
	"github.com/xraph/reportflow/run"
	"github.com/xraph/reportflow/schedule"
	"github.com/xraph/reportflow/template"
)

// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ template.Store = (*Store)(nil)
	_ schedule.Store = (*Store)(nil)
	_ run.Store      = (*Store)(nil)
	_ job.Store      = (*Store)(nil)
	_ dlq.Store      = (*Store)(nil)
	_ audit.Store    = (*Store)(nil)
	_ lock.Store     = (*Store)(nil)
)

type lockEntry struct {
	holder    string
	expiresAt time.Time
}

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	templates map[string]*template.Template
	schedules map[string]*schedule.Schedule
	runs      map[string]*run.Run
	jobs      map[string]*job.Job
	dlqs      map[string]*dlq.Entry
	audits    []*audit.Entry
	locks     map[string]lockEntry

	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for lock expiry, due
// schedules and stale job detection.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		templates: make(map[string]*template.Template),
		schedules: make(map[string]*schedule.Schedule),
		runs:      make(map[string]*run.Run),
		jobs:      make(map[string]*job.Job),
		dlqs:      make(map[string]*dlq.Entry),
		locks:     make(map[string]lockEntry),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (m *Store) clock() time.Time { return m.now().UTC() }

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Lock Store
// ──────────────────────────────────────────────────

// AcquireLock grants key to holder if it is free or expired.
func (m *Store) AcquireLock(_ context.Context, key, holder string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if cur, ok := m.locks[key]; ok && now.Before(cur.expiresAt) {
		return false, nil
	}
	m.locks[key] = lockEntry{holder: holder, expiresAt: now.Add(ttl)}
	return true, nil
}

// ReleaseLock frees key if holder still owns it.
func (m *Store) ReleaseLock(_ context.Context, key, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.locks[key]; ok && cur.holder == holder {
		delete(m.locks, key)
	}
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
