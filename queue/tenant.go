package queue

import (
	"time"

	"golang.org/x/time/rate"
)

// TenantConfig defines limits for one tenant on one queue.
type TenantConfig struct {
	QueueName string
	TenantID  string

	// JobsPerWindow and Window bound how many of the tenant's jobs start
	// per window. Zero disables the tenant rate limit.
	JobsPerWindow int
	Window        time.Duration

	// MaxConcurrency limits simultaneous jobs for the tenant. Zero means
	// no tenant-specific limit.
	MaxConcurrency int
}

type tenantState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

func tenantKey(queue, tenantID string) string { return queue + ":" + tenantID }

// SetTenantConfig configures limits for a tenant on a queue, replacing
// any previous configuration and keeping the active count.
func (m *Manager) SetTenantConfig(cfg TenantConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tenantKey(cfg.QueueName, cfg.TenantID)
	ts := &tenantState{
		limiter:        limiter(cfg.JobsPerWindow, cfg.Window),
		maxConcurrency: cfg.MaxConcurrency,
	}
	if existing := m.tenants[key]; existing != nil {
		ts.active = existing.active
	}
	m.tenants[key] = ts
}

// TenantActiveCount returns the active jobs of a queue+tenant pair.
func (m *Manager) TenantActiveCount(queue, tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.tenants[tenantKey(queue, tenantID)]; ts != nil {
		return ts.active
	}
	return 0
}
