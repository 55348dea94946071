// Package keyspace names the shared-store keys and pub/sub channels used
// by reportflow. Keys follow {env}:t:{tenant}:{module}:{type}:{id} so that
// several deployments and tenants can share one Redis.
package keyspace

import "strings"

// GlobalTenant stands in for the tenant segment of keys that are not
// owned by any tenant, such as the scheduler poller lock.
const GlobalTenant = "_"

// NormalizeEnv maps an environment name to its short key form.
// Unknown names fall back to "dev".
func NormalizeEnv(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "production", "prod":
		return "prod"
	case "test", "staging", "stg":
		return "stg"
	default:
		return "dev"
	}
}

var segmentEscaper = strings.NewReplacer("%", "%25", ":", "%3A", " ", "%20")

// encode makes a value safe for use as a single key segment. The escaping
// is reversible, so distinct values never share a key.
func encode(v string) string { return segmentEscaper.Replace(v) }

// Keys builds keys for one environment.
type Keys struct {
	env string
}

// New returns Keys for env.
func New(env string) Keys { return Keys{env: NormalizeEnv(env)} }

// Env returns the normalized environment segment.
func (k Keys) Env() string { return k.env }

// Build returns {env}:t:{tenant}:{module}:{type}:{id}.
func (k Keys) Build(tenant, module, typ, id string) string {
	if tenant == "" {
		tenant = GlobalTenant
	}
	return strings.Join([]string{k.env, "t", encode(tenant), encode(module), encode(typ), encode(id)}, ":")
}

// Channel returns {env}:pubsub:t:{tenant}:{event}.
func (k Keys) Channel(tenant, event string) string {
	return strings.Join([]string{k.env, "pubsub", "t", encode(tenant), event}, ":")
}

// PollerLock is the single global scheduler poller lock.
func (k Keys) PollerLock() string {
	return k.Build(GlobalTenant, "lock", "scheduler", "report-scheduler")
}

// ScheduleLock guards one schedule while it is being triggered.
func (k Keys) ScheduleLock(tenant, scheduleID string) string {
	return k.Build(tenant, "lock", "schedule", scheduleID)
}

// RunLock guards one run while a worker executes it.
func (k Keys) RunLock(tenant, runID string) string {
	return k.Build(tenant, "lock", "report-run", runID)
}

// NotificationChannel is where completion notifications are published.
func (k Keys) NotificationChannel(tenant string) string {
	return k.Channel(tenant, "notification.created")
}
