// Package audit defines audit trail entries for report resources and the
// sink they are written to.
package audit

import (
	"context"
	"time"

	"github.com/xraph/reportflow/id"
)

// Resource types.
const (
	ResourceRun      = "REPORT_RUN"
	ResourceSchedule = "REPORT_SCHEDULE"
	ResourceTemplate = "REPORT_TEMPLATE"
)

// Diff holds the before and after state of a changed resource.
type Diff struct {
	Before any `json:"before,omitempty"`
	After  any `json:"after,omitempty"`
}

// Entry is one audit record.
type Entry struct {
	ID           id.AuditID     `json:"id"`
	TenantID     string         `json:"tenant_id"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	ActorID      string         `json:"actor_id,omitempty"`
	Diff         *Diff          `json:"diff,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	IP           string         `json:"ip,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Sink receives audit entries.
type Sink interface {
	Record(ctx context.Context, e *Entry) error
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(ctx context.Context, e *Entry) error

// Record calls f.
func (f SinkFunc) Record(ctx context.Context, e *Entry) error { return f(ctx, e) }

// ListOpts controls pagination and filtering for audit queries.
type ListOpts struct {
	Limit        int
	Offset       int
	Action       string
	ResourceType string
	ResourceID   string
}

// Store persists audit entries.
type Store interface {
	// AppendAudit stores an entry.
	AppendAudit(ctx context.Context, e *Entry) error

	// ListAudit returns a tenant's entries newest first.
	ListAudit(ctx context.Context, tenantID string, opts ListOpts) ([]*Entry, error)

	// CountAudit returns the number of entries matching opts.
	CountAudit(ctx context.Context, tenantID string, opts ListOpts) (int64, error)
}

// StoreSink writes entries to s.
func StoreSink(s Store) Sink {
	return SinkFunc(func(ctx context.Context, e *Entry) error {
		return s.AppendAudit(ctx, e)
	})
}
