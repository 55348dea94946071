// Package notify builds report completion notifications and hands them to
// an Emitter. Delivery to end channels (mail, chat, webhooks) belongs to
// the consumer of the published event.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// TypeReportCompleted is the notification type for finished runs, both
// successful and failed.
const TypeReportCompleted = "REPORT_COMPLETED"

// Notification is the event published when a run reaches a terminal
// state.
type Notification struct {
	Type      string         `json:"type"`
	TenantID  string         `json:"tenantId"`
	UserIDs   []string       `json:"userIds,omitempty"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Completed builds the notification for a successful run.
func Completed(tenantID, runID, templateName string) *Notification {
	return &Notification{
		Type:     TypeReportCompleted,
		TenantID: tenantID,
		Title:    "Report Ready",
		Message:  fmt.Sprintf("Your report %q has been generated successfully.", templateName),
		Metadata: map[string]any{
			"runId":        runID,
			"status":       "success",
			"templateName": templateName,
		},
		CreatedAt: time.Now().UTC(),
	}
}

// Failed builds the notification for a failed run.
func Failed(tenantID, runID, templateName, reason string) *Notification {
	return &Notification{
		Type:     TypeReportCompleted,
		TenantID: tenantID,
		Title:    "Report Failed",
		Message:  fmt.Sprintf("Report %q failed: %s", templateName, reason),
		Metadata: map[string]any{
			"runId":        runID,
			"status":       "failed",
			"templateName": templateName,
		},
		CreatedAt: time.Now().UTC(),
	}
}

// Emitter publishes notifications.
type Emitter interface {
	Emit(ctx context.Context, n *Notification) error
}

// EmitterFunc adapts a plain function to Emitter.
type EmitterFunc func(ctx context.Context, n *Notification) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, n *Notification) error { return f(ctx, n) }

// Log is an Emitter that only logs. It is the default when no broker is
// configured.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a logging emitter.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Emit logs n.
func (l *Log) Emit(_ context.Context, n *Notification) error {
	l.logger.Info("report notification",
		slog.String("tenant_id", n.TenantID),
		slog.String("title", n.Title),
		slog.String("message", n.Message),
		slog.Any("metadata", n.Metadata),
	)
	return nil
}
