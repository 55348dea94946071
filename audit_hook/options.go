package audithook

import (
	"log/slog"
	"time"
)

// Option configures the Extension.
type Option func(*Extension)

// WithActions limits the extension to the given actions. Other actions
// are silently skipped.
func WithActions(actions ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			e.enabled[a] = true
		}
	}
}

// WithLogger sets the logger used for sink failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}

// WithClock overrides the entry timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Extension) { e.now = now }
}
