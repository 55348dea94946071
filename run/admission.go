package run

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/reportflow"
)

// Counter is the subset of Store needed for admission checks.
type Counter interface {
	CountRuns(ctx context.Context, tenantID string, opts ListOpts) (int64, error)
}

// Admission applies the per-tenant manual rate limit and active run cap
// before a run record is created. A rejected request leaves no record.
type Admission struct {
	counter     Counter
	manualLimit int
	window      time.Duration
	maxActive   int
	now         func() time.Time
}

// AdmissionOption configures an Admission.
type AdmissionOption func(*Admission)

// WithClock overrides the time source.
func WithClock(now func() time.Time) AdmissionOption {
	return func(a *Admission) { a.now = now }
}

// NewAdmission creates an Admission. A non-positive limit disables the
// corresponding check.
func NewAdmission(counter Counter, manualLimit int, window time.Duration, maxActive int, opts ...AdmissionOption) *Admission {
	a := &Admission{
		counter:     counter,
		manualLimit: manualLimit,
		window:      window,
		maxActive:   maxActive,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Admit checks whether a new run with the given trigger may be created.
// Manual and API runs count against the rolling rate window. Every
// trigger counts against the active cap.
func (a *Admission) Admit(ctx context.Context, tenantID string, trigger TriggerType) error {
	if trigger == TriggerManual || trigger == TriggerAPI {
		if err := a.checkRate(ctx, tenantID); err != nil {
			return err
		}
	}
	return a.CheckActive(ctx, tenantID)
}

func (a *Admission) checkRate(ctx context.Context, tenantID string) error {
	if a.manualLimit <= 0 {
		return nil
	}
	since := a.now().UTC().Add(-a.window)
	n, err := a.counter.CountRuns(ctx, tenantID, ListOpts{
		TriggerTypes: []TriggerType{TriggerManual, TriggerAPI},
		CreatedFrom:  &since,
	})
	if err != nil {
		return fmt.Errorf("reportflow: count manual runs: %w", err)
	}
	if n >= int64(a.manualLimit) {
		return reportflow.ErrRateLimitExceeded
	}
	return nil
}

// CheckActive rejects when the tenant already has the maximum number of
// queued or running runs.
func (a *Admission) CheckActive(ctx context.Context, tenantID string) error {
	if a.maxActive <= 0 {
		return nil
	}
	n, err := a.counter.CountRuns(ctx, tenantID, ListOpts{
		Statuses: []Status{StatusQueued, StatusRunning},
	})
	if err != nil {
		return fmt.Errorf("reportflow: count active runs: %w", err)
	}
	if n >= int64(a.maxActive) {
		return reportflow.ErrConcurrencyLimitExceeded
	}
	return nil
}
