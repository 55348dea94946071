// Package run defines report runs, their lifecycle state machine and the
// admission controls applied before a run is created.
//
//	queued ──start──▶ running ──succeed──▶ success
//	   │                 │
//	   └──────fail───────┴──────fail─────▶ failed ──retry──▶ queued
//
// The Run record is the source of truth for history. Exclusive execution
// is enforced by the run lock, not by the record.
package run

import (
	"slices"
	"time"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/id"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Active reports whether the status counts toward the active run cap.
func (s Status) Active() bool { return s == StatusQueued || s == StatusRunning }

// Terminal reports whether no further automatic transition happens.
func (s Status) Terminal() bool { return s == StatusSuccess || s == StatusFailed }

// TriggerType records what created a run.
type TriggerType string

const (
	TriggerManual   TriggerType = "manual"
	TriggerAPI      TriggerType = "api"
	TriggerSchedule TriggerType = "schedule"
)

// Storage is where a produced artifact lives.
type Storage string

const (
	StorageS3     Storage = "S3"
	StorageLocal  Storage = "LOCAL"
	StorageGridFS Storage = "GRIDFS"
)

// Output is one produced artifact.
type Output struct {
	Format      reportflow.Format `json:"format"`
	Storage     Storage           `json:"storage"`
	LocationRef string            `json:"location_ref"`
	SizeBytes   int64             `json:"size_bytes"`
	Checksum    string            `json:"checksum,omitempty"`
}

// SectionSummary is the per-section result recorded on a run. A failed
// section has Count 0 and an Error note.
type SectionSummary struct {
	Title     string `json:"title"`
	Count     int    `json:"count"`
	Error     string `json:"error,omitempty"`
	Narrative string `json:"narrative,omitempty"`
}

// JobInfo is execution metadata.
type JobInfo struct {
	Queue      string     `json:"queue,omitempty"`
	JobID      id.JobID   `json:"job_id,omitempty"`
	Attempts   int        `json:"attempts"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`
}

// Error is the structured failure detail of a failed run.
type Error struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ErrorFrom builds an Error from err using its persisted code.
func ErrorFrom(err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Message: err.Error(), Code: reportflow.ErrorCode(err)}
}

// Run is one execution attempt of a template.
type Run struct {
	reportflow.Entity

	ID            id.RunID                  `json:"id"`
	TenantID      string                    `json:"tenant_id"`
	TemplateID    id.TemplateID             `json:"template_id"`
	ScheduleID    id.ScheduleID             `json:"schedule_id,omitempty"`
	Period        reportflow.Period         `json:"period"`
	ScopeSnapshot reportflow.Scope          `json:"scope_snapshot"`
	OutputFormats []reportflow.Format       `json:"output_formats"`
	Status        Status                    `json:"status"`
	Outputs       []Output                  `json:"outputs"`
	DataSummary   map[string]SectionSummary `json:"data_summary,omitempty"`
	Job           JobInfo                   `json:"job"`
	Error         *Error                    `json:"error,omitempty"`
	TriggerType   TriggerType               `json:"trigger_type"`
	TriggeredBy   string                    `json:"triggered_by,omitempty"`
}

// New returns a queued run. The scope is copied so later edits to the
// source schedule never reach the snapshot.
func New(tenantID string, templateID id.TemplateID, trigger TriggerType, period reportflow.Period, scope reportflow.Scope, formats []reportflow.Format) *Run {
	return &Run{
		Entity:        reportflow.NewEntity(),
		ID:            id.NewRunID(),
		TenantID:      tenantID,
		TemplateID:    templateID,
		Period:        period,
		ScopeSnapshot: scope.Clone(),
		OutputFormats: slices.Clone(formats),
		Status:        StatusQueued,
		TriggerType:   trigger,
	}
}

// Start moves a queued run to running and counts the attempt.
func (r *Run) Start(now time.Time) error {
	if r.Status != StatusQueued {
		return reportflow.ErrInvalidTransition
	}
	r.Status = StatusRunning
	r.Job.Attempts++
	r.Job.StartedAt = &now
	r.Job.FinishedAt = nil
	r.Job.DurationMs = 0
	r.Error = nil
	r.UpdatedAt = now
	return nil
}

// Succeed moves a running run to success with its results.
func (r *Run) Succeed(now time.Time, outputs []Output, summary map[string]SectionSummary) error {
	if r.Status != StatusRunning {
		return reportflow.ErrInvalidTransition
	}
	r.Status = StatusSuccess
	r.Outputs = outputs
	r.DataSummary = summary
	r.finish(now)
	return nil
}

// Fail moves a queued or running run to failed. A queued run fails when
// it could not be handed to the queue.
func (r *Run) Fail(now time.Time, e *Error) error {
	if !r.Status.Active() {
		return reportflow.ErrInvalidTransition
	}
	if e == nil {
		e = &Error{Message: "run failed", Code: reportflow.CodeExecution}
	}
	r.Status = StatusFailed
	r.Error = e
	r.finish(now)
	return nil
}

func (r *Run) finish(now time.Time) {
	r.Job.FinishedAt = &now
	if r.Job.StartedAt != nil {
		r.Job.DurationMs = now.Sub(*r.Job.StartedAt).Milliseconds()
	}
	r.UpdatedAt = now
}

// Retry re-opens a failed run on explicit request. Attempts restart at
// zero and previous results are cleared.
func (r *Run) Retry(now time.Time) error {
	if r.Status != StatusFailed {
		return reportflow.ErrRunNotFailed
	}
	r.Status = StatusQueued
	r.Job.Attempts = 0
	r.reset(now)
	return nil
}

// Requeue re-opens a failed run for a queue-level retry after a crash.
// Unlike Retry, the attempt count is kept.
func (r *Run) Requeue(now time.Time) error {
	if r.Status != StatusFailed {
		return reportflow.ErrInvalidTransition
	}
	r.Status = StatusQueued
	r.reset(now)
	return nil
}

func (r *Run) reset(now time.Time) {
	r.Error = nil
	r.Outputs = nil
	r.DataSummary = nil
	r.Job.StartedAt = nil
	r.Job.FinishedAt = nil
	r.Job.DurationMs = 0
	r.UpdatedAt = now
}

// CanDelete reports whether the run may be deleted.
func (r *Run) CanDelete() bool { return r.Status != StatusRunning }

// Formats returns the requested output formats, falling back to PDF.
func (r *Run) Formats() []reportflow.Format {
	if len(r.OutputFormats) == 0 {
		return []reportflow.Format{reportflow.FormatPDF}
	}
	return r.OutputFormats
}

// Clone returns a deep copy of r.
func (r *Run) Clone() *Run {
	cp := *r
	cp.ScopeSnapshot = r.ScopeSnapshot.Clone()
	cp.OutputFormats = slices.Clone(r.OutputFormats)
	cp.Outputs = slices.Clone(r.Outputs)
	if r.DataSummary != nil {
		cp.DataSummary = make(map[string]SectionSummary, len(r.DataSummary))
		for k, v := range r.DataSummary {
			cp.DataSummary[k] = v
		}
	}
	if r.Error != nil {
		e := *r.Error
		cp.Error = &e
	}
	cp.Period = clonePeriod(r.Period)
	cp.Job.StartedAt = cloneTime(r.Job.StartedAt)
	cp.Job.FinishedAt = cloneTime(r.Job.FinishedAt)
	return &cp
}

func clonePeriod(p reportflow.Period) reportflow.Period {
	return reportflow.Period{From: cloneTime(p.From), To: cloneTime(p.To), Label: p.Label}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
