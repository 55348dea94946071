// Package schedule defines recurring report triggers. A schedule binds
// one template to a cadence, a timezone and a scope, and tracks when it
// fired last and fires next.
package schedule

import (
	"net/mail"
	"net/url"
	"slices"
	"time"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/cadence"
	"github.com/xraph/reportflow/id"
)

// Status is the lifecycle status of a schedule. Only active schedules
// are polled.
type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusDisabled Status = "disabled"
)

// RunStatus is the outcome recorded from the last trigger attempt.
type RunStatus string

const (
	LastRunSuccess RunStatus = "success"
	LastRunFailed  RunStatus = "failed"
)

// Channel is a delivery channel for completed reports.
type Channel string

const (
	ChannelInApp   Channel = "IN_APP"
	ChannelEmail   Channel = "EMAIL"
	ChannelSlack   Channel = "SLACK"
	ChannelWebhook Channel = "WEBHOOK"
)

// RunAt is the wall-clock firing time of calendar cadences.
type RunAt struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// Recipients lists who receives a delivered report.
type Recipients struct {
	UserIDs         []string `json:"user_ids,omitempty"`
	Emails          []string `json:"emails,omitempty"`
	SlackChannelIDs []string `json:"slack_channel_ids,omitempty"`
	WebhookURLs     []string `json:"webhook_urls,omitempty"`
}

// Delivery holds delivery preferences. Delivery itself is performed by
// the host platform on receipt of the completion notification.
type Delivery struct {
	Channels   []Channel  `json:"channels"`
	Recipients Recipients `json:"recipients"`
	Subject    string     `json:"subject,omitempty"`
	Message    string     `json:"message,omitempty"`
}

// Output holds output preferences for runs of this schedule.
type Output struct {
	Formats         []reportflow.Format `json:"formats"`
	IncludeBranding bool                `json:"include_branding"`
}

// Schedule is a recurring trigger bound to one template.
type Schedule struct {
	reportflow.Entity

	ID          id.ScheduleID    `json:"id"`
	TenantID    string           `json:"tenant_id"`
	TemplateID  id.TemplateID    `json:"template_id"`
	Name        string           `json:"name"`
	Status      Status           `json:"status"`
	Scope       reportflow.Scope `json:"scope"`
	Cadence     cadence.Cadence  `json:"cadence"`
	CronExpr    string           `json:"cron_expr,omitempty"`
	Timezone    string           `json:"timezone"`
	RunAt       RunAt            `json:"run_at"`
	Weekday     *int             `json:"weekday,omitempty"`
	DayOfMonth  *int             `json:"day_of_month,omitempty"`
	MonthOfYear *int             `json:"month_of_year,omitempty"`
	Quarter     *int             `json:"quarter,omitempty"`
	Delivery    Delivery         `json:"delivery"`
	Output      Output           `json:"output"`

	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LastRunID     id.RunID   `json:"last_run_id,omitempty"`
	LastRunStatus RunStatus  `json:"last_run_status,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`

	CreatedBy string `json:"created_by,omitempty"`
	UpdatedBy string `json:"updated_by,omitempty"`
}

// CadenceSpec returns the cadence-relevant snapshot of s.
func (s *Schedule) CadenceSpec() cadence.Spec {
	return cadence.Spec{
		Cadence:     s.Cadence,
		CronExpr:    s.CronExpr,
		Timezone:    s.Timezone,
		Hour:        s.RunAt.Hour,
		Minute:      s.RunAt.Minute,
		Weekday:     s.Weekday,
		DayOfMonth:  s.DayOfMonth,
		MonthOfYear: s.MonthOfYear,
		Quarter:     s.Quarter,
	}
}

// Location loads the schedule's timezone.
func (s *Schedule) Location() *time.Location {
	loc, err := s.CadenceSpec().Location()
	if err != nil {
		return time.UTC
	}
	return loc
}

// CadenceChanged reports whether any field that affects NextRunAt
// differs between s and other.
func (s *Schedule) CadenceChanged(other *Schedule) bool {
	a, b := s.CadenceSpec(), other.CadenceSpec()
	return a.Cadence != b.Cadence ||
		a.CronExpr != b.CronExpr ||
		a.Timezone != b.Timezone ||
		a.Hour != b.Hour ||
		a.Minute != b.Minute ||
		!eqInt(a.Weekday, b.Weekday) ||
		!eqInt(a.DayOfMonth, b.DayOfMonth) ||
		!eqInt(a.MonthOfYear, b.MonthOfYear) ||
		!eqInt(a.Quarter, b.Quarter)
}

func eqInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ApplyDefaults fills the timezone, scope, delivery and output defaults.
func (s *Schedule) ApplyDefaults(defaultTZ string, defaultFormats []reportflow.Format) {
	if s.Timezone == "" {
		s.Timezone = defaultTZ
	}
	if s.Scope.Type == "" {
		s.Scope.Type = reportflow.ScopeTenant
	}
	if s.Status == "" {
		s.Status = StatusActive
	}
	if len(s.Delivery.Channels) == 0 {
		s.Delivery.Channels = []Channel{ChannelInApp}
	}
	if len(s.Output.Formats) == 0 {
		s.Output.Formats = slices.Clone(defaultFormats)
	}
}

// Validate checks the schedule's cadence, scope, delivery and output.
func (s *Schedule) Validate() error {
	if s.TenantID == "" {
		return reportflow.Configf("tenantId", "required")
	}
	if s.TemplateID.IsNil() {
		return reportflow.Configf("templateId", "required")
	}
	if s.Name == "" || len(s.Name) > 200 {
		return reportflow.Configf("name", "must be 1-200 characters")
	}
	switch s.Status {
	case StatusActive, StatusPaused, StatusDisabled:
	default:
		return reportflow.Configf("status", "unsupported status %q", s.Status)
	}
	if err := cadence.Validate(s.CadenceSpec()); err != nil {
		return err
	}
	if err := s.Scope.Validate(); err != nil {
		return err
	}
	if err := reportflow.ValidateFormats(s.Output.Formats); err != nil {
		return err
	}
	return s.Delivery.validate()
}

func (d Delivery) validate() error {
	for _, c := range d.Channels {
		switch c {
		case ChannelInApp, ChannelEmail, ChannelSlack, ChannelWebhook:
		default:
			return reportflow.Configf("delivery.channels", "unsupported channel %q", c)
		}
	}
	for _, e := range d.Recipients.Emails {
		if _, err := mail.ParseAddress(e); err != nil {
			return reportflow.Configf("delivery.recipients.emails", "invalid address %q", e)
		}
	}
	for _, raw := range d.Recipients.WebhookURLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return reportflow.Configf("delivery.recipients.webhookUrls", "invalid url %q", raw)
		}
	}
	return nil
}

// Clone returns a deep copy of s.
func (s *Schedule) Clone() *Schedule {
	cp := *s
	cp.Scope = s.Scope.Clone()
	cp.Weekday = cloneInt(s.Weekday)
	cp.DayOfMonth = cloneInt(s.DayOfMonth)
	cp.MonthOfYear = cloneInt(s.MonthOfYear)
	cp.Quarter = cloneInt(s.Quarter)
	cp.Delivery.Channels = slices.Clone(s.Delivery.Channels)
	cp.Delivery.Recipients.UserIDs = slices.Clone(s.Delivery.Recipients.UserIDs)
	cp.Delivery.Recipients.Emails = slices.Clone(s.Delivery.Recipients.Emails)
	cp.Delivery.Recipients.SlackChannelIDs = slices.Clone(s.Delivery.Recipients.SlackChannelIDs)
	cp.Delivery.Recipients.WebhookURLs = slices.Clone(s.Delivery.Recipients.WebhookURLs)
	cp.Output.Formats = slices.Clone(s.Output.Formats)
	cp.LastRunAt = cloneTime(s.LastRunAt)
	cp.NextRunAt = cloneTime(s.NextRunAt)
	return &cp
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
