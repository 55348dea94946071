package schedule_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/cadence"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/schedule"
)

func intp(v int) *int { return &v }

func weekly() *schedule.Schedule {
	s := &schedule.Schedule{
		TenantID:   "acme",
		TemplateID: id.NewTemplateID(),
		Name:       "Weekly pipeline",
		Cadence:    cadence.Weekly,
		Weekday:    intp(1),
		RunAt:      schedule.RunAt{Hour: 9},
	}
	s.ApplyDefaults("Asia/Kolkata", []reportflow.Format{reportflow.FormatPDF})
	return s
}

func TestApplyDefaults(t *testing.T) {
	s := weekly()
	if s.Timezone != "Asia/Kolkata" || s.Status != schedule.StatusActive {
		t.Errorf("defaults not applied: %+v", s)
	}
	if s.Scope.Type != reportflow.ScopeTenant {
		t.Errorf("scope = %q", s.Scope.Type)
	}
	if len(s.Delivery.Channels) != 1 || s.Delivery.Channels[0] != schedule.ChannelInApp {
		t.Errorf("channels = %v", s.Delivery.Channels)
	}
}

func TestValidate(t *testing.T) {
	if err := weekly().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*schedule.Schedule)
	}{
		{"missing weekday", func(s *schedule.Schedule) { s.Weekday = nil }},
		{"invalid cron", func(s *schedule.Schedule) {
			s.Cadence = cadence.Cron
			s.CronExpr = "61 * * * *"
		}},
		{"unknown timezone", func(s *schedule.Schedule) { s.Timezone = "Moon/Base" }},
		{"team scope without id", func(s *schedule.Schedule) { s.Scope = reportflow.Scope{Type: reportflow.ScopeTeam} }},
		{"bad email", func(s *schedule.Schedule) { s.Delivery.Recipients.Emails = []string{"not-an-email"} }},
		{"ftp webhook", func(s *schedule.Schedule) { s.Delivery.Recipients.WebhookURLs = []string{"ftp://example.com/hook"} }},
		{"unknown channel", func(s *schedule.Schedule) { s.Delivery.Channels = []schedule.Channel{"PAGER"} }},
		{"no template", func(s *schedule.Schedule) { s.TemplateID = id.Nil }},
		{"bad status", func(s *schedule.Schedule) { s.Status = "archived" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := weekly()
			tt.mutate(s)
			if err := s.Validate(); !errors.Is(err, reportflow.ErrConfiguration) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestCadenceChanged(t *testing.T) {
	a := weekly()
	b := a.Clone()
	if a.CadenceChanged(b) {
		t.Fatal("identical schedules reported as changed")
	}

	b.Name = "renamed"
	if a.CadenceChanged(b) {
		t.Error("name change should not affect cadence")
	}

	b.Weekday = intp(3)
	if !a.CadenceChanged(b) {
		t.Error("weekday change not detected")
	}

	c := a.Clone()
	c.RunAt.Minute = 30
	if !a.CadenceChanged(c) {
		t.Error("runAt change not detected")
	}
}

func TestCloneIsDeep(t *testing.T) {
	a := weekly()
	next := time.Date(2026, 1, 5, 3, 30, 0, 0, time.UTC)
	a.NextRunAt = &next

	b := a.Clone()
	*b.Weekday = 5
	*b.NextRunAt = next.Add(time.Hour)
	b.Output.Formats[0] = reportflow.FormatCSV

	if *a.Weekday != 1 || !a.NextRunAt.Equal(next) || a.Output.Formats[0] != reportflow.FormatPDF {
		t.Error("clone shares state with the original")
	}
}
