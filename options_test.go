package reportflow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/reportflow"
)

type nopStore struct{ closed bool }

func (s *nopStore) Migrate(context.Context) error { return nil }
func (s *nopStore) Ping(context.Context) error    { return nil }
func (s *nopStore) Close() error                  { s.closed = true; return nil }

type recordingRunner struct {
	name   string
	log    *[]string
	failOn bool
}

func (r *recordingRunner) Start(context.Context) error {
	if r.failOn {
		return errors.New("boom")
	}
	*r.log = append(*r.log, "start:"+r.name)
	return nil
}

func (r *recordingRunner) Stop(context.Context) error {
	*r.log = append(*r.log, "stop:"+r.name)
	return nil
}

func TestReporterStartStopOrder(t *testing.T) {
	st := &nopStore{}
	r, err := reportflow.New(reportflow.WithStore(st))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var log []string
	r.AddRunner(&recordingRunner{name: "pool", log: &log})
	r.AddRunner(&recordingRunner{name: "poller", log: &log})

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	want := []string{"start:pool", "start:poller", "stop:poller", "stop:pool"}
	if len(log) != len(want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log = %v, want %v", log, want)
		}
	}
	if !st.closed {
		t.Error("expected store to be closed")
	}
}

func TestReporterStartRollsBack(t *testing.T) {
	r, err := reportflow.New(reportflow.WithStore(&nopStore{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var log []string
	r.AddRunner(&recordingRunner{name: "pool", log: &log})
	r.AddRunner(&recordingRunner{name: "poller", log: &log, failOn: true})

	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	if len(log) != 2 || log[1] != "stop:pool" {
		t.Errorf("expected pool to be stopped after failure, log = %v", log)
	}
}

func TestReporterRequiresStore(t *testing.T) {
	r, err := reportflow.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Start(context.Background()); !errors.Is(err, reportflow.ErrNoStore) {
		t.Errorf("expected ErrNoStore, got %v", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := reportflow.New(reportflow.WithConcurrency(0))
	if !errors.Is(err, reportflow.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}
