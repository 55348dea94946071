// Package store defines the aggregate persistence interface. Each
// subsystem (template, schedule, run, job, dlq, audit, lock) defines its
// own store interface and the composite Store composes them all.
// Backends: Postgres, MongoDB and Memory. The Redis backend covers the
// hot-path subset (jobs, dead letters, locks) and is combined with a
// record store through Split.
package store

import (
	"context"

	"github.com/xraph/reportflow/audit"
	"github.com/xraph/reportflow/dlq"
	"github.com/xraph/reportflow/job"
	"github.com/xraph/reportflow/lock"
	"github.com/xraph/reportflow/run"
	"github.com/xraph/reportflow/schedule"
	"github.com/xraph/reportflow/template"
)

// Store is the aggregate persistence interface. A single backend
// implements all of it.
type Store interface {
	template.Store
	schedule.Store
	run.Store
	job.Store
	dlq.Store
	audit.Store
	lock.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

// Records is the durable part of a Store.
type Records interface {
	template.Store
	schedule.Store
	run.Store
	audit.Store

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Queue is the hot-path part of a Store: job delivery, dead letters and
// locks.
type Queue interface {
	job.Store
	dlq.Store
	lock.Store

	Ping(ctx context.Context) error
	Close() error
}

type split struct {
	Records
	Queue
}

// Split combines a record store with a queue store. Migrate only touches
// the record store; Ping and Close reach both.
func Split(records Records, queue Queue) Store {
	return &split{Records: records, Queue: queue}
}

func (s *split) Ping(ctx context.Context) error {
	if err := s.Records.Ping(ctx); err != nil {
		return err
	}
	return s.Queue.Ping(ctx)
}

func (s *split) Close() error {
	qErr := s.Queue.Close()
	if err := s.Records.Close(); err != nil {
		return err
	}
	return qErr
}
