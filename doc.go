// Package reportflow is a scheduled report orchestration engine. It turns
// declarative report templates into recurring, once-per-period runs,
// coordinates them across worker processes through short-lived leases, and
// tracks every run through a retryable lifecycle.
//
// # Quick Start
//
//	r, err := reportflow.New(
//	    reportflow.WithStore(pgStore),
//	    reportflow.WithEnv("production"),
//	)
//	eng, err := engine.Build(r, engine.WithDataAccess(mongoData))
//	err = eng.Start(ctx)
//
// # Architecture
//
// Each subsystem (template, schedule, run, job, dlq, audit, lock) defines
// its own store interface and a single backend implements all of them.
// The engine package wires the cadence resolver, lock coordinator,
// aggregation builder, worker pool, scheduler poller, stuck-run sweep and
// run executor together.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based.
package reportflow
