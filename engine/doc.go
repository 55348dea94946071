// Package engine wires the report subsystems together and exposes the
// operations callers use: template and schedule management, manual and
// scheduled run triggers, retries, run queries and dead-letter replay.
//
// Build takes a configured [reportflow.Reporter] whose store implements
// [store.Store] and creates the extension registry, the executor, the
// worker pool with its middleware chain, the scheduler poller and the
// stuck-run sweep. The long-lived loops are registered as runners on the
// Reporter, so Reporter.Start and Reporter.Stop drive them.
//
//	r, _ := reportflow.New(reportflow.WithStore(memory.New()))
//	eng, err := engine.Build(r,
//	    engine.WithDataAccess(data),
//	    engine.WithRenderer(render.NewLocal("/var/reports")),
//	)
//	if err != nil { ... }
//	_ = eng.Start(ctx)
//	defer eng.Stop(ctx)
//
// This package exists to break the import cycle: the root reportflow
// package defines shared types imported by every subsystem and so cannot
// import them back.
package engine
