// Package ext defines the extension system of the report engine.
//
// Extensions are notified of lifecycle events and react to them, for
// example by writing audit entries or counting metrics. Each hook is a
// separate interface so extensions opt in only to what they need:
//
//	type Printer struct{}
//
//	func (Printer) Name() string { return "printer" }
//
//	func (Printer) OnRunSucceeded(ctx context.Context, r *run.Run, elapsed time.Duration) error {
//	    fmt.Println(r.ID, elapsed)
//	    return nil
//	}
//
// Hook errors are logged by the [Registry] and never reach the caller.
// A failing extension cannot fail a run.
package ext
