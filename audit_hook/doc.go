// Package audithook is an extension that turns report lifecycle events
// into audit entries.
//
// Runs, schedules and templates each get an entry per transition. Run
// entries carry the previous and next status plus timing metadata.
// Schedule and template entries carry a before/after diff. The actor, IP
// and user agent come from [reportflow.ClientInfoFrom] when the caller
// attached them to the context.
//
//	reg.Register(audithook.New(audit.StoreSink(store)))
//
// Only some actions:
//
//	audithook.New(sink, audithook.WithActions(
//	    audithook.ActionRunFailed,
//	    audithook.ActionRunDeadLettered,
//	))
package audithook
