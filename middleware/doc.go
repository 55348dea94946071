// Package middleware provides composable middleware around report job
// execution.
//
// A [Middleware] wraps the handler that runs the executor for one job.
// Middleware are composed with [Chain] and applied right-to-left: the
// first middleware in the slice is the outermost wrapper. The engine
// installs, outermost first:
//
//	Recover → Tracing → Metrics → Logging → Timeout → executor
//
// # Built-in Middleware
//
//   - [Recover] turns a panic into an error wrapping reportflow.ErrExecutorCrash
//   - [Tracing] wraps execution in an OpenTelemetry span
//   - [Metrics] records duration and outcome counters
//   - [Logging] logs start and completion
//   - [Timeout] bounds execution by the job's Timeout
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
