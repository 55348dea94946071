// Package observability provides an extension that counts report
// lifecycle events with OpenTelemetry counters.
package observability
