// Package dlq holds report jobs whose executor crashed on every attempt.
//
// When a job crashes and its attempts reach MaxAttempts, the worker calls
// [Service.Push]. The entry keeps the job payload, the last error and
// the attempt counts, and points at the run that failed.
//
// [Service.Replay] turns an entry back into work: the failed run is
// requeued (failed → queued, attempts kept), a fresh job is enqueued
// for it, and the entry is stamped with ReplayedAt. An entry replays at
// most once.
package dlq
