// Package job defines the queue work item that carries a report run to a
// worker, its state machine, its wire payload, and the store interface.
//
// A [Job] references exactly one run. The run record owns the report
// lifecycle; the job only tracks delivery:
//
//	pending → running → completed
//	pending → running → retrying → running → ...
//	pending → running → failed → dlq
//
// Delivery is at-least-once. A job whose worker stops heartbeating is
// returned to pending by the reaper, so the same run can be delivered
// twice. Workers guard against that with the per-run lock.
//
// The [Payload] is encoded with msgpack via [EncodePayload] and
// [DecodePayload].
package job
