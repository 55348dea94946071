// Package queue enforces the report worker's throughput ceiling.
//
// Two limits apply to every dequeued job before it executes:
//
//   - concurrency: at most MaxConcurrency jobs of a queue run at once in
//     the local pool;
//   - rate: at most JobsPerWindow jobs start per Window, as a token
//     bucket (golang.org/x/time/rate) refilled evenly across the window
//     with a burst of JobsPerWindow.
//
// The same two limits can be set per tenant with [TenantConfig] so one
// tenant cannot drain the shared ceiling:
//
//	m := queue.NewManager(queue.Config{
//	    Name:           "reports",
//	    MaxConcurrency: 5,
//	    JobsPerWindow:  10,
//	    Window:         time.Minute,
//	})
//	m.SetTenantConfig(queue.TenantConfig{QueueName: "reports", TenantID: "acme", JobsPerWindow: 2, Window: time.Minute})
//
//	if m.Acquire(j.Queue, j.TenantID) {
//	    defer m.Release(j.Queue, j.TenantID)
//	    // execute
//	}
//
// Queues without a [Config] have no limits beyond the pool size.
package queue
