package middleware

import (
	"context"

	"github.com/xraph/reportflow/job"
)

// Timeout returns middleware that cancels the handler context after the
// job's Timeout. The engine sets it to the run lock TTL so execution
// never outlives the lease that makes it exclusive.
func Timeout() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, j.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
