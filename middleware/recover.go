package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/job"
)

// Recover returns middleware that recovers from panics in the chain. A
// panic becomes an error wrapping reportflow.ErrExecutorCrash, so the
// worker treats it as a crash eligible for retry.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("report job panicked",
					slog.String("job_id", j.ID.String()),
					slog.String("run_id", j.RunID.String()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("%w: panic in run %s: %v", reportflow.ErrExecutorCrash, j.RunID, r)
			}
		}()
		return next(ctx)
	}
}
