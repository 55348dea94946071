package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/reportflow/job"
)

// Logging returns middleware that logs job start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.Info("report job started",
			slog.String("job_id", j.ID.String()),
			slog.String("run_id", j.RunID.String()),
			slog.String("tenant_id", j.TenantID),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("report job failed",
				slog.String("job_id", j.ID.String()),
				slog.String("run_id", j.RunID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("report job completed",
				slog.String("job_id", j.ID.String()),
				slog.String("run_id", j.RunID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}
		return err
	}
}
