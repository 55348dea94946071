package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/job"
)

const jobColumns = `
	id, queue, run_id, tenant_id, payload, state, attempts, max_attempts,
	last_error, worker_id, run_at, started_at, completed_at, heartbeat_at,
	timeout, created_at, updated_at`

// EnqueueJob persists a new job.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reportflow_jobs (`+jobColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14,
			$15, $16, $17
		)`,
		j.ID.String(), j.Queue, j.RunID.String(), j.TenantID, j.Payload, string(j.State),
		j.Attempts, j.MaxAttempts,
		j.LastError, j.WorkerID.String(), j.RunAt, j.StartedAt, j.CompletedAt, j.HeartbeatAt,
		j.Timeout.Nanoseconds(), j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return reportflow.ErrJobExists
		}
		return fmt.Errorf("reportflow/postgres: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically claims up to limit due jobs, sets them to running
// and returns them oldest RunAt first. SKIP LOCKED lets concurrent workers
// claim disjoint rows. An empty queues list matches every queue.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	if queues == nil {
		queues = []string{}
	}
	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			UPDATE reportflow_jobs
			SET state = 'running', started_at = NOW(), heartbeat_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT id FROM reportflow_jobs
				WHERE state IN ('pending', 'retrying')
				  AND (cardinality($1::text[]) = 0 OR queue = ANY($1))
				  AND run_at <= NOW()
				ORDER BY run_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+jobColumns+`
		)
		SELECT * FROM claimed ORDER BY run_at ASC`,
		queues, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("reportflow/postgres: dequeue jobs: %w", err)
	}
	return collectJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM reportflow_jobs WHERE id = $1`, jobID.String())
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, reportflow.ErrJobNotFound
		}
		return nil, fmt.Errorf("reportflow/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE reportflow_jobs SET
			queue = $2, payload = $3, state = $4, attempts = $5, max_attempts = $6,
			last_error = $7, worker_id = $8, run_at = $9, started_at = $10,
			completed_at = $11, heartbeat_at = $12, timeout = $13,
			updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), j.Queue, j.Payload, string(j.State), j.Attempts, j.MaxAttempts,
		j.LastError, j.WorkerID.String(), j.RunAt, j.StartedAt,
		j.CompletedAt, j.HeartbeatAt, j.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("reportflow/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return reportflow.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM reportflow_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("reportflow/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return reportflow.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs matching the given state, oldest RunAt first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	f := &filter{}
	f.add("state = $%d", string(state))
	if opts.Queue != "" {
		f.add("queue = $%d", opts.Queue)
	}
	query := `SELECT ` + jobColumns + ` FROM reportflow_jobs` + f.where() +
		` ORDER BY run_at ASC` + f.page(opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, f.args...)
	if err != nil {
		return nil, fmt.Errorf("reportflow/postgres: list jobs by state: %w", err)
	}
	return collectJobs(rows)
}

// HeartbeatJob records that workerID still holds the job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reportflow_jobs SET heartbeat_at = NOW(), worker_id = $2, updated_at = NOW() WHERE id = $1`,
		jobID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("reportflow/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return reportflow.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// the given threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM reportflow_jobs
		WHERE state = 'running'
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < NOW() - $1::bigint * INTERVAL '1 microsecond'`,
		threshold.Microseconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("reportflow/postgres: reap stale jobs: %w", err)
	}
	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	f := &filter{}
	if opts.Queue != "" {
		f.add("queue = $%d", opts.Queue)
	}
	if opts.State != "" {
		f.add("state = $%d", string(opts.State))
	}
	if opts.TenantID != "" {
		f.add("tenant_id = $%d", opts.TenantID)
	}

	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM reportflow_jobs`+f.where(), f.args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("reportflow/postgres: count jobs: %w", err)
	}
	return count, nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		runStr    string
		stateStr  string
		workerStr string
		timeoutNs int64
	)
	err := row.Scan(
		&idStr, &j.Queue, &runStr, &j.TenantID, &j.Payload, &stateStr, &j.Attempts, &j.MaxAttempts,
		&j.LastError, &workerStr, &j.RunAt, &j.StartedAt, &j.CompletedAt, &j.HeartbeatAt,
		&timeoutNs, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)

	if j.ID, err = id.ParseJobID(idStr); err != nil {
		return nil, fmt.Errorf("reportflow/postgres: parse job id %q: %w", idStr, err)
	}
	if j.RunID, err = id.ParseOptional(runStr); err != nil {
		return nil, fmt.Errorf("reportflow/postgres: parse run id %q: %w", runStr, err)
	}
	if workerStr != "" {
		if parsed, werr := id.ParseWorkerID(workerStr); werr == nil {
			j.WorkerID = parsed
		}
	}
	return &j, nil
}

// collectJobs drains rows into jobs and closes them.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	defer rows.Close()
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("reportflow/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reportflow/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
