package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/dlq"
	"github.com/xraph/reportflow/id"
)

const dlqColumns = `
	id, job_id, run_id, tenant_id, queue, payload, error, attempts, max_attempts,
	failed_at, replayed_at, created_at`

// PushDLQ adds an entry.
func (s *Store) PushDLQ(ctx context.Context, e *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reportflow_dlq (`+dlqColumns+`
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID.String(), e.JobID.String(), e.RunID.String(), e.TenantID, e.Queue, e.Payload,
		e.Error, e.Attempts, e.MaxAttempts, e.FailedAt, e.ReplayedAt, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("reportflow/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	f := &filter{}
	if opts.TenantID != "" {
		f.add("tenant_id = $%d", opts.TenantID)
	}
	query := `SELECT ` + dlqColumns + ` FROM reportflow_dlq` + f.where() +
		` ORDER BY failed_at DESC` + f.page(opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, f.args...)
	if err != nil {
		return nil, fmt.Errorf("reportflow/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, err := scanDLQ(rows)
		if err != nil {
			return nil, fmt.Errorf("reportflow/postgres: scan dlq row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reportflow/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+dlqColumns+` FROM reportflow_dlq WHERE id = $1`, entryID.String())
	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, reportflow.ErrDLQNotFound
		}
		return nil, fmt.Errorf("reportflow/postgres: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ stamps ReplayedAt on an entry.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reportflow_dlq SET replayed_at = NOW() WHERE id = $1`,
		entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("reportflow/postgres: replay dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return reportflow.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM reportflow_dlq WHERE failed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("reportflow/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM reportflow_dlq`).Scan(&n); err != nil {
		return 0, fmt.Errorf("reportflow/postgres: count dlq: %w", err)
	}
	return n, nil
}

func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		e      dlq.Entry
		idStr  string
		jobStr string
		runStr string
	)
	err := row.Scan(
		&idStr, &jobStr, &runStr, &e.TenantID, &e.Queue, &e.Payload, &e.Error,
		&e.Attempts, &e.MaxAttempts, &e.FailedAt, &e.ReplayedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if e.ID, err = id.ParseDLQID(idStr); err != nil {
		return nil, fmt.Errorf("reportflow/postgres: parse dlq id %q: %w", idStr, err)
	}
	if e.JobID, err = id.ParseOptional(jobStr); err != nil {
		return nil, fmt.Errorf("reportflow/postgres: parse job id %q: %w", jobStr, err)
	}
	if e.RunID, err = id.ParseOptional(runStr); err != nil {
		return nil, fmt.Errorf("reportflow/postgres: parse run id %q: %w", runStr, err)
	}
	return &e, nil
}
