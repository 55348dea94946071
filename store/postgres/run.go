package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/run"
)

// CreateRun inserts a run.
func (s *Store) CreateRun(ctx context.Context, r *run.Run) error {
	doc, err := encodeDoc(r, "run")
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO reportflow_runs (
			id, tenant_id, template_id, schedule_id, status, trigger_type, started_at,
			doc, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID.String(), r.TenantID, r.TemplateID.String(), r.ScheduleID.String(),
		string(r.Status), string(r.TriggerType), r.Job.StartedAt,
		doc, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return reportflow.ErrRunExists
		}
		return fmt.Errorf("reportflow/postgres: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID within a tenant.
func (s *Store) GetRun(ctx context.Context, tenantID string, runID id.RunID) (*run.Run, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM reportflow_runs WHERE tenant_id = $1 AND id = $2`,
		tenantID, runID.String(),
	).Scan(&raw)
	if err != nil {
		if isNoRows(err) {
			return nil, reportflow.ErrRunNotFound
		}
		return nil, fmt.Errorf("reportflow/postgres: get run: %w", err)
	}
	return decodeDoc[run.Run](raw, "run")
}

// UpdateRun replaces a stored run.
func (s *Store) UpdateRun(ctx context.Context, r *run.Run) error {
	doc, err := encodeDoc(r, "run")
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE reportflow_runs SET
			status = $3, started_at = $4, doc = $5, updated_at = $6
		WHERE tenant_id = $1 AND id = $2`,
		r.TenantID, r.ID.String(), string(r.Status), r.Job.StartedAt, doc, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("reportflow/postgres: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return reportflow.ErrRunNotFound
	}
	return nil
}

// DeleteRun removes a run.
func (s *Store) DeleteRun(ctx context.Context, tenantID string, runID id.RunID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM reportflow_runs WHERE tenant_id = $1 AND id = $2`,
		tenantID, runID.String(),
	)
	if err != nil {
		return fmt.Errorf("reportflow/postgres: delete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return reportflow.ErrRunNotFound
	}
	return nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, tenantID string, opts run.ListOpts) ([]*run.Run, error) {
	f := runFilter(tenantID, opts)
	query := `SELECT doc FROM reportflow_runs` + f.where() +
		` ORDER BY created_at DESC` + f.page(opts.Limit, opts.Offset)
	rows, err := s.pool.Query(ctx, query, f.args...)
	if err != nil {
		return nil, fmt.Errorf("reportflow/postgres: list runs: %w", err)
	}
	return collectDocs[run.Run](rows, "run")
}

// CountRuns returns the number of runs matching opts.
func (s *Store) CountRuns(ctx context.Context, tenantID string, opts run.ListOpts) (int64, error) {
	f := runFilter(tenantID, opts)
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM reportflow_runs`+f.where(), f.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("reportflow/postgres: count runs: %w", err)
	}
	return n, nil
}

// ListStuckRuns returns running runs of every tenant that started before
// startedBefore, oldest first.
func (s *Store) ListStuckRuns(ctx context.Context, startedBefore time.Time, limit int) ([]*run.Run, error) {
	f := &filter{}
	f.add("status = $%d", string(run.StatusRunning))
	f.add("started_at < $%d", startedBefore)
	query := `SELECT doc FROM reportflow_runs` + f.where() +
		` ORDER BY started_at ASC` + f.page(limit, 0)
	rows, err := s.pool.Query(ctx, query, f.args...)
	if err != nil {
		return nil, fmt.Errorf("reportflow/postgres: list stuck runs: %w", err)
	}
	return collectDocs[run.Run](rows, "run")
}

func runFilter(tenantID string, opts run.ListOpts) *filter {
	f := &filter{}
	f.add("tenant_id = $%d", tenantID)
	if !opts.TemplateID.IsNil() {
		f.add("template_id = $%d", opts.TemplateID.String())
	}
	if !opts.ScheduleID.IsNil() {
		f.add("schedule_id = $%d", opts.ScheduleID.String())
	}
	if len(opts.Statuses) > 0 {
		statuses := make([]string, len(opts.Statuses))
		for i, st := range opts.Statuses {
			statuses[i] = string(st)
		}
		f.add("status = ANY($%d)", statuses)
	}
	if len(opts.TriggerTypes) > 0 {
		triggers := make([]string, len(opts.TriggerTypes))
		for i, tt := range opts.TriggerTypes {
			triggers[i] = string(tt)
		}
		f.add("trigger_type = ANY($%d)", triggers)
	}
	if opts.CreatedFrom != nil {
		f.add("created_at >= $%d", *opts.CreatedFrom)
	}
	if opts.CreatedTo != nil {
		f.add("created_at <= $%d", *opts.CreatedTo)
	}
	return f
}
