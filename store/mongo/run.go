package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/run"
)

type runModel struct {
	ID          string     `bson:"_id"`
	TenantID    string     `bson:"tenant_id"`
	TemplateID  string     `bson:"template_id"`
	ScheduleID  string     `bson:"schedule_id"`
	Status      string     `bson:"status"`
	TriggerType string     `bson:"trigger_type"`
	StartedAt   *time.Time `bson:"started_at"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
	Doc         string     `bson:"doc"`
}

func toRunModel(r *run.Run) (*runModel, error) {
	doc, err := encodeDoc(r, "run")
	if err != nil {
		return nil, err
	}
	return &runModel{
		ID:          r.ID.String(),
		TenantID:    r.TenantID,
		TemplateID:  r.TemplateID.String(),
		ScheduleID:  r.ScheduleID.String(),
		Status:      string(r.Status),
		TriggerType: string(r.TriggerType),
		StartedAt:   r.Job.StartedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		Doc:         doc,
	}, nil
}

// CreateRun inserts a run.
func (s *Store) CreateRun(ctx context.Context, r *run.Run) error {
	m, err := toRunModel(r)
	if err != nil {
		return err
	}
	if _, err := s.col(colRuns).InsertOne(ctx, m); err != nil {
		if isDuplicateKey(err) {
			return reportflow.ErrRunExists
		}
		return fmt.Errorf("reportflow/mongo: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID within a tenant.
func (s *Store) GetRun(ctx context.Context, tenantID string, runID id.RunID) (*run.Run, error) {
	return findOneDoc[run.Run](ctx, s.col(colRuns),
		bson.M{"_id": runID.String(), "tenant_id": tenantID},
		reportflow.ErrRunNotFound, "run")
}

// UpdateRun replaces a stored run.
func (s *Store) UpdateRun(ctx context.Context, r *run.Run) error {
	m, err := toRunModel(r)
	if err != nil {
		return err
	}
	res, err := s.col(colRuns).ReplaceOne(ctx, bson.M{"_id": m.ID, "tenant_id": m.TenantID}, m)
	if err != nil {
		return fmt.Errorf("reportflow/mongo: update run: %w", err)
	}
	if res.MatchedCount == 0 {
		return reportflow.ErrRunNotFound
	}
	return nil
}

// DeleteRun removes a run.
func (s *Store) DeleteRun(ctx context.Context, tenantID string, runID id.RunID) error {
	res, err := s.col(colRuns).DeleteOne(ctx, bson.M{"_id": runID.String(), "tenant_id": tenantID})
	if err != nil {
		return fmt.Errorf("reportflow/mongo: delete run: %w", err)
	}
	if res.DeletedCount == 0 {
		return reportflow.ErrRunNotFound
	}
	return nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, tenantID string, opts run.ListOpts) ([]*run.Run, error) {
	return findDocs[run.Run](ctx, s.col(colRuns), runFilter(tenantID, opts),
		pageOpts("created_at", -1, opts.Limit, opts.Offset), "run")
}

// CountRuns returns the number of runs matching opts.
func (s *Store) CountRuns(ctx context.Context, tenantID string, opts run.ListOpts) (int64, error) {
	n, err := s.col(colRuns).CountDocuments(ctx, runFilter(tenantID, opts))
	if err != nil {
		return 0, fmt.Errorf("reportflow/mongo: count runs: %w", err)
	}
	return n, nil
}

// ListStuckRuns returns running runs of every tenant that started before
// startedBefore, oldest first.
func (s *Store) ListStuckRuns(ctx context.Context, startedBefore time.Time, limit int) ([]*run.Run, error) {
	filter := bson.M{
		"status":     string(run.StatusRunning),
		"started_at": bson.M{"$lt": startedBefore},
	}
	return findDocs[run.Run](ctx, s.col(colRuns), filter, pageOpts("started_at", 1, limit, 0), "run")
}

func runFilter(tenantID string, opts run.ListOpts) bson.M {
	f := bson.M{"tenant_id": tenantID}
	if !opts.TemplateID.IsNil() {
		f["template_id"] = opts.TemplateID.String()
	}
	if !opts.ScheduleID.IsNil() {
		f["schedule_id"] = opts.ScheduleID.String()
	}
	if len(opts.Statuses) > 0 {
		statuses := make(bson.A, len(opts.Statuses))
		for i, st := range opts.Statuses {
			statuses[i] = string(st)
		}
		f["status"] = bson.M{"$in": statuses}
	}
	if len(opts.TriggerTypes) > 0 {
		triggers := make(bson.A, len(opts.TriggerTypes))
		for i, tt := range opts.TriggerTypes {
			triggers[i] = string(tt)
		}
		f["trigger_type"] = bson.M{"$in": triggers}
	}
	if opts.CreatedFrom != nil || opts.CreatedTo != nil {
		created := bson.M{}
		if opts.CreatedFrom != nil {
			created["$gte"] = *opts.CreatedFrom
		}
		if opts.CreatedTo != nil {
			created["$lte"] = *opts.CreatedTo
		}
		f["created_at"] = created
	}
	return f
}
