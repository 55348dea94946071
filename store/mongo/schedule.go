package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/schedule"
)

type scheduleModel struct {
	ID         string     `bson:"_id"`
	TenantID   string     `bson:"tenant_id"`
	TemplateID string     `bson:"template_id"`
	Status     string     `bson:"status"`
	Cadence    string     `bson:"cadence"`
	NextRunAt  *time.Time `bson:"next_run_at"`
	CreatedAt  time.Time  `bson:"created_at"`
	UpdatedAt  time.Time  `bson:"updated_at"`
	Doc        string     `bson:"doc"`
}

func toScheduleModel(sc *schedule.Schedule) (*scheduleModel, error) {
	doc, err := encodeDoc(sc, "schedule")
	if err != nil {
		return nil, err
	}
	return &scheduleModel{
		ID:         sc.ID.String(),
		TenantID:   sc.TenantID,
		TemplateID: sc.TemplateID.String(),
		Status:     string(sc.Status),
		Cadence:    string(sc.Cadence),
		NextRunAt:  sc.NextRunAt,
		CreatedAt:  sc.CreatedAt,
		UpdatedAt:  sc.UpdatedAt,
		Doc:        doc,
	}, nil
}

// CreateSchedule inserts a schedule.
func (s *Store) CreateSchedule(ctx context.Context, sc *schedule.Schedule) error {
	m, err := toScheduleModel(sc)
	if err != nil {
		return err
	}
	if _, err := s.col(colSchedules).InsertOne(ctx, m); err != nil {
		return fmt.Errorf("reportflow/mongo: create schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves a schedule by ID within a tenant.
func (s *Store) GetSchedule(ctx context.Context, tenantID string, scheduleID id.ScheduleID) (*schedule.Schedule, error) {
	return findOneDoc[schedule.Schedule](ctx, s.col(colSchedules),
		bson.M{"_id": scheduleID.String(), "tenant_id": tenantID},
		reportflow.ErrScheduleNotFound, "schedule")
}

// UpdateSchedule replaces a stored schedule.
func (s *Store) UpdateSchedule(ctx context.Context, sc *schedule.Schedule) error {
	m, err := toScheduleModel(sc)
	if err != nil {
		return err
	}
	res, err := s.col(colSchedules).ReplaceOne(ctx, bson.M{"_id": m.ID, "tenant_id": m.TenantID}, m)
	if err != nil {
		return fmt.Errorf("reportflow/mongo: update schedule: %w", err)
	}
	if res.MatchedCount == 0 {
		return reportflow.ErrScheduleNotFound
	}
	return nil
}

// DeleteSchedule removes a schedule.
func (s *Store) DeleteSchedule(ctx context.Context, tenantID string, scheduleID id.ScheduleID) error {
	res, err := s.col(colSchedules).DeleteOne(ctx, bson.M{"_id": scheduleID.String(), "tenant_id": tenantID})
	if err != nil {
		return fmt.Errorf("reportflow/mongo: delete schedule: %w", err)
	}
	if res.DeletedCount == 0 {
		return reportflow.ErrScheduleNotFound
	}
	return nil
}

// ListSchedules returns schedules newest first.
func (s *Store) ListSchedules(ctx context.Context, tenantID string, opts schedule.ListOpts) ([]*schedule.Schedule, error) {
	return findDocs[schedule.Schedule](ctx, s.col(colSchedules), scheduleFilter(tenantID, opts),
		pageOpts("created_at", -1, opts.Limit, opts.Offset), "schedule")
}

// CountSchedules returns the number of schedules matching opts.
func (s *Store) CountSchedules(ctx context.Context, tenantID string, opts schedule.ListOpts) (int64, error) {
	n, err := s.col(colSchedules).CountDocuments(ctx, scheduleFilter(tenantID, opts))
	if err != nil {
		return 0, fmt.Errorf("reportflow/mongo: count schedules: %w", err)
	}
	return n, nil
}

// ListDueSchedules returns active schedules of every tenant due at now,
// oldest NextRunAt first.
func (s *Store) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]*schedule.Schedule, error) {
	filter := bson.M{
		"status":      string(schedule.StatusActive),
		"next_run_at": bson.M{"$lte": now},
	}
	return findDocs[schedule.Schedule](ctx, s.col(colSchedules), filter,
		pageOpts("next_run_at", 1, limit, 0), "schedule")
}

// ListUpcomingSchedules returns a tenant's active schedules firing in
// [from, to], soonest first.
func (s *Store) ListUpcomingSchedules(ctx context.Context, tenantID string, from, to time.Time) ([]*schedule.Schedule, error) {
	filter := bson.M{
		"tenant_id":   tenantID,
		"status":      string(schedule.StatusActive),
		"next_run_at": bson.M{"$gte": from, "$lte": to},
	}
	return findDocs[schedule.Schedule](ctx, s.col(colSchedules), filter,
		pageOpts("next_run_at", 1, 0, 0), "schedule")
}

func scheduleFilter(tenantID string, opts schedule.ListOpts) bson.M {
	f := bson.M{"tenant_id": tenantID}
	if !opts.TemplateID.IsNil() {
		f["template_id"] = opts.TemplateID.String()
	}
	if opts.Status != "" {
		f["status"] = string(opts.Status)
	}
	if opts.Cadence != "" {
		f["cadence"] = string(opts.Cadence)
	}
	return f
}
