package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/dlq"
	"github.com/xraph/reportflow/id"
)

type dlqModel struct {
	ID          string     `bson:"_id"`
	JobID       string     `bson:"job_id"`
	RunID       string     `bson:"run_id"`
	TenantID    string     `bson:"tenant_id"`
	Queue       string     `bson:"queue"`
	Payload     []byte     `bson:"payload"`
	Error       string     `bson:"error"`
	Attempts    int        `bson:"attempts"`
	MaxAttempts int        `bson:"max_attempts"`
	FailedAt    time.Time  `bson:"failed_at"`
	ReplayedAt  *time.Time `bson:"replayed_at"`
	CreatedAt   time.Time  `bson:"created_at"`
}

func fromDLQModel(m *dlqModel) (*dlq.Entry, error) {
	entryID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("reportflow/mongo: parse dlq id %q: %w", m.ID, err)
	}
	jobID, err := id.ParseOptional(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("reportflow/mongo: parse job id %q: %w", m.JobID, err)
	}
	runID, err := id.ParseOptional(m.RunID)
	if err != nil {
		return nil, fmt.Errorf("reportflow/mongo: parse run id %q: %w", m.RunID, err)
	}
	return &dlq.Entry{
		ID:          entryID,
		JobID:       jobID,
		RunID:       runID,
		TenantID:    m.TenantID,
		Queue:       m.Queue,
		Payload:     m.Payload,
		Error:       m.Error,
		Attempts:    m.Attempts,
		MaxAttempts: m.MaxAttempts,
		FailedAt:    m.FailedAt,
		ReplayedAt:  m.ReplayedAt,
		CreatedAt:   m.CreatedAt,
	}, nil
}

// PushDLQ adds an entry.
func (s *Store) PushDLQ(ctx context.Context, e *dlq.Entry) error {
	m := &dlqModel{
		ID:          e.ID.String(),
		JobID:       e.JobID.String(),
		RunID:       e.RunID.String(),
		TenantID:    e.TenantID,
		Queue:       e.Queue,
		Payload:     e.Payload,
		Error:       e.Error,
		Attempts:    e.Attempts,
		MaxAttempts: e.MaxAttempts,
		FailedAt:    e.FailedAt,
		ReplayedAt:  e.ReplayedAt,
		CreatedAt:   e.CreatedAt,
	}
	if _, err := s.col(colDLQ).InsertOne(ctx, m); err != nil {
		return fmt.Errorf("reportflow/mongo: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	filter := bson.M{}
	if opts.TenantID != "" {
		filter["tenant_id"] = opts.TenantID
	}
	cur, err := s.col(colDLQ).Find(ctx, filter, pageOpts("failed_at", -1, opts.Limit, opts.Offset))
	if err != nil {
		return nil, fmt.Errorf("reportflow/mongo: list dlq: %w", err)
	}
	var models []dlqModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("reportflow/mongo: decode dlq: %w", err)
	}
	entries := make([]*dlq.Entry, 0, len(models))
	for i := range models {
		e, err := fromDLQModel(&models[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	var m dlqModel
	if err := s.col(colDLQ).FindOne(ctx, bson.M{"_id": entryID.String()}).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, reportflow.ErrDLQNotFound
		}
		return nil, fmt.Errorf("reportflow/mongo: get dlq: %w", err)
	}
	return fromDLQModel(&m)
}

// ReplayDLQ stamps ReplayedAt on an entry.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	res, err := s.col(colDLQ).UpdateOne(ctx,
		bson.M{"_id": entryID.String()},
		bson.M{"$set": bson.M{"replayed_at": s.clock()}},
	)
	if err != nil {
		return fmt.Errorf("reportflow/mongo: replay dlq: %w", err)
	}
	if res.MatchedCount == 0 {
		return reportflow.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.col(colDLQ).DeleteMany(ctx, bson.M{"failed_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("reportflow/mongo: purge dlq: %w", err)
	}
	return res.DeletedCount, nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.col(colDLQ).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("reportflow/mongo: count dlq: %w", err)
	}
	return n, nil
}
