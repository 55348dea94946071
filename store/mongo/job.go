package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/job"
)

type jobModel struct {
	ID          string     `bson:"_id"`
	Queue       string     `bson:"queue"`
	RunID       string     `bson:"run_id"`
	TenantID    string     `bson:"tenant_id"`
	Payload     []byte     `bson:"payload"`
	State       string     `bson:"state"`
	Attempts    int        `bson:"attempts"`
	MaxAttempts int        `bson:"max_attempts"`
	LastError   string     `bson:"last_error"`
	WorkerID    string     `bson:"worker_id"`
	RunAt       time.Time  `bson:"run_at"`
	StartedAt   *time.Time `bson:"started_at"`
	CompletedAt *time.Time `bson:"completed_at"`
	HeartbeatAt *time.Time `bson:"heartbeat_at"`
	Timeout     int64      `bson:"timeout"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:          j.ID.String(),
		Queue:       j.Queue,
		RunID:       j.RunID.String(),
		TenantID:    j.TenantID,
		Payload:     j.Payload,
		State:       string(j.State),
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		LastError:   j.LastError,
		WorkerID:    j.WorkerID.String(),
		RunAt:       j.RunAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		HeartbeatAt: j.HeartbeatAt,
		Timeout:     int64(j.Timeout),
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("reportflow/mongo: parse job id %q: %w", m.ID, err)
	}
	runID, err := id.ParseOptional(m.RunID)
	if err != nil {
		return nil, fmt.Errorf("reportflow/mongo: parse run id %q: %w", m.RunID, err)
	}
	j := &job.Job{
		Entity:      reportflow.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          jobID,
		Queue:       m.Queue,
		RunID:       runID,
		TenantID:    m.TenantID,
		Payload:     m.Payload,
		State:       job.State(m.State),
		Attempts:    m.Attempts,
		MaxAttempts: m.MaxAttempts,
		LastError:   m.LastError,
		RunAt:       m.RunAt,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		HeartbeatAt: m.HeartbeatAt,
		Timeout:     time.Duration(m.Timeout),
	}
	if m.WorkerID != "" {
		if wid, werr := id.ParseWorkerID(m.WorkerID); werr == nil {
			j.WorkerID = wid
		}
	}
	return j, nil
}

// EnqueueJob persists a new job.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	if _, err := s.col(colJobs).InsertOne(ctx, toJobModel(j)); err != nil {
		if isDuplicateKey(err) {
			return reportflow.ErrJobExists
		}
		return fmt.Errorf("reportflow/mongo: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs claims up to limit due jobs, one FindOneAndUpdate at a time
// so each claim is atomic. An empty queues list matches every queue.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	t := s.clock()
	col := s.col(colJobs)
	jobs := make([]*job.Job, 0, limit)

	filter := bson.M{
		"state":  bson.M{"$in": bson.A{string(job.StatePending), string(job.StateRetrying)}},
		"run_at": bson.M{"$lte": t},
	}
	if len(queues) > 0 {
		filter["queue"] = bson.M{"$in": queues}
	}
	update := bson.M{
		"$set": bson.M{
			"state":        string(job.StateRunning),
			"started_at":   t,
			"heartbeat_at": t,
			"updated_at":   t,
		},
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{{Key: "run_at", Value: 1}})

	for len(jobs) < limit {
		var m jobModel
		if err := col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m); err != nil {
			if isNoDocuments(err) {
				break
			}
			return jobs, fmt.Errorf("reportflow/mongo: dequeue jobs: %w", err)
		}
		j, err := fromJobModel(&m)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	if err := s.col(colJobs).FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, reportflow.ErrJobNotFound
		}
		return nil, fmt.Errorf("reportflow/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	m.UpdatedAt = s.clock()
	res, err := s.col(colJobs).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("reportflow/mongo: update job: %w", err)
	}
	if res.MatchedCount == 0 {
		return reportflow.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.col(colJobs).DeleteOne(ctx, bson.M{"_id": jobID.String()})
	if err != nil {
		return fmt.Errorf("reportflow/mongo: delete job: %w", err)
	}
	if res.DeletedCount == 0 {
		return reportflow.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs matching the given state, oldest RunAt first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	filter := bson.M{"state": string(state)}
	if opts.Queue != "" {
		filter["queue"] = opts.Queue
	}
	return s.findJobs(ctx, filter, pageOpts("run_at", 1, opts.Limit, opts.Offset))
}

// HeartbeatJob records that workerID still holds the job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	t := s.clock()
	res, err := s.col(colJobs).UpdateOne(ctx,
		bson.M{"_id": jobID.String()},
		bson.M{"$set": bson.M{"heartbeat_at": t, "worker_id": workerID.String(), "updated_at": t}},
	)
	if err != nil {
		return fmt.Errorf("reportflow/mongo: heartbeat job: %w", err)
	}
	if res.MatchedCount == 0 {
		return reportflow.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// the given threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	filter := bson.M{
		"state":        string(job.StateRunning),
		"heartbeat_at": bson.M{"$ne": nil, "$lt": s.clock().Add(-threshold)},
	}
	return s.findJobs(ctx, filter, pageOpts("heartbeat_at", 1, 0, 0))
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	filter := bson.M{}
	if opts.Queue != "" {
		filter["queue"] = opts.Queue
	}
	if opts.State != "" {
		filter["state"] = string(opts.State)
	}
	if opts.TenantID != "" {
		filter["tenant_id"] = opts.TenantID
	}
	n, err := s.col(colJobs).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("reportflow/mongo: count jobs: %w", err)
	}
	return n, nil
}

func (s *Store) findJobs(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]*job.Job, error) {
	cur, err := s.col(colJobs).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("reportflow/mongo: find jobs: %w", err)
	}
	var models []jobModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("reportflow/mongo: decode jobs: %w", err)
	}
	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
