package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/id"
	"github.com/xraph/reportflow/job"
)

// claimScript pops up to ARGV[2] members of a queue whose score is at or
// below ARGV[1]. Running range and removal in one script means two
// workers never claim the same job.
var claimScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
if #ids > 0 then
  redis.call('ZREM', KEYS[1], unpack(ids))
end
return ids
`)

// EnqueueJob stores the job as a Hash and, when claimable, adds it to its
// queue's Sorted Set scored by RunAt.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := s.keys.job(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("reportflow/redis: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return reportflow.ErrJobExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, s.keys.jobIDs(), jID)
	pipe.SAdd(ctx, s.keys.queues(), j.Queue)
	if claimable(j.State) {
		pipe.ZAdd(ctx, s.keys.queue(j.Queue), goredis.Z{Score: score(j.RunAt), Member: jID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("reportflow/redis: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs claims due jobs queue by queue. An empty queues list means
// every queue seen so far. Claimed jobs are marked running with a fresh
// heartbeat.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	if len(queues) == 0 {
		all, err := s.client.SMembers(ctx, s.keys.queues()).Result()
		if err != nil {
			return nil, fmt.Errorf("reportflow/redis: dequeue list queues: %w", err)
		}
		sort.Strings(all)
		queues = all
	}
	if limit <= 0 {
		limit = 1
	}

	now := s.clock()
	stamp := now.Format(time.RFC3339Nano)
	var jobs []*job.Job

	for _, q := range queues {
		remaining := limit - len(jobs)
		if remaining <= 0 {
			break
		}
		ids, err := claimScript.Run(ctx, s.client, []string{s.keys.queue(q)},
			strconv.FormatInt(now.UnixMilli(), 10), remaining).StringSlice()
		if err != nil {
			return jobs, fmt.Errorf("reportflow/redis: dequeue claim: %w", err)
		}

		for _, jID := range ids {
			key := s.keys.job(jID)
			if _, err := s.client.HSet(ctx, key,
				"state", string(job.StateRunning),
				"started_at", stamp,
				"heartbeat_at", stamp,
				"updated_at", stamp,
			).Result(); err != nil {
				return jobs, fmt.Errorf("reportflow/redis: dequeue update: %w", err)
			}
			j, err := s.getJobByKey(ctx, key)
			if err != nil {
				if errors.Is(err, reportflow.ErrJobNotFound) {
					continue
				}
				return jobs, err
			}
			jobs = append(jobs, j)
		}
	}

	sort.SliceStable(jobs, func(i, k int) bool { return jobs[i].RunAt.Before(jobs[k].RunAt) })
	return jobs, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, s.keys.job(jobID.String()))
}

// UpdateJob persists changes to an existing job and keeps the queue's
// Sorted Set in step with its state.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := s.keys.job(jID)

	prevQueue, err := s.client.HGet(ctx, key, "queue").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return reportflow.ErrJobNotFound
		}
		return fmt.Errorf("reportflow/redis: update job get queue: %w", err)
	}

	fields := jobToMap(j)
	fields["updated_at"] = s.clock().Format(time.RFC3339Nano)
	for _, f := range []string{"started_at", "completed_at", "heartbeat_at"} {
		if _, ok := fields[f]; !ok {
			fields[f] = ""
		}
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if prevQueue != j.Queue {
		pipe.ZRem(ctx, s.keys.queue(prevQueue), jID)
		pipe.SAdd(ctx, s.keys.queues(), j.Queue)
	}
	if claimable(j.State) {
		pipe.ZAdd(ctx, s.keys.queue(j.Queue), goredis.Z{Score: score(j.RunAt), Member: jID})
	} else {
		pipe.ZRem(ctx, s.keys.queue(j.Queue), jID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("reportflow/redis: update job: %w", err)
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := s.keys.job(jID)

	q, err := s.client.HGet(ctx, key, "queue").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return reportflow.ErrJobNotFound
		}
		return fmt.Errorf("reportflow/redis: delete job get queue: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, s.keys.jobIDs(), jID)
	pipe.ZRem(ctx, s.keys.queue(q), jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("reportflow/redis: delete job: %w", err)
	}
	return nil
}

// ListJobsByState returns jobs matching the given state, oldest RunAt
// first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	all, err := s.scanJobs(ctx, func(j *job.Job) bool {
		return j.State == state && (opts.Queue == "" || j.Queue == opts.Queue)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, k int) bool { return all[i].RunAt.Before(all[k].RunAt) })
	return window(all, opts.Limit, opts.Offset), nil
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	key := s.keys.job(jobID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("reportflow/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return reportflow.ErrJobNotFound
	}

	now := s.clock().Format(time.RFC3339Nano)
	if _, err := s.client.HSet(ctx, key,
		"heartbeat_at", now,
		"worker_id", workerID.String(),
		"updated_at", now,
	).Result(); err != nil {
		return fmt.Errorf("reportflow/redis: heartbeat job: %w", err)
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// the threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := s.clock().Add(-threshold)
	return s.scanJobs(ctx, func(j *job.Job) bool {
		return j.State == job.StateRunning && j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff)
	})
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	matched, err := s.scanJobs(ctx, func(j *job.Job) bool {
		if opts.State != "" && j.State != opts.State {
			return false
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			return false
		}
		return opts.TenantID == "" || j.TenantID == opts.TenantID
	})
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

// scanJobs loads every tracked job and keeps those match accepts. Jobs
// deleted between the SMEMBERS and the HGETALL are skipped.
func (s *Store) scanJobs(ctx context.Context, match func(*job.Job) bool) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, s.keys.jobIDs()).Result()
	if err != nil {
		return nil, fmt.Errorf("reportflow/redis: scan jobs: %w", err)
	}
	out := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, err := s.getJobByKey(ctx, s.keys.job(jID))
		if err != nil {
			if errors.Is(err, reportflow.ErrJobNotFound) {
				continue
			}
			return nil, err
		}
		if match(j) {
			out = append(out, j)
		}
	}
	return out, nil
}

// ── helpers ──

func claimable(st job.State) bool {
	return st == job.StatePending || st == job.StateRetrying
}

func score(runAt time.Time) float64 { return float64(runAt.UnixMilli()) }

func window[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func jobToMap(j *job.Job) map[string]any {
	m := map[string]any{
		"id":           j.ID.String(),
		"queue":        j.Queue,
		"run_id":       j.RunID.String(),
		"tenant_id":    j.TenantID,
		"payload":      string(j.Payload),
		"state":        string(j.State),
		"attempts":     strconv.Itoa(j.Attempts),
		"max_attempts": strconv.Itoa(j.MaxAttempts),
		"last_error":   j.LastError,
		"worker_id":    j.WorkerID.String(),
		"run_at":       j.RunAt.UTC().Format(time.RFC3339Nano),
		"timeout":      strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":   j.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":   j.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	if j.HeartbeatAt != nil {
		m["heartbeat_at"] = j.HeartbeatAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("reportflow/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, reportflow.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("reportflow/redis: parse job id: %w", err)
	}
	runID, err := id.ParseOptional(m["run_id"])
	if err != nil {
		return nil, fmt.Errorf("reportflow/redis: parse run id: %w", err)
	}

	attempts, _ := strconv.Atoi(m["attempts"])           //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])    //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: reportflow.Entity{
			CreatedAt: parseTime(m["created_at"]),
			UpdatedAt: parseTime(m["updated_at"]),
		},
		ID:          jID,
		Queue:       m["queue"],
		RunID:       runID,
		TenantID:    m["tenant_id"],
		Payload:     []byte(m["payload"]),
		State:       job.State(m["state"]),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		LastError:   m["last_error"],
		RunAt:       parseTime(m["run_at"]),
		Timeout:     time.Duration(timeout),
		StartedAt:   parseOptTime(m["started_at"]),
		CompletedAt: parseOptTime(m["completed_at"]),
		HeartbeatAt: parseOptTime(m["heartbeat_at"]),
	}
	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	return j, nil
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
	return t
}

func parseOptTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t := parseTime(v)
	return &t
}
