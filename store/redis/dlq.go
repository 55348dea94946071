package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/reportflow"
	"github.com/xraph/reportflow/dlq"
	"github.com/xraph/reportflow/id"
)

// PushDLQ stores an entry as a Hash and indexes it by FailedAt.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.keys.dlq(eID), dlqToMap(entry))
	pipe.ZAdd(ctx, s.keys.dlqIndex(), goredis.Z{Score: score(entry.FailedAt), Member: eID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("reportflow/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries newest first. Tenant filtering happens after the
// index read, so Offset and Limit apply to the filtered list.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.ZRevRange(ctx, s.keys.dlqIndex(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reportflow/redis: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		e, err := s.getDLQByKey(ctx, s.keys.dlq(eID))
		if err != nil {
			if errors.Is(err, reportflow.ErrDLQNotFound) {
				continue
			}
			return nil, err
		}
		if opts.TenantID != "" && e.TenantID != opts.TenantID {
			continue
		}
		entries = append(entries, e)
	}
	return window(entries, opts.Limit, opts.Offset), nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	return s.getDLQByKey(ctx, s.keys.dlq(entryID.String()))
}

func (s *Store) getDLQByKey(ctx context.Context, key string) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("reportflow/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, reportflow.ErrDLQNotFound
	}
	return mapToDLQ(vals)
}

// ReplayDLQ stamps ReplayedAt on an entry.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	key := s.keys.dlq(entryID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("reportflow/redis: replay dlq exists: %w", err)
	}
	if exists == 0 {
		return reportflow.ErrDLQNotFound
	}
	if err := s.client.HSet(ctx, key, "replayed_at", s.clock().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("reportflow/redis: replay dlq: %w", err)
	}
	return nil
}

// PurgeDLQ removes entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	maxScore := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	ids, err := s.client.ZRangeByScore(ctx, s.keys.dlqIndex(), &goredis.ZRangeBy{Min: "-inf", Max: maxScore}).Result()
	if err != nil {
		return 0, fmt.Errorf("reportflow/redis: purge dlq range: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	for _, eID := range ids {
		pipe.Del(ctx, s.keys.dlq(eID))
	}
	members := make([]any, len(ids))
	for i, eID := range ids {
		members[i] = eID
	}
	pipe.ZRem(ctx, s.keys.dlqIndex(), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("reportflow/redis: purge dlq: %w", err)
	}
	return int64(len(ids)), nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, s.keys.dlqIndex()).Result()
	if err != nil {
		return 0, fmt.Errorf("reportflow/redis: count dlq: %w", err)
	}
	return n, nil
}

// ── helpers ──

func dlqToMap(e *dlq.Entry) map[string]any {
	m := map[string]any{
		"id":           e.ID.String(),
		"job_id":       e.JobID.String(),
		"run_id":       e.RunID.String(),
		"tenant_id":    e.TenantID,
		"queue":        e.Queue,
		"payload":      string(e.Payload),
		"error":        e.Error,
		"attempts":     strconv.Itoa(e.Attempts),
		"max_attempts": strconv.Itoa(e.MaxAttempts),
		"failed_at":    e.FailedAt.UTC().Format(time.RFC3339Nano),
		"created_at":   e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.ReplayedAt != nil {
		m["replayed_at"] = e.ReplayedAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseDLQID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("reportflow/redis: parse dlq id: %w", err)
	}
	jobID, err := id.ParseOptional(m["job_id"])
	if err != nil {
		return nil, fmt.Errorf("reportflow/redis: parse dlq job id: %w", err)
	}
	runID, err := id.ParseOptional(m["run_id"])
	if err != nil {
		return nil, fmt.Errorf("reportflow/redis: parse dlq run id: %w", err)
	}

	attempts, _ := strconv.Atoi(m["attempts"])        //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"]) //nolint:errcheck // best-effort parse from trusted Redis data

	return &dlq.Entry{
		ID:          eID,
		JobID:       jobID,
		RunID:       runID,
		TenantID:    m["tenant_id"],
		Queue:       m["queue"],
		Payload:     []byte(m["payload"]),
		Error:       m["error"],
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		FailedAt:    parseTime(m["failed_at"]),
		ReplayedAt:  parseOptTime(m["replayed_at"]),
		CreatedAt:   parseTime(m["created_at"]),
	}, nil
}
