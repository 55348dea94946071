package postgres

import (
	"context"
	"fmt"
	"time"
)

// AcquireLock inserts the lock row, or takes over a row whose expiry has
// passed. A live row belonging to anyone makes the upsert a no-op.
func (s *Store) AcquireLock(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO reportflow_locks (key, holder, expires_at)
		VALUES ($1, $2, NOW() + $3::bigint * INTERVAL '1 millisecond')
		ON CONFLICT (key) DO UPDATE
			SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
			WHERE reportflow_locks.expires_at <= NOW()`,
		key, holder, ttl.Milliseconds(),
	)
	if err != nil {
		return false, fmt.Errorf("reportflow/postgres: acquire lock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseLock deletes the lock row if holder still owns it.
func (s *Store) ReleaseLock(ctx context.Context, key, holder string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM reportflow_locks WHERE key = $1 AND holder = $2`,
		key, holder,
	); err != nil {
		return fmt.Errorf("reportflow/postgres: release lock: %w", err)
	}
	return nil
}
