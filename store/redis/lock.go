package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes KEYS[1] only while it still holds ARGV[1].
var releaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// AcquireLock sets the lock key with SET NX PX. Redis expires the key
// itself, so an abandoned lock frees after ttl.
func (s *Store) AcquireLock(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.keys.lock(key), holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reportflow/redis: acquire lock: %w", err)
	}
	return ok, nil
}

// ReleaseLock deletes the lock key if holder still owns it.
func (s *Store) ReleaseLock(ctx context.Context, key, holder string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.keys.lock(key)}, holder).Err(); err != nil {
		return fmt.Errorf("reportflow/redis: release lock: %w", err)
	}
	return nil
}
