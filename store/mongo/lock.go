package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// AcquireLock upserts the lock document keyed by key. The filter only
// matches an expired lock; when a live one exists the upsert's insert
// collides on _id and the lock is denied.
func (s *Store) AcquireLock(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	t := s.clock()
	_, err := s.col(colLocks).UpdateOne(ctx,
		bson.M{"_id": key, "expires_at": bson.M{"$lte": t}},
		bson.M{"$set": bson.M{"holder": holder, "expires_at": t.Add(ttl)}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("reportflow/mongo: acquire lock: %w", err)
	}
	return true, nil
}

// ReleaseLock deletes the lock document if holder still owns it.
func (s *Store) ReleaseLock(ctx context.Context, key, holder string) error {
	if _, err := s.col(colLocks).DeleteOne(ctx, bson.M{"_id": key, "holder": holder}); err != nil {
		return fmt.Errorf("reportflow/mongo: release lock: %w", err)
	}
	return nil
}
