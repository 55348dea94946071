package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/reportflow/keyspace"
)

// Redis publishes notifications on the tenant's notification channel,
// {env}:pubsub:t:{tenant}:notification.created.
type Redis struct {
	client redis.Cmdable
	keys   keyspace.Keys
}

// NewRedis creates a Redis emitter. The caller owns the client.
func NewRedis(client redis.Cmdable, keys keyspace.Keys) *Redis {
	return &Redis{client: client, keys: keys}
}

// Emit publishes n as JSON.
func (r *Redis) Emit(ctx context.Context, n *Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("reportflow/notify: marshal: %w", err)
	}
	if err := r.client.Publish(ctx, r.keys.NotificationChannel(n.TenantID), data).Err(); err != nil {
		return fmt.Errorf("reportflow/notify: publish: %w", err)
	}
	return nil
}
