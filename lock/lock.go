// Package lock provides short-lived, TTL-bound leases over a shared store.
//
// Acquisition is a single atomic set-if-absent with expiry. A denied
// acquisition is a normal outcome meaning another holder is active, never
// an error, and callers skip the work rather than wait. Expiry bounds the
// damage of a holder that dies without releasing.
package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Store defines the persistence contract for lock entries.
type Store interface {
	// AcquireLock sets key to holder with the given TTL if the key is
	// absent or expired. It reports whether the lock was granted.
	AcquireLock(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)

	// ReleaseLock deletes key if it is still held by holder. Releasing a
	// lock that expired or changed hands is a no-op.
	ReleaseLock(ctx context.Context, key, holder string) error
}

// Coordinator hands out leases. Every lease carries a fresh holder token
// so a late release never frees a lock that was re-acquired by someone
// else after expiry.
type Coordinator struct {
	store  Store
	logger *slog.Logger
}

// NewCoordinator returns a Coordinator over store.
func NewCoordinator(store Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: store, logger: logger}
}

// TryAcquire attempts key once. It returns a nil Lease and a nil error
// when another holder is active.
func (c *Coordinator) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token := uuid.NewString()
	ok, err := c.store.AcquireLock(ctx, key, token, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil //nolint:nilnil // nil lease is the contention outcome
	}
	return &Lease{
		Key:        key,
		Token:      token,
		AcquiredAt: time.Now().UTC(),
		TTL:        ttl,
		c:          c,
	}, nil
}

// Lease is a granted lock.
type Lease struct {
	Key        string
	Token      string
	AcquiredAt time.Time
	TTL        time.Duration

	c *Coordinator
}

// Release frees the lease. Failures are logged, not returned: the TTL
// bounds how long a stuck entry survives. Release on a nil Lease is a
// no-op so callers can defer it unconditionally.
func (l *Lease) Release(ctx context.Context) {
	if l == nil || l.c == nil {
		return
	}
	// A cancelled caller context must not prevent cleanup.
	ctx = context.WithoutCancel(ctx)
	if err := l.c.store.ReleaseLock(ctx, l.Key, l.Token); err != nil {
		l.c.logger.Warn("lock release failed",
			slog.String("key", l.Key),
			slog.String("error", err.Error()),
		)
	}
}
