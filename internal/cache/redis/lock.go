package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

// releaseIfOwner deletes KEYS[1] only while it still holds ARGV[1], so a
// holder whose lease expired cannot drop its successor's lock.
var releaseIfOwner = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0`)

const releaseTimeout = 5 * time.Second

var _ domain.LockManager = (*LockManager)(nil)

// LockManager hands out leases on "<prefix>:lock:<key>". The market service
// holds "market:<id>" for the length of one engine operation plus its save.
type LockManager struct {
	c *Client
}

func NewLockManager(c *Client) *LockManager {
	return &LockManager{c: c}
}

// Acquire takes the lease for ttl or fails with domain.ErrLockHeld. The
// returned release is idempotent and runs on a fresh context, since the
// caller's request context is often done by the time it fires.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	name, owner := lm.c.Key("lock", key), uuid.NewString()

	won, err := lm.c.Underlying().SetNX(ctx, name, owner, ttl).Result()
	switch {
	case err != nil:
		return nil, fmt.Errorf("redis: lock %s: %w", key, err)
	case !won:
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = releaseIfOwner.Run(rctx, lm.c.Underlying(), []string{name}, owner).Err()
		})
	}, nil
}
