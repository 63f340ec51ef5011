package redis

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

//go:embed scripts/unlock.lua
var unlockLua string

const releaseTimeout = 5 * time.Second

// LockManager hands out expiring Redis locks. The safety governor holds
// lock:emergency_shutdown while it unwinds positions so that a second bot on
// the same account does not close them twice.
type LockManager struct {
	rdb    *redis.Client
	unlock *redis.Script
	owner  string
}

func NewLockManager(c *Client) *LockManager {
	host, _ := os.Hostname()
	return &LockManager{
		rdb:    c.Underlying(),
		unlock: redis.NewScript(unlockLua),
		owner:  fmt.Sprintf("%s:%d", host, os.Getpid()),
	}
}

func lockKey(key string) string { return "lock:" + key }

// Acquire sets the lock if nobody holds it and returns a release func that
// is safe to call more than once. The lock value names the holding process.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	k := lockKey(key)
	token := lm.owner + ":" + uuid.NewString()

	ok, err := lm.rdb.SetNX(ctx, k, token, ttl).Result()
	switch {
	case err != nil:
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	case !ok:
		return nil, domain.ErrLockHeld
	}

	// Release survives cancellation of the acquiring context.
	base := context.WithoutCancel(ctx)
	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(base, releaseTimeout)
			defer cancel()
			_ = lm.unlock.Run(rctx, lm.rdb, []string{k}, token).Err()
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
