package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

var _ domain.LockManager = (*LockManager)(nil)

// ErrLockLost is returned by Refresh when the lock expired or was taken over.
var ErrLockLost = errors.New("redis: lock lost")

// Both scripts act only when the key still holds the caller's token.
var (
	releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0`)
)

// LockManager hands out token-owned leases stored as keys with a TTL.
type LockManager struct {
	c *Client
}

// NewLockManager creates a LockManager.
func NewLockManager(c *Client) *LockManager { return &LockManager{c: c} }

// Acquire takes the lock or returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	token := uuid.NewString()
	k := lm.c.key("lock:" + key)
	ok, err := lm.c.rdb.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		holder, _ := lm.c.rdb.PTTL(ctx, k).Result()
		return nil, fmt.Errorf("%w: %s (expires in %s)", domain.ErrLockHeld, key, holder)
	}
	return &lease{rdb: lm.c.rdb, key: k, token: token}, nil
}

type lease struct {
	rdb   *redis.Client
	key   string
	token string

	once sync.Once
}

func (l *lease) Refresh(ctx context.Context, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, l.rdb, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis: refresh lock: %w", err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

func (l *lease) Release() {
	l.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
	})
}

// Hold keeps lease alive, refreshing every ttl/3, until ctx is done or the
// lease is lost. It returns ErrLockLost (or the refresh error) when the
// lock could not be kept.
func Hold(ctx context.Context, l domain.Lease, ttl time.Duration) error {
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := l.Refresh(ctx, ttl); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
		}
	}
}
