package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

var _ domain.RateLimiter = (*RateLimiter)(nil)

// slidingWindowScript trims entries older than the window, then admits the
// request if fewer than limit remain. Returns {allowed, count}.
//
// KEYS[1] window key; ARGV: now (µs), window (µs), limit, member.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
    redis.call('ZADD', key, now, ARGV[4])
    redis.call('PEXPIRE', key, math.ceil(window / 1000))
    return {1, count + 1}
end
return {0, count}`)

// RateLimiter is a sliding-window limiter over sorted sets, shared by every
// replica pointed at the same Redis.
type RateLimiter struct {
	c   *Client
	now func() time.Time
}

// NewRateLimiter returns a limiter on c.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{c: c, now: time.Now}
}

// Allow counts one request against key and reports whether it fits in the
// limit for the trailing window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	res, err := slidingWindowScript.Run(ctx, rl.c.rdb,
		[]string{rl.c.key("ratelimit:" + key)},
		rl.now().UnixMicro(),
		window.Microseconds(),
		limit,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) < 2 {
		return false, fmt.Errorf("redis: rate limit %s: unexpected result length %d", key, len(res))
	}
	return res[0] == 1, nil
}
