package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

var slidingWindow = redis.NewScript(slidingWindowLua)

var _ domain.RateLimiter = (*RateLimiter)(nil)

// RateLimiter counts requests per bucket over a sliding window kept in a
// sorted set under "<prefix>:ratelimit:<bucket>". The HTTP layer buckets by
// wallet for trades and by client IP otherwise.
type RateLimiter struct {
	c *Client
}

func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{c: c}
}

// Allow records the request and reports true while the bucket is under
// limit. Rejected requests are not recorded. A non-positive limit disables
// limiting.
func (rl *RateLimiter) Allow(ctx context.Context, bucket string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	res, err := slidingWindow.Run(ctx, rl.c.Underlying(),
		[]string{rl.c.Key("ratelimit", bucket)},
		time.Now().UnixMicro(), window.Microseconds(), limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", bucket, err)
	}
	if len(res) != 2 {
		return false, fmt.Errorf("redis: rate limit %s: script returned %d values", bucket, len(res))
	}
	return res[0] == 1, nil
}
