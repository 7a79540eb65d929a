package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// RateLimiter counts API requests per client in a Redis sorted set, one
// member per request scored by its arrival time in microseconds. Every
// gateway process sharing the instance sees the same window.
type RateLimiter struct {
	rdb    *redis.Client
	script *redis.Script
	now    func() time.Time
}

// NewRateLimiter returns a limiter on c.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:    c.Underlying(),
		script: redis.NewScript(slidingWindowLua),
		now:    time.Now,
	}
}

// windowVerdict is the script's reply: whether the request was admitted and
// how many requests the window holds afterwards.
type windowVerdict struct {
	admitted bool
	inWindow int64
}

func parseVerdict(reply []int64) (windowVerdict, error) {
	if len(reply) != 2 {
		return windowVerdict{}, fmt.Errorf("sliding window reply has %d values, want 2", len(reply))
	}
	return windowVerdict{admitted: reply[0] == 1, inWindow: reply[1]}, nil
}

// Allow admits one request for key when fewer than limit requests arrived in
// the trailing window. Admitted requests are recorded.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return false, fmt.Errorf("redis: rate limit %s: limit and window must be positive", key)
	}
	reply, err := rl.script.Run(ctx, rl.rdb,
		[]string{"ratelimit:" + key},
		rl.now().UnixMicro(), window.Microseconds(), limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	v, err := parseVerdict(reply)
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	return v.admitted, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
