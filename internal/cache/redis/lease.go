package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

// releaseLua deletes a lease only while it still carries the caller's token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LeaseManager implements domain.LeaseManager with SET NX PX. Several
// depthwatch processes watching the same symbol use it so only one of them
// alerts per cooldown.
type LeaseManager struct {
	rdb     *redis.Client
	release *redis.Script
}

// NewLeaseManager creates a LeaseManager backed by the given Client.
func NewLeaseManager(c *Client) *LeaseManager {
	return &LeaseManager{
		rdb:     c.Underlying(),
		release: redis.NewScript(releaseLua),
	}
}

func leaseKey(key string) string {
	return "lease:" + key
}

// Acquire takes the lease for key. It returns domain.ErrLeaseHeld when another
// owner holds it. The release function may be called more than once.
func (lm *LeaseManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("redis: lease %s: ttl must be positive", key)
	}
	token := uuid.NewString()
	lk := leaseKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLeaseHeld
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.release.Run(releaseCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return release, nil
}

var _ domain.LeaseManager = (*LeaseManager)(nil)
