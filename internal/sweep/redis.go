package sweep

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLeasePrefix = "teleconsult:sweep:"

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease implements Lease with SET NX PX so that several service
// instances can share one set of sweeps.
type RedisLease struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLease returns a lease storing keys under prefix. An empty prefix
// uses "teleconsult:sweep:".
func NewRedisLease(client redis.UniversalClient, prefix string) *RedisLease {
	if prefix == "" {
		prefix = defaultLeasePrefix
	}
	return &RedisLease{client: client, prefix: prefix}
}

// Acquire sets the lease key if absent.
func (l *RedisLease) Acquire(ctx context.Context, name string, ttl time.Duration) (Release, bool, error) {
	key := l.prefix + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}
	return release, true, nil
}
