package sweep

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLeaseExpires(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.January, 2, 15, 0, 0, 0, time.UTC)
	lease := NewLocalLease(func() time.Time { return now })
	ctx := context.Background()

	release, ok, err := lease.Acquire(ctx, "consultations", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = lease.Acquire(ctx, "consultations", time.Minute)
	assert.False(t, ok)
	_, ok, _ = lease.Acquire(ctx, "reminders", time.Minute)
	assert.True(t, ok, "leases are per name")

	now = now.Add(time.Minute)
	releaseSecond, ok, _ := lease.Acquire(ctx, "consultations", time.Minute)
	require.True(t, ok, "expired lease can be taken over")

	require.NoError(t, release(ctx))
	_, ok, _ = lease.Acquire(ctx, "consultations", time.Minute)
	assert.False(t, ok, "a stale release must not drop the new holder")

	require.NoError(t, releaseSecond(ctx))
	_, ok, _ = lease.Acquire(ctx, "consultations", time.Minute)
	assert.True(t, ok)
}

func TestRedisLease(t *testing.T) {
	addr := os.Getenv("TELECONSULT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TELECONSULT_TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())

	prefix := "teleconsult-test:" + t.Name() + ":"
	first := NewRedisLease(client, prefix)
	second := NewRedisLease(client, prefix)
	t.Cleanup(func() { client.Del(context.Background(), prefix+"notifications") })

	release, ok, err := first.Acquire(ctx, "notifications", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = second.Acquire(ctx, "notifications", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, release(ctx))
	releaseSecond, ok, err := second.Acquire(ctx, "notifications", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, release(ctx), "releasing twice is harmless")
	_, ok, err = first.Acquire(ctx, "notifications", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "stale release keeps the current holder")
	require.NoError(t, releaseSecond(ctx))
}
