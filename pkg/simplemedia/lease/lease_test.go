package lease

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates an in-memory Redis server for testing
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestNoop(t *testing.T) {
	var l Lease = Noop{}
	ok, err := l.Acquire(context.Background())
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, l.Release(context.Background()))
}

func TestRedis_SingleHolder(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()

	a := NewRedis(client, "", time.Minute)
	b := NewRedis(client, "", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second owner must not get a held lease")

	t.Run("holder extends", func(t *testing.T) {
		mr.FastForward(30 * time.Second)
		ok, err := a.Acquire(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, a.Owner(), mustGet(t, mr, DefaultKey))
		assert.Greater(t, mr.TTL(DefaultKey), 45*time.Second)
	})

	t.Run("non-holder release is ignored", func(t *testing.T) {
		require.NoError(t, b.Release(ctx))
		assert.Equal(t, a.Owner(), mustGet(t, mr, DefaultKey))
	})

	t.Run("handover after release", func(t *testing.T) {
		require.NoError(t, a.Release(ctx))
		ok, err := b.Acquire(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestRedis_Expiry(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()

	a := NewRedis(client, "lease:test", 10*time.Second)
	b := NewRedis(client, "lease:test", 10*time.Second)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(11 * time.Second)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease can be taken over")

	ok, err = a.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_Unavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	_, err = NewRedis(client, "", time.Second).Acquire(context.Background())
	assert.Error(t, err)
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
