package cursor

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T, prefix string) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, prefix), srv
}

func TestRedisCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache, srv := newTestRedis(t, "cursor:")

	_, ok, err := cache.Get(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok, "missing cursor should report absent")

	require.NoError(t, cache.Set(ctx, "t1", "1-0"))
	require.NoError(t, cache.Set(ctx, "t1", "1-1"))

	val, ok, err := cache.Get(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1-1", val)

	stored, err := srv.Get("cursor:t1")
	require.NoError(t, err)
	assert.Equal(t, "1-1", stored, "key should carry the prefix")

	require.NoError(t, cache.Del(ctx, "t1"))
	_, ok, err = cache.Get(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCacheDelMissing(t *testing.T) {
	cache, _ := newTestRedis(t, "")
	assert.NoError(t, cache.Del(context.Background(), "never-set"))
}

func TestRedisCacheServerDown(t *testing.T) {
	cache, srv := newTestRedis(t, "")
	srv.Close()

	_, _, err := cache.Get(context.Background(), "t1")
	assert.Error(t, err)
}

func TestDialRedisBadURL(t *testing.T) {
	_, err := DialRedis(context.Background(), "http://nope", "")
	assert.Error(t, err)
}

func TestNoopCache(t *testing.T) {
	ctx := context.Background()
	var c Cache = Noop{}

	require.NoError(t, c.Set(ctx, "t1", "5-0"))
	_, ok, err := c.Get(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.Del(ctx, "t1"))
}
