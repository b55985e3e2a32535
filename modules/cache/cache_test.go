package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Requires Redis on localhost:6379; tests skip otherwise.
const testRedisAddr = "localhost:6379"

func setupTestCache(t *testing.T, prefix string) *Cache {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}

	cleanupKeys(ctx, client, prefix+"*")
	t.Cleanup(func() {
		cleanupKeys(ctx, client, prefix+"*")
		_ = client.Close()
	})

	return New(client, prefix, time.Minute)
}

func cleanupKeys(ctx context.Context, client *redis.Client, pattern string) {
	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return
		}
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

type summary struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"by_status"`
}

func TestCache_SetGetDelete(t *testing.T) {
	c := setupTestCache(t, "test:cache:")
	ctx := context.Background()

	var got summary
	found, err := c.Get(ctx, "stats", &got)
	require.NoError(t, err)
	assert.False(t, found)

	want := summary{Total: 3, ByStatus: map[string]int64{"pending": 3}}
	require.NoError(t, c.Set(ctx, "stats", want))

	found, err = c.Get(ctx, "stats", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, got)

	require.NoError(t, c.Delete(ctx, "stats"))
	found, err = c.Get(ctx, "stats", &got)
	require.NoError(t, err)
	assert.False(t, found)

	st := c.Stats()
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(2), st.Misses)
	assert.Equal(t, uint64(1), st.Sets)
	assert.Equal(t, uint64(1), st.Deletes)
}

func TestCache_SetWithTTL(t *testing.T) {
	c := setupTestCache(t, "test:ttl:")
	ctx := context.Background()

	require.NoError(t, c.SetWithTTL(ctx, "short", 1, 50*time.Millisecond))
	time.Sleep(150 * time.Millisecond)

	var v int
	found, err := c.Get(ctx, "short", &v)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_UnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	defer client.Close()
	c := New(client, "test:", time.Minute)

	var v int
	found, err := c.Get(context.Background(), "k", &v)
	assert.Error(t, err)
	assert.False(t, found)
	assert.Equal(t, uint64(1), c.Stats().Errors)
}

func TestCache_DeleteNoKeys(t *testing.T) {
	c := New(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "test:", time.Minute)
	assert.NoError(t, c.Delete(context.Background()))
}
