package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedis(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisFromClient(rdb, "cg"), mr
}

func clients(t *testing.T) map[string]Client {
	rc, _ := newMiniRedis(t)
	return map[string]Client{"memory": NewMemory("cg"), "redis": rc}
}

func TestClient_SetGetTakeDelete(t *testing.T) {
	ctx := context.Background()
	for name, c := range clients(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
			v, err := c.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "v", v)

			v, err = c.Take(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "v", v)

			_, err = c.Take(ctx, "k")
			assert.True(t, IsNotFound(err))
			_, err = c.Get(ctx, "k")
			assert.True(t, IsNotFound(err))

			require.NoError(t, c.Set(ctx, "d", "x", 0))
			require.NoError(t, c.Delete(ctx, "d"))
			_, err = c.Get(ctx, "d")
			assert.True(t, IsNotFound(err))
			require.NoError(t, c.Ping(ctx))
		})
	}
}

func TestClient_TakeIsExclusive(t *testing.T) {
	ctx := context.Background()
	for name, c := range clients(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Set(ctx, "once", "v", time.Minute))
			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := c.Take(ctx, "once"); err == nil {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins.Load())
		})
	}
}

func TestRedis_TTLAndPrefix(t *testing.T) {
	ctx := context.Background()
	c, mr := newMiniRedis(t)
	require.NoError(t, c.Set(ctx, "ttl", "v", 10*time.Second))
	assert.True(t, mr.Exists("cg:ttl"))

	mr.FastForward(11 * time.Second)
	_, err := c.Get(ctx, "ttl")
	assert.True(t, IsNotFound(err))
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory("")
	require.NoError(t, c.Set(ctx, "k", "v", 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)
	_, err := c.Get(ctx, "k")
	assert.True(t, IsNotFound(err))

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "memory", st.Driver)
	assert.Equal(t, int64(1), st.Misses)
}
