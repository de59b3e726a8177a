package cache

import (
	"context"
	"encoding/gob"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-brasil/mapper-runtime/internal/config"
	"github.com/joao-brasil/mapper-runtime/internal/metrics"
)

func key(parts ...any) Key {
	var k Key
	k.UpdateAll(parts...)
	return k
}

func TestFIFOEvictsFirstInserted(t *testing.T) {
	for _, capacity := range []int{1, 2, 5, 16} {
		t.Run(fmt.Sprintf("capacity=%d", capacity), func(t *testing.T) {
			c := NewFIFO(NewPerpetual(t.Name()))
			c.SetCapacity(capacity)

			for i := 0; i <= capacity; i++ {
				c.Put(key(i), i)
			}

			assert.Equal(t, capacity, c.Size())
			_, ok := c.Get(key(0))
			assert.False(t, ok, "first key evicted")
			for i := 1; i <= capacity; i++ {
				v, ok := c.Get(key(i))
				require.True(t, ok)
				assert.Equal(t, i, v)
			}
		})
	}
}

func TestFIFOGetDoesNotReorder(t *testing.T) {
	c := NewFIFO(NewPerpetual("fifo"))
	c.SetCapacity(2)

	c.Put(key("a"), 1)
	c.Put(key("b"), 2)
	c.Get(key("a"))
	c.Put(key("c"), 3)

	_, ok := c.Get(key("a"))
	assert.False(t, ok)
	_, ok = c.Get(key("b"))
	assert.True(t, ok)
}

func TestLRUTouchedKeySurvives(t *testing.T) {
	c := NewLRU(NewPerpetual("lru-scenario"))
	c.SetCapacity(2)

	c.Put(key("a"), "A")
	c.Put(key("b"), "B")
	_, ok := c.Get(key("a"))
	require.True(t, ok)
	c.Put(key("c"), "C")

	_, ok = c.Get(key("b"))
	assert.False(t, ok, "b is least recently used")
	v, ok := c.Get(key("a"))
	assert.True(t, ok)
	assert.Equal(t, "A", v)
	_, ok = c.Get(key("c"))
	assert.True(t, ok)
	assert.Equal(t, 2, c.Size())
}

func TestLRUEvictsUntouchedFirst(t *testing.T) {
	const n = 4
	c := NewLRU(NewPerpetual("lru-property"))
	c.SetCapacity(n)

	for i := 0; i < n; i++ {
		c.Put(key("old", i), i)
	}
	c.Get(key("old", 0))

	for i := 0; i < n-1; i++ {
		c.Put(key("new", i), i)
	}

	_, ok := c.Get(key("old", 0))
	assert.True(t, ok, "touched key is resident")
	for i := 1; i < n; i++ {
		_, ok := c.Get(key("old", i))
		assert.False(t, ok, "old %d evicted", i)
	}
}

func TestLRUMissDoesNotTrack(t *testing.T) {
	c := NewLRU(NewPerpetual("lru-miss"))
	c.SetCapacity(1)

	c.Get(key("ghost"))
	c.Put(key("a"), 1)

	v, ok := c.Get(key("a"))
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestLRUSetCapacityKeepsTracking(t *testing.T) {
	c := NewLRU(NewPerpetual("lru-resize"))
	c.SetCapacity(3)
	c.Put(key("a"), 1)
	c.Put(key("b"), 2)
	c.Put(key("c"), 3)
	c.Get(key("a"))

	c.SetCapacity(2)
	assert.Equal(t, 2, c.Size())
	_, ok := c.Get(key("b"))
	assert.False(t, ok, "b evicted on shrink")

	c.SetCapacity(1)
	c.Put(key("d"), 4)
	assert.Equal(t, 1, c.Size(), "entries put before resizing stay evictable")
	v, ok := c.Get(key("d"))
	require.True(t, ok)
	assert.Equal(t, 4, v)
}

func TestEvictionMetrics(t *testing.T) {
	c := NewLRU(NewPerpetual("lru-metrics"))
	c.SetCapacity(1)
	c.Put(key(1), 1)
	c.Put(key(2), 2)
	c.Put(key(3), 3)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CacheEvictions.WithLabelValues("lru-metrics", "lru")))
}

func TestClearResetsTracking(t *testing.T) {
	fifo := NewFIFO(NewPerpetual("fifo-clear"))
	fifo.SetCapacity(2)
	lru := NewLRU(NewPerpetual("lru-clear"))
	lru.SetCapacity(2)

	for _, c := range []Cache{fifo, lru} {
		c.Put(key("a"), 1)
		c.Put(key("b"), 2)
		c.Clear()
		assert.Zero(t, c.Size())

		c.Put(key("c"), 3)
		c.Put(key("d"), 4)
		assert.Equal(t, 2, c.Size(), "%T keeps both entries after clear", c)
	}
}

func TestRemovePassesThrough(t *testing.T) {
	c := NewLRU(NewPerpetual("remove"))
	c.Put(key("a"), 1)
	c.Remove(key("a"))
	_, ok := c.Get(key("a"))
	assert.False(t, ok)
	assert.Zero(t, c.Size())
}

func TestSynchronizedConcurrentUse(t *testing.T) {
	c := NewSynchronized(NewLRU(NewPerpetual("sync")))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.Put(key(w, i), i)
				c.Get(key(w, i/2))
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 800, c.Size())
}

type cachedRow struct {
	ID   int64
	Name string
}

func init() {
	gob.Register(cachedRow{})
}

func TestSerializedReturnsCopies(t *testing.T) {
	c := NewSerialized(NewPerpetual("serialized"))
	c.Put(key("rows"), []any{cachedRow{ID: 1, Name: "ada"}})

	v, ok := c.Get(key("rows"))
	require.True(t, ok)
	rows := v.([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, cachedRow{ID: 1, Name: "ada"}, rows[0])

	rows[0] = cachedRow{ID: 2}

	v, ok = c.Get(key("rows"))
	require.True(t, ok)
	assert.Equal(t, cachedRow{ID: 1, Name: "ada"}, v.([]any)[0])
}

func TestSerializedNil(t *testing.T) {
	c := NewSerialized(NewPerpetual("serialized-nil"))
	c.Put(key("none"), nil)
	v, ok := c.Get(key("none"))
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestLoggingHitRatio(t *testing.T) {
	c := NewLogging(NewPerpetual("logging"))
	c.Put(key("a"), 1)
	c.Get(key("a"))
	c.Get(key("b"))

	assert.InDelta(t, 0.5, c.HitRatio(), 0.0001)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheRequests.WithLabelValues("logging", "hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheRequests.WithLabelValues("logging", "miss")))
}

func TestKey(t *testing.T) {
	a := key("ns.select", 0, -1, "SELECT * FROM t WHERE id = ?", int64(1), "env")
	b := key("ns.select", 0, -1, "SELECT * FROM t WHERE id = ?", int64(1), "env")
	assert.Equal(t, a, b)
	assert.Equal(t, a.Hash(), b.Hash())
	assert.Equal(t, a.String(), b.String())
	assert.Equal(t, 6, a.Count())

	assert.NotEqual(t, key(1, 2), key(2, 1), "order matters")
	assert.NotEqual(t, key(int64(1)), key("1"), "types matter")
	assert.NotEqual(t, key("ab", "c"), key("a", "bc"), "components are delimited")
	assert.NotEqual(t, key(nil), NullKey)
	assert.Zero(t, NullKey.Count())

	m := map[Key]int{a: 1}
	assert.Equal(t, 1, m[b])
}

func TestKeyFollowsPointers(t *testing.T) {
	a, b := "alice", "alice"
	assert.Equal(t, key("users.byName", &a), key("users.byName", &b))
	assert.Equal(t, key("users.byName", "alice"), key("users.byName", &a))

	id := int64(7)
	pid := &id
	assert.Equal(t, key(int64(7)), key(&pid))

	other := "bob"
	assert.NotEqual(t, key(&a), key(&other))

	var nilName *string
	assert.Equal(t, key(nil), key(nilName))

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	at2 := at
	assert.Equal(t, key(at), key(&at2))
}

func TestBuildChain(t *testing.T) {
	c := Build(config.CacheConfig{Eviction: "fifo", Size: 2, Serialize: true}, NewPerpetual("built"))
	assert.IsType(t, &Synchronized{}, c)
	assert.Equal(t, "built", c.ID())

	c.Put(key(1), "one")
	c.Put(key(2), "two")
	c.Put(key(3), "three")

	_, ok := c.Get(key(1))
	assert.False(t, ok)
	v, ok := c.Get(key(3))
	require.True(t, ok)
	assert.Equal(t, "three", v)

	off := false
	c = Build(config.CacheConfig{Synchronized: &off}, NewPerpetual("unsynced"))
	assert.IsType(t, &Logging{}, c)
}

// fakeRedis implements the hash commands used by the Redis cache.
type fakeRedis struct {
	redis.UniversalClient

	mu     sync.Mutex
	hashes map[string]map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{hashes: make(map[string]map[string]string)}
}

func (f *fakeRedis) HSet(ctx context.Context, key string, values ...any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		h = make(map[string]string)
		f.hashes[key] = h
	}
	var added int64
	for i := 0; i+1 < len(values); i += 2 {
		field := values[i].(string)
		var val string
		switch v := values[i+1].(type) {
		case []byte:
			val = string(v)
		case string:
			val = v
		}
		if _, exists := h[field]; !exists {
			added++
		}
		h[field] = val
	}
	return redis.NewIntResult(added, nil)
}

func (f *fakeRedis) HGet(ctx context.Context, key, field string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.hashes[key][field]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, field := range fields {
		if _, ok := f.hashes[key][field]; ok {
			delete(f.hashes[key], field)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.hashes[k]; ok {
			delete(f.hashes, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) HLen(ctx context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return redis.NewIntResult(int64(len(f.hashes[key])), nil)
}

func TestRedisCacheSharedAcrossChains(t *testing.T) {
	client := newFakeRedis()
	cfg := &config.Config{
		Cache: config.CacheConfig{Backend: "redis", Eviction: "lru", Size: 10, Serialize: true},
		Redis: config.RedisConfig{KeyPrefix: "test:cache"},
	}
	f, err := NewFactory(cfg, client)
	require.NoError(t, err)

	writer := f.New("users")
	reader := f.New("users")

	writer.Put(key("u", 1), []any{cachedRow{ID: 1, Name: "ada"}})
	assert.Contains(t, client.hashes, "test:cache:users")

	v, ok := reader.Get(key("u", 1))
	require.True(t, ok, "a second chain sees the shared entry")
	assert.Equal(t, []any{cachedRow{ID: 1, Name: "ada"}}, v)
	assert.Equal(t, 1, reader.Size())

	_, ok = reader.Get(key("u", 2))
	assert.False(t, ok)

	writer.Remove(key("u", 1))
	assert.Zero(t, reader.Size())

	writer.Put(key("u", 3), []any{"x"})
	writer.Clear()
	assert.Zero(t, reader.Size())
}

func TestRedisRejectsNonBytes(t *testing.T) {
	c := NewRedis(newFakeRedis(), "p", "raw")
	c.Put(key("a"), 42)
	assert.Zero(t, c.Size())

	c.Put(key("b"), []byte("v"))
	v, ok := c.Get(key("b"))
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)
}

func TestNewFactoryRequiresRedisClient(t *testing.T) {
	_, err := NewFactory(&config.Config{Cache: config.CacheConfig{Backend: "redis"}}, nil)
	assert.ErrorIs(t, err, ErrNoRedisClient)

	f, err := NewFactory(&config.Config{Cache: config.CacheConfig{Backend: "memory"}}, nil)
	require.NoError(t, err)
	c := f.New("mem")
	c.Put(key("a"), 1)
	assert.Equal(t, 1, c.Size())
}
