package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joao-brasil/mapper-runtime/internal/config"
	"github.com/joao-brasil/mapper-runtime/internal/metrics"
)

// NewRedisClient connects to Redis and verifies the connection with a ping.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		metrics.RedisOperations.WithLabelValues("ping", "error").Inc()
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	metrics.RedisOperations.WithLabelValues("ping", "ok").Inc()
	log.Printf("[cache] Redis connected: %s", cfg.Addr)
	return client, nil
}

// Redis is a base cache shared across processes. Each cache id maps to one
// Redis hash whose fields are Key.String(). Values must be []byte, so the
// chain above it needs a Serialized decorator.
//
// Redis failures are logged and reported as misses; the cache never fails
// the statement it serves.
type Redis struct {
	id      string
	hash    string
	client  redis.UniversalClient
	timeout time.Duration
}

// NewRedis creates a Redis-backed cache stored under prefix:id.
func NewRedis(client redis.UniversalClient, prefix, id string) *Redis {
	return &Redis{
		id:      id,
		hash:    prefix + ":" + id,
		client:  client,
		timeout: 3 * time.Second,
	}
}

func (c *Redis) ID() string { return c.id }

func (c *Redis) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

func (c *Redis) Put(key Key, value any) {
	var b []byte
	switch v := value.(type) {
	case nil:
	case []byte:
		b = v
	default:
		log.Printf("[cache] %s: redis cache stores bytes only, got %T", c.id, value)
		return
	}

	ctx, cancel := c.ctx()
	defer cancel()
	err := c.client.HSet(ctx, c.hash, key.String(), b).Err()
	c.record("hset", err)
}

func (c *Redis) Get(key Key) (any, bool) {
	ctx, cancel := c.ctx()
	defer cancel()

	b, err := c.client.HGet(ctx, c.hash, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		c.record("hget", nil)
		return nil, false
	}
	c.record("hget", err)
	if err != nil {
		return nil, false
	}
	if len(b) == 0 {
		return nil, true
	}
	return b, true
}

func (c *Redis) Remove(key Key) {
	ctx, cancel := c.ctx()
	defer cancel()
	c.record("hdel", c.client.HDel(ctx, c.hash, key.String()).Err())
}

func (c *Redis) Clear() {
	ctx, cancel := c.ctx()
	defer cancel()
	c.record("del", c.client.Del(ctx, c.hash).Err())
}

func (c *Redis) Size() int {
	ctx, cancel := c.ctx()
	defer cancel()
	n, err := c.client.HLen(ctx, c.hash).Result()
	c.record("hlen", err)
	if err != nil {
		return 0
	}
	return int(n)
}

func (c *Redis) record(op string, err error) {
	if err != nil {
		log.Printf("[cache] %s: redis %s failed: %v", c.id, op, err)
		metrics.RedisOperations.WithLabelValues(op, "error").Inc()
		return
	}
	metrics.RedisOperations.WithLabelValues(op, "ok").Inc()
}
