package cache

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/joao-brasil/mapper-runtime/internal/config"
)

// ErrNoRedisClient is returned when the redis backend is configured without a client.
var ErrNoRedisClient = errors.New("cache: redis backend requires a client")

// Build wraps base in the decorator chain described by cfg, innermost
// first: eviction, serialization, hit accounting, then the optional mutex.
func Build(cfg config.CacheConfig, base Cache) Cache {
	size := cfg.Size
	if size <= 0 {
		size = DefaultCapacity
	}

	var c Cache
	switch cfg.Eviction {
	case "fifo":
		fifo := NewFIFO(base)
		fifo.SetCapacity(size)
		c = fifo
	default:
		lru := NewLRU(base)
		lru.SetCapacity(size)
		c = lru
	}

	if cfg.Serialize {
		c = NewSerialized(c)
	}
	c = NewLogging(c)
	if cfg.IsSynchronized() {
		c = NewSynchronized(c)
	}
	return c
}

// Factory builds one cache chain per namespace from the configuration.
type Factory struct {
	cfg    config.CacheConfig
	client redis.UniversalClient
	prefix string
}

// NewFactory creates a cache factory. client may be nil for the memory backend.
func NewFactory(cfg *config.Config, client redis.UniversalClient) (*Factory, error) {
	if cfg.Cache.Backend == "redis" && client == nil {
		return nil, ErrNoRedisClient
	}
	return &Factory{cfg: cfg.Cache, client: client, prefix: cfg.Redis.KeyPrefix}, nil
}

// New returns the decorated cache for id.
func (f *Factory) New(id string) Cache {
	var base Cache
	if f.cfg.Backend == "redis" {
		base = NewRedis(f.client, f.prefix, id)
	} else {
		base = NewPerpetual(id)
	}
	return Build(f.cfg, base)
}
