// Package cache implements second-level caches for mapped statements as a
// chain of decorators around a base store. Eviction decorators only keep
// admission-order bookkeeping; they never alter cached values.
package cache

import (
	"github.com/joao-brasil/mapper-runtime/internal/metrics"
)

// DefaultCapacity bounds the FIFO and LRU decorators unless set otherwise.
const DefaultCapacity = 1024

// Cache is implemented by base stores and by every decorator.
type Cache interface {
	ID() string
	Put(key Key, value any)
	Get(key Key) (any, bool)
	Remove(key Key)
	Clear()
	Size() int
}

// Perpetual is an unbounded map-backed cache. It is not safe for
// concurrent use; wrap the chain in Synchronized when it is shared.
type Perpetual struct {
	id    string
	items map[Key]any
}

// NewPerpetual creates an empty perpetual cache.
func NewPerpetual(id string) *Perpetual {
	return &Perpetual{id: id, items: make(map[Key]any)}
}

func (c *Perpetual) ID() string { return c.id }

func (c *Perpetual) Put(key Key, value any) {
	c.items[key] = value
}

func (c *Perpetual) Get(key Key) (any, bool) {
	v, ok := c.items[key]
	return v, ok
}

func (c *Perpetual) Remove(key Key) {
	delete(c.items, key)
}

func (c *Perpetual) Clear() {
	clear(c.items)
}

func (c *Perpetual) Size() int {
	return len(c.items)
}

// Logging counts hits and misses of the wrapped chain into Prometheus.
type Logging struct {
	delegate Cache

	requests int64
	hits     int64
}

// NewLogging wraps delegate with hit/miss accounting.
func NewLogging(delegate Cache) *Logging {
	return &Logging{delegate: delegate}
}

func (c *Logging) ID() string { return c.delegate.ID() }

func (c *Logging) Put(key Key, value any) {
	c.delegate.Put(key, value)
}

func (c *Logging) Get(key Key) (any, bool) {
	c.requests++
	v, ok := c.delegate.Get(key)
	if ok {
		c.hits++
		metrics.CacheRequests.WithLabelValues(c.ID(), "hit").Inc()
	} else {
		metrics.CacheRequests.WithLabelValues(c.ID(), "miss").Inc()
	}
	return v, ok
}

func (c *Logging) Remove(key Key) { c.delegate.Remove(key) }
func (c *Logging) Clear()         { c.delegate.Clear() }
func (c *Logging) Size() int      { return c.delegate.Size() }

// HitRatio returns hits over requests seen by this decorator.
func (c *Logging) HitRatio() float64 {
	if c.requests == 0 {
		return 0
	}
	return float64(c.hits) / float64(c.requests)
}
