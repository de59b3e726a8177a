package cache

import (
	"container/list"

	"github.com/joao-brasil/mapper-runtime/internal/metrics"
)

// FIFO evicts the oldest admitted key once more than capacity keys were put.
// Get and Remove pass straight through without reordering.
type FIFO struct {
	delegate Cache
	capacity int
	keys     *list.List
}

// NewFIFO wraps delegate with first-in first-out eviction.
func NewFIFO(delegate Cache) *FIFO {
	return &FIFO{delegate: delegate, capacity: DefaultCapacity, keys: list.New()}
}

// SetCapacity changes the bound; it applies from the next Put.
func (c *FIFO) SetCapacity(n int) {
	c.capacity = n
}

func (c *FIFO) ID() string { return c.delegate.ID() }

func (c *FIFO) Put(key Key, value any) {
	c.keys.PushBack(key)
	if c.keys.Len() > c.capacity {
		oldest := c.keys.Remove(c.keys.Front()).(Key)
		c.delegate.Remove(oldest)
		metrics.CacheEvictions.WithLabelValues(c.ID(), "fifo").Inc()
	}
	c.delegate.Put(key, value)
}

func (c *FIFO) Get(key Key) (any, bool) { return c.delegate.Get(key) }
func (c *FIFO) Remove(key Key)          { c.delegate.Remove(key) }
func (c *FIFO) Size() int               { return c.delegate.Size() }

func (c *FIFO) Clear() {
	c.keys.Init()
	c.delegate.Clear()
}

// LRU evicts the least recently used key. Get touches a tracked key, so
// recency follows lookups as well as puts.
type LRU struct {
	delegate Cache
	capacity int

	order *list.List
	index map[Key]*list.Element
}

// NewLRU wraps delegate with least-recently-used eviction.
func NewLRU(delegate Cache) *LRU {
	return &LRU{
		delegate: delegate,
		capacity: DefaultCapacity,
		order:    list.New(),
		index:    make(map[Key]*list.Element),
	}
}

// SetCapacity changes the bound. Tracked keys are kept; when shrinking, the
// least recently used ones past the new bound are evicted right away.
func (c *LRU) SetCapacity(n int) {
	c.capacity = n
	for c.order.Len() > c.capacity {
		c.evict(c.removeEldest())
	}
}

func (c *LRU) ID() string { return c.delegate.ID() }

func (c *LRU) Put(key Key, value any) {
	c.delegate.Put(key, value)
	if evicted, ok := c.touch(key); ok {
		c.evict(evicted)
	}
}

func (c *LRU) evict(key Key) {
	c.delegate.Remove(key)
	metrics.CacheEvictions.WithLabelValues(c.ID(), "lru").Inc()
}

func (c *LRU) Get(key Key) (any, bool) {
	if e, ok := c.index[key]; ok {
		c.order.MoveToFront(e)
	}
	return c.delegate.Get(key)
}

func (c *LRU) Remove(key Key) { c.delegate.Remove(key) }
func (c *LRU) Size() int      { return c.delegate.Size() }

func (c *LRU) Clear() {
	c.order.Init()
	clear(c.index)
	c.delegate.Clear()
}

// touch records key as most recently used. When the tracked set grows past
// capacity it drops the eldest key and returns it.
func (c *LRU) touch(key Key) (Key, bool) {
	if e, ok := c.index[key]; ok {
		c.order.MoveToFront(e)
		return NullKey, false
	}
	c.index[key] = c.order.PushFront(key)
	if c.order.Len() <= c.capacity {
		return NullKey, false
	}
	return c.removeEldest(), true
}

func (c *LRU) removeEldest() Key {
	eldest := c.order.Back()
	c.order.Remove(eldest)
	k := eldest.Value.(Key)
	delete(c.index, k)
	return k
}
