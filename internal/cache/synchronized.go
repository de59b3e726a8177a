package cache

import "sync"

// Synchronized serializes every call into the wrapped chain.
type Synchronized struct {
	mu       sync.Mutex
	delegate Cache
}

// NewSynchronized wraps delegate with a mutex.
func NewSynchronized(delegate Cache) *Synchronized {
	return &Synchronized{delegate: delegate}
}

func (c *Synchronized) ID() string { return c.delegate.ID() }

func (c *Synchronized) Put(key Key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delegate.Put(key, value)
}

func (c *Synchronized) Get(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delegate.Get(key)
}

func (c *Synchronized) Remove(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delegate.Remove(key)
}

func (c *Synchronized) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delegate.Clear()
}

func (c *Synchronized) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delegate.Size()
}
