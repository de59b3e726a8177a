package cache

import (
	"bytes"
	"encoding/gob"
	"log"
)

func init() {
	// Query results are cached as []any.
	gob.Register([]any(nil))
	gob.Register(map[string]any(nil))
}

// envelope carries an interface value through gob.
type envelope struct {
	V any
}

// Serialized stores gob-encoded bytes and hands out a decoded copy on every
// Get, so callers never share a cached value. Concrete types stored through
// it must be registered with gob.Register.
type Serialized struct {
	delegate Cache
}

// NewSerialized wraps delegate with gob encoding.
func NewSerialized(delegate Cache) *Serialized {
	return &Serialized{delegate: delegate}
}

func (c *Serialized) ID() string { return c.delegate.ID() }

func (c *Serialized) Put(key Key, value any) {
	if value == nil {
		c.delegate.Put(key, nil)
		return
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(envelope{V: value}); err != nil {
		log.Printf("[cache] %s: cannot serialize %T, not cached: %v", c.ID(), value, err)
		return
	}
	c.delegate.Put(key, buf.Bytes())
}

func (c *Serialized) Get(key Key) (any, bool) {
	v, ok := c.delegate.Get(key)
	if !ok || v == nil {
		return nil, ok
	}
	b, isBytes := v.([]byte)
	if !isBytes {
		log.Printf("[cache] %s: expected serialized bytes, got %T", c.ID(), v)
		return nil, false
	}
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&env); err != nil {
		log.Printf("[cache] %s: cannot deserialize entry: %v", c.ID(), err)
		return nil, false
	}
	return env.V, true
}

func (c *Serialized) Remove(key Key) { c.delegate.Remove(key) }
func (c *Serialized) Clear()         { c.delegate.Clear() }
func (c *Serialized) Size() int      { return c.delegate.Size() }
