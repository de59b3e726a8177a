package executor

import (
	"context"
	"fmt"

	"github.com/joao-brasil/mapper-runtime/internal/cache"
	"github.com/joao-brasil/mapper-runtime/internal/mapping"
	"github.com/joao-brasil/mapper-runtime/internal/transaction"
)

// Caching puts a statement's second-level cache in front of the wrapped
// executor. Results read inside a unit of work become visible to other
// sessions only on commit; rollback discards them.
type Caching struct {
	delegate Executor
	tcm      *txCacheManager
}

var _ Executor = (*Caching)(nil)

// NewCaching wraps delegate.
func NewCaching(delegate Executor) *Caching {
	return &Caching{delegate: delegate, tcm: newTxCacheManager()}
}

func (c *Caching) Transaction() *transaction.Transaction { return c.delegate.Transaction() }
func (c *Caching) IsClosed() bool                          { return c.delegate.IsClosed() }
func (c *Caching) ClearLocalCache()                        { c.delegate.ClearLocalCache() }

func (c *Caching) Update(ctx context.Context, ms *mapping.MappedStatement, param any) (int64, error) {
	c.flushCacheIfRequired(ms)
	return c.delegate.Update(ctx, ms, param)
}

func (c *Caching) Query(ctx context.Context, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, handler mapping.ResultHandler) ([]any, error) {
	if ms.Cache == nil {
		return c.delegate.Query(ctx, ms, param, bounds, handler)
	}

	c.flushCacheIfRequired(ms)
	if !ms.UseCache || handler != nil {
		return c.delegate.Query(ctx, ms, param, bounds, handler)
	}

	bound, err := ms.Source.BoundSQL(param)
	if err != nil {
		return nil, fmt.Errorf("rendering %s: %w", ms.ID, err)
	}
	key := c.delegate.CreateCacheKey(ms, param, bounds, bound)

	if v, ok := c.tcm.get(ms.Cache, key); ok {
		if list, isList := v.([]any); isList {
			return list, nil
		}
	}

	list, err := c.delegate.Query(ctx, ms, param, bounds, handler)
	if err != nil {
		return nil, err
	}
	c.tcm.put(ms.Cache, key, list)
	return list, nil
}

func (c *Caching) FlushStatements(ctx context.Context) ([]BatchResult, error) {
	return c.delegate.FlushStatements(ctx)
}

func (c *Caching) Commit(ctx context.Context, required bool) error {
	if err := c.delegate.Commit(ctx, required); err != nil {
		return err
	}
	c.tcm.commit()
	return nil
}

func (c *Caching) Rollback(ctx context.Context, required bool) error {
	err := c.delegate.Rollback(ctx, required)
	if required {
		c.tcm.rollback()
	}
	return err
}

func (c *Caching) CreateCacheKey(ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, bound *mapping.BoundSQL) cache.Key {
	return c.delegate.CreateCacheKey(ms, param, bounds, bound)
}

func (c *Caching) IsCached(ms *mapping.MappedStatement, key cache.Key) bool {
	return c.delegate.IsCached(ms, key)
}

// Close publishes staged entries unless a rollback is forced.
func (c *Caching) Close(ctx context.Context, forceRollback bool) error {
	if forceRollback {
		c.tcm.rollback()
	} else {
		c.tcm.commit()
	}
	return c.delegate.Close(ctx, forceRollback)
}

func (c *Caching) flushCacheIfRequired(ms *mapping.MappedStatement) {
	if ms.Cache != nil && ms.FlushCache {
		c.tcm.clear(ms.Cache)
	}
}

// txCache stages writes to one shared cache until commit.
type txCache struct {
	delegate      cache.Cache
	clearOnCommit bool
	pending       map[cache.Key]any
}

func (t *txCache) get(key cache.Key) (any, bool) {
	v, ok := t.delegate.Get(key)
	if t.clearOnCommit {
		return nil, false
	}
	return v, ok
}

func (t *txCache) put(key cache.Key, v any) {
	t.pending[key] = v
}

func (t *txCache) clear() {
	t.clearOnCommit = true
	clear(t.pending)
}

func (t *txCache) commit() {
	if t.clearOnCommit {
		t.delegate.Clear()
	}
	for k, v := range t.pending {
		t.delegate.Put(k, v)
	}
	t.reset()
}

func (t *txCache) reset() {
	t.clearOnCommit = false
	clear(t.pending)
}

// txCacheManager keeps one txCache per shared cache touched by the session.
type txCacheManager struct {
	caches map[cache.Cache]*txCache
}

func newTxCacheManager() *txCacheManager {
	return &txCacheManager{caches: make(map[cache.Cache]*txCache)}
}

func (m *txCacheManager) tx(c cache.Cache) *txCache {
	t, ok := m.caches[c]
	if !ok {
		t = &txCache{delegate: c, pending: make(map[cache.Key]any)}
		m.caches[c] = t
	}
	return t
}

func (m *txCacheManager) get(c cache.Cache, key cache.Key) (any, bool) { return m.tx(c).get(key) }
func (m *txCacheManager) put(c cache.Cache, key cache.Key, v any)      { m.tx(c).put(key, v) }
func (m *txCacheManager) clear(c cache.Cache)                          { m.tx(c).clear() }

func (m *txCacheManager) commit() {
	for _, t := range m.caches {
		t.commit()
	}
}

func (m *txCacheManager) rollback() {
	for _, t := range m.caches {
		t.reset()
	}
}
