package executor

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/joao-brasil/mapper-runtime/internal/cache"
	"github.com/joao-brasil/mapper-runtime/internal/mapping"
	"github.com/joao-brasil/mapper-runtime/internal/transaction"
)

// doer is the statement-running half each concrete executor supplies.
type doer interface {
	doUpdate(ctx context.Context, ms *mapping.MappedStatement, param any) (int64, error)
	doQuery(ctx context.Context, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, handler mapping.ResultHandler, bound *mapping.BoundSQL) ([]any, error)
	doFlushStatements(ctx context.Context, rollback bool) ([]BatchResult, error)
}

// base holds what every executor shares: the transaction, the session-local
// cache and the closed flag. Concrete executors embed it and set impl.
type base struct {
	tx    *transaction.Transaction
	envID string
	impl  doer

	local      *cache.Perpetual
	queryStack int
	closed     bool
}

func newBase(tx *transaction.Transaction, envID string) base {
	return base{tx: tx, envID: envID, local: cache.NewPerpetual("local")}
}

func (e *base) Transaction() *transaction.Transaction {
	return e.tx
}

func (e *base) IsClosed() bool {
	return e.closed
}

// Update clears the local cache and runs the statement.
func (e *base) Update(ctx context.Context, ms *mapping.MappedStatement, param any) (int64, error) {
	if e.closed {
		return 0, ErrClosed
	}
	e.ClearLocalCache()
	return e.impl.doUpdate(ctx, ms, param)
}

// Query answers from the local cache when the same statement, bounds and
// arguments were queried earlier in this unit of work.
func (e *base) Query(ctx context.Context, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, handler mapping.ResultHandler) ([]any, error) {
	if e.closed {
		return nil, ErrClosed
	}
	bound, err := ms.Source.BoundSQL(param)
	if err != nil {
		return nil, fmt.Errorf("rendering %s: %w", ms.ID, err)
	}
	key := e.CreateCacheKey(ms, param, bounds, bound)

	if e.queryStack == 0 && ms.FlushCache {
		e.ClearLocalCache()
	}

	e.queryStack++
	defer func() { e.queryStack-- }()

	if handler == nil {
		if v, ok := e.local.Get(key); ok {
			return v.([]any), nil
		}
	}

	list, err := e.impl.doQuery(ctx, ms, param, bounds, handler, bound)
	if err != nil {
		return nil, err
	}
	if handler == nil {
		e.local.Put(key, list)
	}
	return list, nil
}

func (e *base) FlushStatements(ctx context.Context) ([]BatchResult, error) {
	return e.flushStatements(ctx, false)
}

func (e *base) flushStatements(ctx context.Context, rollback bool) ([]BatchResult, error) {
	if e.closed {
		return nil, ErrClosed
	}
	return e.impl.doFlushStatements(ctx, rollback)
}

// Commit flushes pending statements, then commits when required.
func (e *base) Commit(ctx context.Context, required bool) error {
	if e.closed {
		return fmt.Errorf("cannot commit: %w", ErrClosed)
	}
	e.ClearLocalCache()
	if _, err := e.flushStatements(ctx, false); err != nil {
		return err
	}
	if required {
		return e.tx.Commit()
	}
	return nil
}

// Rollback discards pending statements, then rolls back when required.
func (e *base) Rollback(ctx context.Context, required bool) error {
	if e.closed {
		return nil
	}
	e.ClearLocalCache()
	_, flushErr := e.flushStatements(ctx, true)
	if required {
		return errors.Join(flushErr, e.tx.Rollback())
	}
	return flushErr
}

func (e *base) ClearLocalCache() {
	if !e.closed {
		e.local.Clear()
	}
}

// CreateCacheKey fingerprints a query: statement id, row bounds, SQL, every
// bind value in order, and the environment id.
func (e *base) CreateCacheKey(ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, bound *mapping.BoundSQL) cache.Key {
	var k cache.Key
	k.Update(ms.ID)
	k.Update(bounds.Offset)
	k.Update(bounds.Limit)
	k.Update(bound.SQL)
	k.UpdateAll(bound.Args...)
	if e.envID != "" {
		k.Update(e.envID)
	}
	return k
}

func (e *base) IsCached(ms *mapping.MappedStatement, key cache.Key) bool {
	_, ok := e.local.Get(key)
	return ok
}

// Close rolls back when forced, then releases the transaction.
func (e *base) Close(ctx context.Context, forceRollback bool) error {
	if e.closed {
		return nil
	}
	defer func() {
		e.local.Clear()
		e.closed = true
	}()

	if err := e.Rollback(ctx, forceRollback); err != nil {
		log.Printf("[executor] unexpected rollback failure on close: %v", err)
	}
	if e.tx != nil {
		return e.tx.Close()
	}
	return nil
}
