package pool

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joao-brasil/mapper-runtime/internal/datasource"
)

// ErrInvalidConnection is returned by every call on a pooled connection that
// was returned, reclaimed or invalidated.
var ErrInvalidConnection = errors.New("pool: connection is no longer valid")

// slot owns one physical connection for its whole life in the pool. Every
// recycle bumps gen; only the handle carrying the current gen may use raw.
type slot struct {
	raw datasource.Conn
	id  uint64
	gen atomic.Uint64
}

var nextSlotID atomic.Uint64

func newSlot(raw datasource.Conn) *slot {
	id := nextSlotID.Add(1)
	if pc, ok := raw.(*datasource.PhysicalConn); ok {
		id = pc.ID()
	}
	return &slot{raw: raw, id: id}
}

// PooledConn is a checkout handle around a physical connection. It satisfies
// datasource.Conn, and Close returns it to the pool instead of closing the
// physical connection.
type PooledConn struct {
	pool *PooledDataSource
	slot *slot
	gen  uint64

	mu         sync.Mutex
	valid      bool
	typeCode   uint64
	createdAt  time.Time
	lastUsedAt time.Time
	checkoutAt time.Time
}

var _ datasource.Conn = (*PooledConn)(nil)

// newPooledConn issues a fresh handle for s, retiring every earlier handle.
func newPooledConn(p *PooledDataSource, s *slot) *PooledConn {
	now := time.Now()
	return &PooledConn{
		pool:       p,
		slot:       s,
		gen:        s.gen.Add(1),
		valid:      true,
		createdAt:  now,
		lastUsedAt: now,
	}
}

// ID identifies the physical connection behind this handle.
func (c *PooledConn) ID() uint64 {
	return c.slot.id
}

// Raw returns the physical connection. Callers must not close it.
func (c *PooledConn) Raw() datasource.Conn {
	return c.slot.raw
}

// usable reports whether this handle is still the current owner of the slot.
func (c *PooledConn) usable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.valid && c.slot.gen.Load() == c.gen
}

func (c *PooledConn) check() error {
	if !c.usable() {
		return ErrInvalidConnection
	}
	return nil
}

func (c *PooledConn) invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

// IsValid reports whether the handle is current and its physical connection
// passes validation.
func (c *PooledConn) IsValid() bool {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	return c.validLocked()
}

// validLocked must be called with the pool mutex held.
func (c *PooledConn) validLocked() bool {
	return c.usable() && c.slot.raw != nil && c.pool.pingLocked(c)
}

func (c *PooledConn) checkoutDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.checkoutAt)
}

func (c *PooledConn) sinceLastUse() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastUsedAt)
}

// CreatedAt returns when the physical connection was opened.
func (c *PooledConn) CreatedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createdAt
}

// LastUsedAt returns the last checkout or return time.
func (c *PooledConn) LastUsedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsedAt
}

// PrepareContext prepares a statement on the physical connection.
func (c *PooledConn) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.slot.raw.PrepareContext(ctx, query)
}

// ExecContext executes a statement on the physical connection.
func (c *PooledConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.slot.raw.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on the physical connection.
func (c *PooledConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.slot.raw.QueryContext(ctx, query, args...)
}

// PingContext pings the physical connection.
func (c *PooledConn) PingContext(ctx context.Context) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.slot.raw.PingContext(ctx)
}

// Commit commits pending work on the physical connection.
func (c *PooledConn) Commit() error {
	if err := c.check(); err != nil {
		return err
	}
	return c.slot.raw.Commit()
}

// Rollback rolls back pending work on the physical connection.
func (c *PooledConn) Rollback() error {
	if err := c.check(); err != nil {
		return err
	}
	return c.slot.raw.Rollback()
}

// AutoCommit reports the auto-commit mode of the physical connection.
func (c *PooledConn) AutoCommit() bool {
	return c.slot.raw.AutoCommit()
}

// IsClosed reports whether the handle can no longer be used.
func (c *PooledConn) IsClosed() bool {
	return !c.usable() || c.slot.raw.IsClosed()
}

// Close returns the connection to its pool.
func (c *PooledConn) Close() error {
	c.pool.Release(c)
	return nil
}
