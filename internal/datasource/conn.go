// Package datasource opens physical database connections through database/sql.
// A PhysicalConn pins exactly one driver connection so that the pool above it
// can hand the same session to one caller at a time.
package datasource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrConnClosed is returned by every call on a closed physical connection.
var ErrConnClosed = errors.New("datasource: connection is closed")

// Conn is the connection-shaped contract shared by physical and pooled
// connections. Callers cannot tell which one they were given.
type Conn interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PingContext(ctx context.Context) error
	Commit() error
	Rollback() error
	AutoCommit() bool
	IsClosed() bool
	Close() error
}

// Source hands out connections. It is satisfied by *Unpooled and by the
// pooled data source.
type Source interface {
	Conn(ctx context.Context) (Conn, error)
}

// queryer is implemented by both *sql.Conn and *sql.Tx.
type queryer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Options controls how a PhysicalConn behaves.
type Options struct {
	// AutoCommit executes every statement outside an explicit transaction.
	// When false a transaction is opened lazily on first use.
	AutoCommit bool

	// Isolation is used when a lazy transaction is opened.
	Isolation sql.IsolationLevel

	// NetworkTimeout bounds prepare, exec and ping calls when positive.
	NetworkTimeout time.Duration

	// OwnsDB closes the *sql.DB handle together with the connection.
	OwnsDB bool
}

var nextConnID atomic.Uint64

// PhysicalConn wraps one pinned driver connection.
type PhysicalConn struct {
	mu sync.Mutex

	id   uint64
	db   *sql.DB
	conn *sql.Conn
	tx   *sql.Tx
	opts Options

	closed bool
}

var _ Conn = (*PhysicalConn)(nil)

// NewPhysicalConn pins a driver connection from db.
func NewPhysicalConn(ctx context.Context, db *sql.DB, opts Options) (*PhysicalConn, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("pinning connection: %w", err)
	}
	return &PhysicalConn{
		id:   nextConnID.Add(1),
		db:   db,
		conn: conn,
		opts: opts,
	}, nil
}

// ID returns a process-unique identifier used in logs.
func (c *PhysicalConn) ID() uint64 {
	return c.id
}

// target returns the handle statements run against, opening the lazy
// transaction when auto-commit is off.
func (c *PhysicalConn) target(ctx context.Context) (queryer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrConnClosed
	}
	if c.opts.AutoCommit {
		return c.conn, nil
	}
	if c.tx == nil {
		// The transaction outlives the statement context that opened it.
		tx, err := c.conn.BeginTx(context.WithoutCancel(ctx), &sql.TxOptions{Isolation: c.opts.Isolation})
		if err != nil {
			return nil, fmt.Errorf("begin transaction: %w", err)
		}
		c.tx = tx
	}
	return c.tx, nil
}

func (c *PhysicalConn) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.NetworkTimeout > 0 {
		return context.WithTimeout(ctx, c.opts.NetworkTimeout)
	}
	return ctx, func() {}
}

// PrepareContext prepares a statement bound to this connection.
func (c *PhysicalConn) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	t, err := c.target(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return t.PrepareContext(ctx, query)
}

// ExecContext executes a statement that returns no rows.
func (c *PhysicalConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	t, err := c.target(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return t.ExecContext(ctx, query, args...)
}

// QueryContext executes a query. The network timeout is not applied because
// cancelling the context would close the returned rows.
func (c *PhysicalConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	t, err := c.target(ctx)
	if err != nil {
		return nil, err
	}
	return t.QueryContext(ctx, query, args...)
}

// PingContext verifies the driver connection is alive.
func (c *PhysicalConn) PingContext(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnClosed
	}
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.conn.PingContext(ctx)
}

// Commit commits the lazy transaction, if one is open.
func (c *PhysicalConn) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.tx == nil {
		return nil
	}
	err := c.tx.Commit()
	c.tx = nil
	return err
}

// Rollback rolls back the lazy transaction, if one is open.
func (c *PhysicalConn) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.tx == nil {
		return nil
	}
	err := c.tx.Rollback()
	c.tx = nil
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// AutoCommit reports whether statements run outside explicit transactions.
func (c *PhysicalConn) AutoCommit() bool {
	return c.opts.AutoCommit
}

// IsClosed reports whether Close has been called.
func (c *PhysicalConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close rolls back any open transaction and releases the driver connection.
func (c *PhysicalConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.tx != nil {
		if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, err)
		}
		c.tx = nil
	}
	if err := c.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.opts.OwnsDB {
		if err := c.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
