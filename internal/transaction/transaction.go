// Package transaction binds one unit of work to one connection taken lazily
// from a data source.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/joao-brasil/mapper-runtime/internal/datasource"
)

// ErrClosed is returned by Conn after Close.
var ErrClosed = errors.New("transaction: closed")

// Transaction opens its connection on first use and reuses it until Close.
type Transaction struct {
	mu      sync.Mutex
	source  datasource.Source
	conn    datasource.Conn
	timeout time.Duration
	closed  bool
}

// New creates a transaction over source. timeout bounds each statement when
// positive.
func New(source datasource.Source, timeout time.Duration) *Transaction {
	return &Transaction{source: source, timeout: timeout}
}

// Conn returns the transaction's connection, acquiring it on first call.
func (t *Transaction) Conn(ctx context.Context) (datasource.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}
	if t.conn != nil {
		return t.conn, nil
	}
	conn, err := t.source.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}
	t.conn = conn
	return conn, nil
}

// Commit commits pending work. It is a no-op when no connection was opened
// or the connection auto-commits.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.conn.AutoCommit() {
		return nil
	}
	return t.conn.Commit()
}

// Rollback discards pending work. It is a no-op when no connection was
// opened or the connection auto-commits.
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.conn.AutoCommit() {
		return nil
	}
	return t.conn.Rollback()
}

// Close gives the connection back to its data source.
func (t *Transaction) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn == nil {
		return nil
	}
	conn := t.conn
	t.conn = nil

	if !conn.AutoCommit() {
		if err := conn.Rollback(); err != nil {
			log.Printf("[transaction] rollback before close failed: %v", err)
		}
	}
	return conn.Close()
}

// Timeout returns the per-statement timeout, zero when unbounded.
func (t *Transaction) Timeout() time.Duration {
	return t.timeout
}
