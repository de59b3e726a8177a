// Package fakedb provides an in-memory database/sql driver for tests.
// Each DB is addressed by the host part of a "fakedb://<name>" URL and
// records every connection, statement and transaction it sees.
package fakedb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
)

// DriverName is the name the driver is registered under.
const DriverName = "fakedb"

var (
	registryMu sync.Mutex
	registry   = make(map[string]*DB)
	nextDB     atomic.Uint64
)

func init() {
	sql.Register(DriverName, &fakeDriver{})
}

// DB is one fake database instance.
type DB struct {
	mu sync.Mutex

	name string

	opens     int
	closes    int
	begins    int
	commits   int
	rollbacks int
	dsns      []string
	execs     []string
	queries   []string

	lastInsertID int64
	openErr      error
	pingErr      error
	execErrs     map[string]error
	queryErrs    map[string]error
	conns        []*fakeConn
}

// New creates and registers a fresh DB.
func New() *DB {
	name := fmt.Sprintf("db%d", nextDB.Add(1))
	db := &DB{
		name:      name,
		execErrs:  make(map[string]error),
		queryErrs: make(map[string]error),
	}
	registryMu.Lock()
	registry[name] = db
	registryMu.Unlock()
	return db
}

// URL returns the address of this DB for sql.Open(DriverName, url).
func (db *DB) URL() string {
	return DriverName + "://" + db.name
}

// FailOpen makes new connections fail with err (nil clears it).
func (db *DB) FailOpen(err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.openErr = err
}

// FailPing makes driver-level pings fail with err (nil clears it).
func (db *DB) FailPing(err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.pingErr = err
}

// FailExec makes executions of query fail with err (nil clears it).
func (db *DB) FailExec(query string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err == nil {
		delete(db.execErrs, query)
		return
	}
	db.execErrs[query] = err
}

// FailQuery makes query fail with err (nil clears it).
func (db *DB) FailQuery(query string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err == nil {
		delete(db.queryErrs, query)
		return
	}
	db.queryErrs[query] = err
}

// Stats is a snapshot of the recorded activity.
type Stats struct {
	Opens     int
	Closes    int
	Begins    int
	Commits   int
	Rollbacks int
	DSNs      []string
	Execs     []string
	Queries   []string
}

// Stats returns a snapshot of the recorded activity.
func (db *DB) Stats() Stats {
	db.mu.Lock()
	defer db.mu.Unlock()
	return Stats{
		Opens:     db.opens,
		Closes:    db.closes,
		Begins:    db.begins,
		Commits:   db.commits,
		Rollbacks: db.rollbacks,
		DSNs:      append([]string(nil), db.dsns...),
		Execs:     append([]string(nil), db.execs...),
		Queries:   append([]string(nil), db.queries...),
	}
}

// OpenConns returns the number of driver connections not yet closed.
func (db *DB) OpenConns() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.opens - db.closes
}

// fakeDriver implements driver.Driver.
type fakeDriver struct{}

// Open returns a new connection to the DB named by the DSN host.
func (d *fakeDriver) Open(name string) (driver.Conn, error) {
	u, err := url.Parse(name)
	if err != nil {
		return nil, err
	}
	registryMu.Lock()
	db, ok := registry[u.Host]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fakedb: unknown database %q", u.Host)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.openErr != nil {
		return nil, db.openErr
	}
	db.opens++
	db.dsns = append(db.dsns, name)
	c := &fakeConn{db: db}
	db.conns = append(db.conns, c)
	return c, nil
}

// fakeConn implements driver.Conn and the context-aware extensions.
type fakeConn struct {
	db     *DB
	closed bool
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return &fakeStmt{conn: c, query: query}, nil
}

func (c *fakeConn) Close() error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.db.closes++
	}
	return nil
}

func (c *fakeConn) Begin() (driver.Tx, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.db.begins++
	return &fakeTx{conn: c}, nil
}

func (c *fakeConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	return c.Begin()
}

func (c *fakeConn) Ping(ctx context.Context) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	return c.db.pingErr
}

func (c *fakeConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	return c.exec(query)
}

func (c *fakeConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	return c.query(query)
}

func (c *fakeConn) exec(query string) (driver.Result, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.db.execs = append(c.db.execs, query)
	if err := c.db.execErrs[query]; err != nil {
		return nil, err
	}
	c.db.lastInsertID++
	return fakeResult{id: c.db.lastInsertID, rows: 1}, nil
}

func (c *fakeConn) query(query string) (driver.Rows, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.db.queries = append(c.db.queries, query)
	if err := c.db.queryErrs[query]; err != nil {
		return nil, err
	}
	return &fakeRows{columns: []string{"v"}, rows: [][]driver.Value{{int64(1)}}}, nil
}

// fakeStmt implements driver.Stmt.
type fakeStmt struct {
	conn  *fakeConn
	query string
}

func (s *fakeStmt) Close() error  { return nil }
func (s *fakeStmt) NumInput() int { return -1 }

func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.conn.exec(s.query)
}

func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.conn.query(s.query)
}

// fakeTx implements driver.Tx.
type fakeTx struct {
	conn *fakeConn
}

func (t *fakeTx) Commit() error {
	t.conn.db.mu.Lock()
	defer t.conn.db.mu.Unlock()
	t.conn.db.commits++
	return nil
}

func (t *fakeTx) Rollback() error {
	t.conn.db.mu.Lock()
	defer t.conn.db.mu.Unlock()
	t.conn.db.rollbacks++
	return nil
}

type fakeResult struct {
	id   int64
	rows int64
}

func (r fakeResult) LastInsertId() (int64, error) { return r.id, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.rows, nil }

// fakeRows implements driver.Rows.
type fakeRows struct {
	columns []string
	rows    [][]driver.Value
	index   int
}

func (r *fakeRows) Columns() []string { return r.columns }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.index >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.index])
	r.index++
	return nil
}

// ErrInjected is a convenience error for failure injection.
var ErrInjected = errors.New("fakedb: injected failure")
