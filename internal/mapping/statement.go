// Package mapping holds the statement metadata the executors consume:
// mapped statements, SQL sources, row bounds and row mapping.
package mapping

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/joao-brasil/mapper-runtime/internal/cache"
)

// CommandType is the kind of SQL a mapped statement runs.
type CommandType int

const (
	Unknown CommandType = iota
	Select
	Insert
	Update
	Delete
	Flush
)

func (c CommandType) String() string {
	switch c {
	case Select:
		return "select"
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	case Flush:
		return "flush"
	default:
		return "unknown"
	}
}

// KeyGenerator assigns database-generated keys to parameter objects.
// ProcessBefore runs before the statement executes, ProcessAfter once per
// execution with its result.
type KeyGenerator interface {
	ProcessBefore(ctx context.Context, q Querier, ms *MappedStatement, param any) error
	ProcessAfter(ctx context.Context, q Querier, ms *MappedStatement, res sql.Result, param any) error
}

// Querier runs key-selection queries on the statement's connection.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// MappedStatement is one named SQL statement and how to run it.
type MappedStatement struct {
	ID      string
	Command CommandType
	Source  SQLSource

	// KeyGenerator is nil when the statement generates no keys.
	KeyGenerator KeyGenerator

	// Cache is the second-level cache of the statement's namespace; nil
	// disables second-level caching.
	Cache      cache.Cache
	UseCache   bool
	FlushCache bool

	// Timeout bounds each statement execution when positive.
	Timeout time.Duration

	// Mapper converts result rows for select statements.
	Mapper RowMapper
}

// Validate reports configuration mistakes that would fail at execution time.
func (ms *MappedStatement) Validate() error {
	if ms.ID == "" {
		return errors.New("mapping: statement id is required")
	}
	if ms.Source == nil {
		return fmt.Errorf("mapping: statement %s has no sql source", ms.ID)
	}
	return nil
}

// BoundSQL is SQL rendered for one parameter object.
type BoundSQL struct {
	SQL       string
	Args      []any
	Parameter any
}

// SQLSource renders the SQL of a statement for a parameter object.
type SQLSource interface {
	BoundSQL(param any) (*BoundSQL, error)
}

// StaticSource is fixed SQL with arguments derived from the parameter.
type StaticSource struct {
	SQL string

	// Args extracts the ordered bind values; nil binds the parameter itself
	// when it is not nil.
	Args func(param any) []any
}

func (s StaticSource) BoundSQL(param any) (*BoundSQL, error) {
	var args []any
	switch {
	case s.Args != nil:
		args = s.Args(param)
	case param != nil:
		args = []any{param}
	}
	return &BoundSQL{SQL: s.SQL, Args: args, Parameter: param}, nil
}

// SourceFunc adapts a function to SQLSource.
type SourceFunc func(param any) (*BoundSQL, error)

func (f SourceFunc) BoundSQL(param any) (*BoundSQL, error) {
	return f(param)
}

// NoLimit is the row limit of DefaultRowBounds.
const NoLimit = math.MaxInt32

// RowBounds restricts which rows of a result are mapped.
type RowBounds struct {
	Offset int
	Limit  int
}

// DefaultRowBounds maps every row.
var DefaultRowBounds = RowBounds{Offset: 0, Limit: NoLimit}

// IsDefault reports whether b leaves the result untouched.
func (b RowBounds) IsDefault() bool {
	return b.Offset == 0 && (b.Limit == NoLimit || b.Limit <= 0)
}

// RowMapper maps the current row of rows to one result object.
type RowMapper func(rows *sql.Rows) (any, error)

// ResultContext tracks mapped rows; a ResultHandler may stop the scan early.
type ResultContext struct {
	object  any
	count   int
	stopped bool
}

// Next records a newly mapped object.
func (c *ResultContext) Next(obj any) {
	c.count++
	c.object = obj
}

// Object returns the most recently mapped object.
func (c *ResultContext) Object() any { return c.object }

// Count returns how many objects were mapped so far.
func (c *ResultContext) Count() int { return c.count }

// Stop ends the scan after the current row.
func (c *ResultContext) Stop() { c.stopped = true }

// Stopped reports whether Stop was called.
func (c *ResultContext) Stopped() bool { return c.stopped }

// ResultHandler receives every mapped object. When a handler is supplied
// the query returns no list; the handler owns the results.
type ResultHandler func(ctx *ResultContext)
