// Package executor runs mapped statements over a transaction. The simple
// executor prepares and runs one statement per call; the batch executor
// accumulates consecutive same-shape updates and sends them together on
// flush; the caching executor adds a transactional second-level cache in
// front of either.
package executor

import (
	"context"
	"errors"
	"math"

	"github.com/joao-brasil/mapper-runtime/internal/cache"
	"github.com/joao-brasil/mapper-runtime/internal/mapping"
	"github.com/joao-brasil/mapper-runtime/internal/transaction"
)

// BatchUpdateReturnValue is what the batch executor's Update returns; the
// real counts are only known after FlushStatements.
const BatchUpdateReturnValue = math.MinInt32 + 1002

// SuccessNoInfo is recorded as an update count when the driver cannot
// report affected rows.
const SuccessNoInfo = -2

// ErrClosed is returned by every call on a closed executor.
var ErrClosed = errors.New("executor: executor was closed")

// Executor runs mapped statements within one transaction.
type Executor interface {
	Update(ctx context.Context, ms *mapping.MappedStatement, param any) (int64, error)

	// Query maps every selected row with ms.Mapper. When handler is not nil
	// each object is passed to it instead and the returned slice is nil.
	Query(ctx context.Context, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, handler mapping.ResultHandler) ([]any, error)

	FlushStatements(ctx context.Context) ([]BatchResult, error)
	Commit(ctx context.Context, required bool) error
	Rollback(ctx context.Context, required bool) error

	CreateCacheKey(ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, bound *mapping.BoundSQL) cache.Key
	IsCached(ms *mapping.MappedStatement, key cache.Key) bool
	ClearLocalCache()

	Close(ctx context.Context, forceRollback bool) error
	IsClosed() bool
	Transaction() *transaction.Transaction
}
