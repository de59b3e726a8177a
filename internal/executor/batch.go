package executor

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/joao-brasil/mapper-runtime/internal/datasource"
	"github.com/joao-brasil/mapper-runtime/internal/mapping"
	"github.com/joao-brasil/mapper-runtime/internal/metrics"
	"github.com/joao-brasil/mapper-runtime/internal/transaction"
)

// queued is one prepared statement and the bind values of every entry
// added to it.
type queued struct {
	stmt *sql.Stmt
	args [][]any
}

// Batch accumulates updates and sends them on flush. Consecutive updates
// with the same mapped statement and rendered SQL share one prepared
// statement; any change starts a new batch. Queries flush first.
//
// A Batch is used by one goroutine at a time.
type Batch struct {
	base

	statements []*queued
	results    []*BatchResult

	currentSQL       string
	currentStatement *mapping.MappedStatement
	conn             datasource.Conn
}

var _ Executor = (*Batch)(nil)

// NewBatch creates a batch executor over tx.
func NewBatch(tx *transaction.Transaction, envID string) *Batch {
	b := &Batch{base: newBase(tx, envID)}
	b.impl = b
	return b
}

// doUpdate queues the update and returns BatchUpdateReturnValue.
func (b *Batch) doUpdate(ctx context.Context, ms *mapping.MappedStatement, param any) (int64, error) {
	conn, err := b.tx.Conn(ctx)
	if err != nil {
		return 0, err
	}
	h, err := NewStatementHandler(ctx, conn, ms, param, mapping.DefaultRowBounds, nil, nil, b.tx.Timeout())
	if err != nil {
		return 0, err
	}
	sqlText := h.BoundSQL().SQL

	if len(b.statements) > 0 && sqlText == b.currentSQL && ms == b.currentStatement {
		last := len(b.statements) - 1
		b.statements[last].args = append(b.statements[last].args, h.Parameterize())
		b.results[last].Parameters = append(b.results[last].Parameters, param)
		return BatchUpdateReturnValue, nil
	}

	stmt, err := h.Prepare(ctx, conn)
	if err != nil {
		return 0, err
	}
	b.conn = conn
	b.currentSQL = sqlText
	b.currentStatement = ms
	b.statements = append(b.statements, &queued{stmt: stmt, args: [][]any{h.Parameterize()}})
	b.results = append(b.results, newBatchResult(ms, sqlText, param))
	return BatchUpdateReturnValue, nil
}

func (b *Batch) doQuery(ctx context.Context, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, handler mapping.ResultHandler, bound *mapping.BoundSQL) ([]any, error) {
	if _, err := b.FlushStatements(ctx); err != nil {
		return nil, err
	}
	conn, err := b.tx.Conn(ctx)
	if err != nil {
		return nil, err
	}
	h, err := NewStatementHandler(ctx, conn, ms, param, bounds, handler, bound, b.tx.Timeout())
	if err != nil {
		return nil, err
	}
	stmt, err := h.Prepare(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer closeStatement(stmt)
	return h.Query(ctx, stmt)
}

// doFlushStatements runs every queued batch in order. With rollback set the
// queue is discarded unexecuted. The queue is always cleared and every
// prepared statement closed, whatever the outcome.
func (b *Batch) doFlushStatements(ctx context.Context, rollback bool) ([]BatchResult, error) {
	defer b.reset()

	if rollback || len(b.statements) == 0 {
		return []BatchResult{}, nil
	}

	results := make([]BatchResult, 0, len(b.statements))
	for i, q := range b.statements {
		br := b.results[i]
		counts, execResults, err := b.execute(ctx, br.statement, q)
		if err != nil {
			metrics.BatchFlushes.WithLabelValues("error").Inc()
			log.Printf("[executor] batch %s (index #%d) failed after %d completed batches: %v",
				br.StatementID, i+1, len(results), err)
			return nil, &BatchError{
				BatchIndex: i + 1,
				Completed:  results,
				Failed:     *br,
				Err:        err,
			}
		}
		br.UpdateCounts = counts
		metrics.BatchSize.Observe(float64(len(q.args)))

		if err := b.generateKeys(ctx, br, execResults); err != nil {
			metrics.BatchFlushes.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("%s (batch index #%d): generating keys: %w", br.StatementID, i+1, err)
		}

		results = append(results, *br)
	}
	metrics.BatchFlushes.WithLabelValues("ok").Inc()
	return results, nil
}

// execute sends every entry of q on its prepared statement.
func (b *Batch) execute(ctx context.Context, ms *mapping.MappedStatement, q *queued) ([]int64, []sql.Result, error) {
	timeout := statementTimeout(ms.Timeout, b.tx.Timeout())
	start := time.Now()
	defer func() {
		metrics.StatementDuration.WithLabelValues(ms.Command.String()).Observe(time.Since(start).Seconds())
	}()

	counts := make([]int64, 0, len(q.args))
	execResults := make([]sql.Result, 0, len(q.args))
	for j, args := range q.args {
		execCtx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			execCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		res, err := q.stmt.ExecContext(execCtx, args...)
		cancel()
		if err != nil {
			return nil, nil, &BatchUpdateError{Index: j, UpdateCounts: counts, Err: err}
		}
		counts = append(counts, affected(res))
		execResults = append(execResults, res)
	}
	return counts, execResults, nil
}

// generateKeys assigns generated keys for a completed batch. GeneratedKeys
// works on the whole batch at once; other generators run per entry.
func (b *Batch) generateKeys(ctx context.Context, br *BatchResult, execResults []sql.Result) error {
	ms := br.statement
	switch kg := ms.KeyGenerator.(type) {
	case nil, NoKeyGenerator, *NoKeyGenerator:
		return nil
	case *GeneratedKeys:
		return kg.ProcessBatch(ms, execResults, br.Parameters)
	default:
		for j, param := range br.Parameters {
			if err := kg.ProcessAfter(ctx, b.conn, ms, execResults[j], param); err != nil {
				return err
			}
		}
		return nil
	}
}

func (b *Batch) reset() {
	for _, q := range b.statements {
		closeStatement(q.stmt)
	}
	b.statements = nil
	b.results = nil
	b.currentSQL = ""
	b.currentStatement = nil
}

func closeStatement(stmt *sql.Stmt) {
	if stmt == nil {
		return
	}
	if err := stmt.Close(); err != nil {
		log.Printf("[executor] closing statement: %v", err)
	}
}
