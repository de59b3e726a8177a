package executor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/joao-brasil/mapper-runtime/internal/datasource"
	"github.com/joao-brasil/mapper-runtime/internal/mapping"
	"github.com/joao-brasil/mapper-runtime/internal/metrics"
)

// StatementHandler prepares, binds and runs one mapped statement.
type StatementHandler struct {
	ms      *mapping.MappedStatement
	param   any
	bound   *mapping.BoundSQL
	bounds  mapping.RowBounds
	handler mapping.ResultHandler
	timeout time.Duration
}

// NewStatementHandler renders the statement for param unless bound is
// given. Key generators that run before the statement do so here, so their
// keys are visible to the rendered arguments.
func NewStatementHandler(ctx context.Context, q mapping.Querier, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, handler mapping.ResultHandler, bound *mapping.BoundSQL, txTimeout time.Duration) (*StatementHandler, error) {
	h := &StatementHandler{
		ms:      ms,
		param:   param,
		bound:   bound,
		bounds:  bounds,
		handler: handler,
		timeout: statementTimeout(ms.Timeout, txTimeout),
	}
	if h.bound == nil {
		if ms.KeyGenerator != nil && ms.Command != mapping.Select {
			if err := ms.KeyGenerator.ProcessBefore(ctx, q, ms, param); err != nil {
				return nil, fmt.Errorf("%s: generating keys: %w", ms.ID, err)
			}
		}
		b, err := ms.Source.BoundSQL(param)
		if err != nil {
			return nil, fmt.Errorf("rendering %s: %w", ms.ID, err)
		}
		h.bound = b
	}
	return h, nil
}

// statementTimeout picks the smaller positive of the statement and
// transaction timeouts.
func statementTimeout(stmt, tx time.Duration) time.Duration {
	switch {
	case stmt <= 0:
		return tx
	case tx <= 0:
		return stmt
	case tx < stmt:
		return tx
	default:
		return stmt
	}
}

func (h *StatementHandler) BoundSQL() *mapping.BoundSQL {
	return h.bound
}

func (h *StatementHandler) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.timeout > 0 {
		return context.WithTimeout(ctx, h.timeout)
	}
	return ctx, func() {}
}

// Prepare prepares the rendered SQL on conn.
func (h *StatementHandler) Prepare(ctx context.Context, conn datasource.Conn) (*sql.Stmt, error) {
	stmt, err := conn.PrepareContext(ctx, h.bound.SQL)
	if err != nil {
		return nil, fmt.Errorf("preparing %s: %w", h.ms.ID, err)
	}
	return stmt, nil
}

// Parameterize returns the ordered bind values.
func (h *StatementHandler) Parameterize() []any {
	return h.bound.Args
}

// Update executes stmt and runs the after-execution key generator.
func (h *StatementHandler) Update(ctx context.Context, q mapping.Querier, stmt *sql.Stmt) (int64, error) {
	start := time.Now()
	execCtx, cancel := h.bounded(ctx)
	res, err := stmt.ExecContext(execCtx, h.Parameterize()...)
	cancel()
	metrics.StatementDuration.WithLabelValues(h.ms.Command.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("executing %s: %w", h.ms.ID, err)
	}

	if h.ms.KeyGenerator != nil {
		if err := h.ms.KeyGenerator.ProcessAfter(ctx, q, h.ms, res, h.param); err != nil {
			return 0, fmt.Errorf("%s: generating keys: %w", h.ms.ID, err)
		}
	}
	return affected(res), nil
}

// Query executes stmt and maps rows within the row bounds. A result handler,
// when set, receives each object and may stop the scan.
func (h *StatementHandler) Query(ctx context.Context, stmt *sql.Stmt) ([]any, error) {
	start := time.Now()
	defer func() {
		metrics.StatementDuration.WithLabelValues(h.ms.Command.String()).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := h.bounded(ctx)
	defer cancel()

	rows, err := stmt.QueryContext(ctx, h.Parameterize()...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", h.ms.ID, err)
	}
	defer rows.Close()

	mapper := h.ms.Mapper
	if mapper == nil {
		mapper = mapping.Map()
	}
	limit := h.bounds.Limit
	if limit <= 0 {
		limit = mapping.NoLimit
	}

	for i := 0; i < h.bounds.Offset; i++ {
		if !rows.Next() {
			return h.finish(rows, []any{})
		}
	}

	list := []any{}
	var rc mapping.ResultContext
	for !rc.Stopped() && rc.Count() < limit && rows.Next() {
		obj, err := mapper(rows)
		if err != nil {
			return nil, fmt.Errorf("mapping %s: %w", h.ms.ID, err)
		}
		rc.Next(obj)
		if h.handler != nil {
			h.handler(&rc)
			continue
		}
		list = append(list, obj)
	}
	return h.finish(rows, list)
}

func (h *StatementHandler) finish(rows *sql.Rows, list []any) ([]any, error) {
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", h.ms.ID, err)
	}
	if h.handler != nil {
		return nil, nil
	}
	return list, nil
}

func affected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return SuccessNoInfo
	}
	return n
}
