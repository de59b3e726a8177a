package executor

import (
	"context"

	"github.com/joao-brasil/mapper-runtime/internal/mapping"
	"github.com/joao-brasil/mapper-runtime/internal/transaction"
)

// Simple prepares, runs and closes one statement per call.
type Simple struct {
	base
}

var _ Executor = (*Simple)(nil)

// NewSimple creates a simple executor over tx. envID becomes part of every
// cache key.
func NewSimple(tx *transaction.Transaction, envID string) *Simple {
	s := &Simple{base: newBase(tx, envID)}
	s.impl = s
	return s
}

func (s *Simple) doUpdate(ctx context.Context, ms *mapping.MappedStatement, param any) (int64, error) {
	conn, err := s.tx.Conn(ctx)
	if err != nil {
		return 0, err
	}
	h, err := NewStatementHandler(ctx, conn, ms, param, mapping.DefaultRowBounds, nil, nil, s.tx.Timeout())
	if err != nil {
		return 0, err
	}
	stmt, err := h.Prepare(ctx, conn)
	if err != nil {
		return 0, err
	}
	defer closeStatement(stmt)
	return h.Update(ctx, conn, stmt)
}

func (s *Simple) doQuery(ctx context.Context, ms *mapping.MappedStatement, param any, bounds mapping.RowBounds, handler mapping.ResultHandler, bound *mapping.BoundSQL) ([]any, error) {
	conn, err := s.tx.Conn(ctx)
	if err != nil {
		return nil, err
	}
	h, err := NewStatementHandler(ctx, conn, ms, param, bounds, handler, bound, s.tx.Timeout())
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

func (s *Simple) doFlushStatements(ctx context.Context, rollback bool) ([]BatchResult, error) {
	return nil, nil
}
