package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/joao-brasil/mapper-runtime/internal/mapping"
)

var (
	// ErrNoKey is returned when a key query selects no row.
	ErrNoKey = errors.New("executor: key query returned no data")

	// ErrTooManyKeys is returned when a key query selects more than one row.
	ErrTooManyKeys = errors.New("executor: key query returned more than one value")
)

// NoKeyGenerator generates nothing.
type NoKeyGenerator struct{}

func (NoKeyGenerator) ProcessBefore(context.Context, mapping.Querier, *mapping.MappedStatement, any) error {
	return nil
}

func (NoKeyGenerator) ProcessAfter(context.Context, mapping.Querier, *mapping.MappedStatement, sql.Result, any) error {
	return nil
}

// GeneratedKeys reads driver-reported insert ids (sql.Result.LastInsertId)
// and hands each to Assign together with its parameter object.
type GeneratedKeys struct {
	Assign func(param any, key int64) error
}

func (g *GeneratedKeys) ProcessBefore(context.Context, mapping.Querier, *mapping.MappedStatement, any) error {
	return nil
}

func (g *GeneratedKeys) ProcessAfter(_ context.Context, _ mapping.Querier, ms *mapping.MappedStatement, res sql.Result, param any) error {
	return g.assign(ms, res, param)
}

// ProcessBatch assigns the key of every entry of a flushed batch.
func (g *GeneratedKeys) ProcessBatch(ms *mapping.MappedStatement, results []sql.Result, params []any) error {
	if len(results) != len(params) {
		return fmt.Errorf("%s: %d results for %d parameters", ms.ID, len(results), len(params))
	}
	for i, res := range results {
		if err := g.assign(ms, res, params[i]); err != nil {
			return err
		}
	}
	return nil
}

func (g *GeneratedKeys) assign(ms *mapping.MappedStatement, res sql.Result, param any) error {
	if g.Assign == nil || param == nil {
		return nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%s: reading generated key: %w", ms.ID, err)
	}
	return g.Assign(param, id)
}

// SelectKey runs a key query before or after each execution and assigns the
// single value it selects.
type SelectKey struct {
	Source mapping.SQLSource
	Before bool
	Assign func(param any, key any) error
}

func (k *SelectKey) ProcessBefore(ctx context.Context, q mapping.Querier, ms *mapping.MappedStatement, param any) error {
	if !k.Before {
		return nil
	}
	return k.process(ctx, q, ms, param)
}

func (k *SelectKey) ProcessAfter(ctx context.Context, q mapping.Querier, ms *mapping.MappedStatement, _ sql.Result, param any) error {
	if k.Before {
		return nil
	}
	return k.process(ctx, q, ms, param)
}

func (k *SelectKey) process(ctx context.Context, q mapping.Querier, ms *mapping.MappedStatement, param any) error {
	if param == nil || k.Assign == nil {
		return nil
	}
	bound, err := k.Source.BoundSQL(param)
	if err != nil {
		return fmt.Errorf("%s: rendering key query: %w", ms.ID, err)
	}
	rows, err := q.QueryContext(ctx, bound.SQL, bound.Args...)
	if err != nil {
		return fmt.Errorf("%s: key query: %w", ms.ID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%s: %w", ms.ID, ErrNoKey)
	}
	var key any
	if err := rows.Scan(&key); err != nil {
		return fmt.Errorf("%s: scanning key: %w", ms.ID, err)
	}
	if rows.Next() {
		return fmt.Errorf("%s: %w", ms.ID, ErrTooManyKeys)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return k.Assign(param, key)
}
