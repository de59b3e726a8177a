package executor

import (
	"fmt"
	"strings"

	"github.com/joao-brasil/mapper-runtime/internal/mapping"
)

// BatchResult is one accumulated group of same-shape updates and, after a
// successful flush, the per-entry update counts.
type BatchResult struct {
	StatementID  string
	SQL          string
	Parameters   []any
	UpdateCounts []int64

	statement *mapping.MappedStatement
}

func newBatchResult(ms *mapping.MappedStatement, sql string, param any) *BatchResult {
	return &BatchResult{
		StatementID: ms.ID,
		SQL:         sql,
		Parameters:  []any{param},
		statement:   ms,
	}
}

// Statement returns the mapped statement the batch was built from.
func (r BatchResult) Statement() *mapping.MappedStatement {
	return r.statement
}

// BatchUpdateError is the driver failure inside one batch. UpdateCounts
// holds the counts of the entries that ran before Index.
type BatchUpdateError struct {
	Index        int
	UpdateCounts []int64
	Err          error
}

func (e *BatchUpdateError) Error() string {
	return fmt.Sprintf("batch entry %d failed after %d successful entries: %v", e.Index, len(e.UpdateCounts), e.Err)
}

func (e *BatchUpdateError) Unwrap() error {
	return e.Err
}

// BatchError reports a failed flush. Completed holds the batches that ran
// before the failing one; later batches were never attempted.
type BatchError struct {
	// BatchIndex is the 1-based position of the failing batch.
	BatchIndex int
	Completed  []BatchResult
	Failed     BatchResult
	Err        error
}

func (e *BatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (batch index #%d) failed.", e.Failed.StatementID, e.BatchIndex)
	if e.BatchIndex > 1 {
		fmt.Fprintf(&b, " %d prior sub executor(s) completed successfully, but will be rolled back.", e.BatchIndex-1)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, " Cause: %v", e.Err)
	}
	return b.String()
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
