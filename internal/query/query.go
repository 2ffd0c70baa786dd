package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/duckquery/duckquery/internal/dataset"
	"github.com/duckquery/duckquery/internal/observability"
	"github.com/duckquery/duckquery/internal/sqlguard"
)

var (
	ErrExecutionTimeout     = errors.New("query execution timed out")
	ErrCandidateNotAccepted = errors.New("candidate statement was not accepted")
)

// ExecutionError carries a user-displayable description of a failed query.
type ExecutionError struct {
	Detail string
	Cause  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("query execution failed: %s", e.Detail)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

type Outcome struct {
	Columns       []string      `json:"columns"`
	Rows          [][]any       `json:"rows"`
	RowCount      int           `json:"row_count"`
	ExecutionTime int64         `json:"execution_time_ms"`
	Truncated     bool          `json:"truncated"`
	Elapsed       time.Duration `json:"-"`
}

const (
	DefaultTimeout = 5 * time.Second
	DefaultMaxRows = 1000
)

type Executor struct {
	timeout time.Duration
	maxRows int
}

func NewExecutor(timeout time.Duration, maxRows int) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &Executor{timeout: timeout, maxRows: maxRows}
}

func (e *Executor) MaxRows() int {
	return e.maxRows
}

// Execute runs an accepted candidate. The store is asked for one row past
// the cap so truncation can be reported. Execute stops waiting when the
// timeout passes even if the store does not honor cancellation.
func (e *Executor) Execute(ctx context.Context, store dataset.Store, candidate sqlguard.Candidate) (Outcome, error) {
	if !candidate.Accepted() {
		return Outcome{}, ErrCandidateNotAccepted
	}
	if store == nil {
		return Outcome{}, &ExecutionError{Detail: "dataset store is not available"}
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		result dataset.QueryResult
		err    error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- outcome{err: fmt.Errorf("panic during query: %v", recovered)}
			}
		}()
		result, err := store.RunQuery(runCtx, dataset.QueryRequest{
			SQL:      candidate.Statement,
			RowLimit: e.maxRows + 1,
			Timeout:  e.timeout,
		})
		done <- outcome{result: result, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			observability.IncrementQueryTimeout()
			return Outcome{}, ErrExecutionTimeout
		}
		return Outcome{}, &ExecutionError{Detail: "query was cancelled", Cause: runCtx.Err()}
	}
	elapsed := time.Since(start)
	observability.ObserveQueryLatency(elapsed)

	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			observability.IncrementQueryTimeout()
			return Outcome{}, ErrExecutionTimeout
		}
		return Outcome{}, &ExecutionError{Detail: res.err.Error(), Cause: res.err}
	}

	rows := res.result.Rows
	if rows == nil {
		rows = [][]any{}
	}
	truncated := false
	if len(rows) > e.maxRows {
		rows = rows[:e.maxRows]
		truncated = true
	}
	columns := res.result.Columns
	if columns == nil {
		columns = []string{}
	}

	return Outcome{
		Columns:       columns,
		Rows:          rows,
		RowCount:      len(rows),
		ExecutionTime: elapsed.Milliseconds(),
		Truncated:     truncated,
		Elapsed:       elapsed,
	}, nil
}
