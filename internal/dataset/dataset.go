package dataset

import (
	"context"
	"errors"
	"time"
)

type ColumnType string

const (
	TypeInteger   ColumnType = "integer"
	TypeFloat     ColumnType = "float"
	TypeText      ColumnType = "text"
	TypeBoolean   ColumnType = "boolean"
	TypeTimestamp ColumnType = "timestamp"
	TypeUnknown   ColumnType = "unknown"
)

var (
	ErrTableNotFound = errors.New("dataset table not found")
	// ErrNotReadOnly is returned when the engine parses a query as anything
	// other than a single SELECT.
	ErrNotReadOnly = errors.New("query is not a single read-only statement")
)

type Column struct {
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	Nullable bool       `json:"nullable"`
}

type Table struct {
	Name     string   `json:"name"`
	Columns  []Column `json:"columns"`
	RowCount int64    `json:"row_count"`
}

// Clone returns a deep copy so callers can't mutate the store's view.
func (t Table) Clone() Table {
	columns := make([]Column, len(t.Columns))
	copy(columns, t.Columns)
	return Table{Name: t.Name, Columns: columns, RowCount: t.RowCount}
}

type QueryRequest struct {
	SQL      string
	RowLimit int
	Timeout  time.Duration
}

type QueryResult struct {
	Columns []string
	Rows    [][]any
}

// Lister is the read-only schema view of a dataset store.
type Lister interface {
	ListTables(ctx context.Context) ([]Table, error)
}

type Store interface {
	Lister
	RunQuery(ctx context.Context, request QueryRequest) (QueryResult, error)
}
