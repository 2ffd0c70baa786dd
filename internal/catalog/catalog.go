package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/duckquery/duckquery/internal/dataset"
)

var ErrNotFound = errors.New("catalog: not found")

// Repository is the durable record of uploaded datasets and query history.
type Repository interface {
	HealthCheck(ctx context.Context) error
	UpsertDataset(ctx context.Context, in UpsertDatasetInput) (Dataset, error)
	GetDataset(ctx context.Context, sessionID, tableName string) (Dataset, error)
	ListDatasets(ctx context.Context, sessionID string) ([]Dataset, error)
	ListAllDatasets(ctx context.Context) ([]Dataset, error)
	ListDatasetsOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]Dataset, error)
	DeleteDataset(ctx context.Context, sessionID, tableName string) (bool, error)
	DeleteSessionDatasets(ctx context.Context, sessionID string) (int64, error)
	InsertQueryRecord(ctx context.Context, in InsertQueryRecordInput) (QueryRecord, error)
	ListQueryRecords(ctx context.Context, sessionID string, limit int) ([]QueryRecord, error)
}

type Dataset struct {
	SessionID    string           `json:"session_id"`
	TableName    string           `json:"table_name"`
	ObjectKey    string           `json:"object_key,omitempty"`
	SourceFormat string           `json:"source_format"`
	RowCount     int64            `json:"row_count"`
	SizeBytes    int64            `json:"size_bytes"`
	Columns      []dataset.Column `json:"columns"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

type UpsertDatasetInput struct {
	SessionID    string
	TableName    string
	ObjectKey    string
	SourceFormat string
	RowCount     int64
	SizeBytes    int64
	Columns      []dataset.Column
}

type QueryRecord struct {
	QueryID    string    `json:"query_id"`
	SessionID  string    `json:"session_id"`
	Operation  string    `json:"operation"`
	Question   string    `json:"question,omitempty"`
	SQL        string    `json:"sql,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Outcome    string    `json:"outcome"`
	RowCount   int       `json:"row_count"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

type InsertQueryRecordInput struct {
	QueryID    string
	SessionID  string
	Operation  string
	Question   string
	SQL        string
	Provider   string
	Outcome    string
	RowCount   int
	DurationMs int64
}

const DefaultHistoryLimit = 50

func NormalizeHistoryLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > 500 {
		return 500
	}
	return limit
}
