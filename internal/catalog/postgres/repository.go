package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/duckquery/duckquery/internal/catalog"
	"github.com/duckquery/duckquery/internal/dataset"
)

type rowScanner interface {
	Scan(dest ...any) error
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping catalog db: %w", err)
	}
	return nil
}

const datasetColumns = `session_id, table_name, object_key, source_format, row_count, size_bytes, columns_json, created_at, updated_at`

func (r *Repository) UpsertDataset(ctx context.Context, in catalog.UpsertDatasetInput) (catalog.Dataset, error) {
	columns := in.Columns
	if columns == nil {
		columns = []dataset.Column{}
	}
	columnsJSON, err := json.Marshal(columns)
	if err != nil {
		return catalog.Dataset{}, fmt.Errorf("encode dataset columns: %w", err)
	}

	query := `
INSERT INTO dataset (session_id, table_name, object_key, source_format, row_count, size_bytes, columns_json)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
ON CONFLICT (session_id, table_name)
DO UPDATE SET object_key = EXCLUDED.object_key,
    source_format = EXCLUDED.source_format,
    row_count = EXCLUDED.row_count,
    size_bytes = EXCLUDED.size_bytes,
    columns_json = EXCLUDED.columns_json,
    updated_at = NOW()
RETURNING ` + datasetColumns

	row := r.db.QueryRowContext(ctx, query, in.SessionID, in.TableName, in.ObjectKey, in.SourceFormat, in.RowCount, in.SizeBytes, string(columnsJSON))
	item, err := scanDataset(row)
	if err != nil {
		return catalog.Dataset{}, fmt.Errorf("upsert dataset: %w", err)
	}
	return item, nil
}

func (r *Repository) GetDataset(ctx context.Context, sessionID, tableName string) (catalog.Dataset, error) {
	query := `
SELECT ` + datasetColumns + `
FROM dataset
WHERE session_id = $1 AND table_name = $2`

	item, err := scanDataset(r.db.QueryRowContext(ctx, query, sessionID, tableName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Dataset{}, catalog.ErrNotFound
		}
		return catalog.Dataset{}, fmt.Errorf("get dataset: %w", err)
	}
	return item, nil
}

func (r *Repository) ListDatasets(ctx context.Context, sessionID string) ([]catalog.Dataset, error) {
	return r.queryDatasets(ctx, "list datasets", `
SELECT `+datasetColumns+`
FROM dataset
WHERE session_id = $1
ORDER BY table_name ASC`, sessionID)
}

func (r *Repository) ListAllDatasets(ctx context.Context) ([]catalog.Dataset, error) {
	return r.queryDatasets(ctx, "list all datasets", `
SELECT `+datasetColumns+`
FROM dataset
ORDER BY session_id ASC, table_name ASC`)
}

func (r *Repository) ListDatasetsOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]catalog.Dataset, error) {
	if limit <= 0 {
		limit = 1000
	}
	return r.queryDatasets(ctx, "list expired datasets", `
SELECT `+datasetColumns+`
FROM dataset
WHERE updated_at < $1
ORDER BY updated_at ASC
LIMIT $2`, cutoff, limit)
}

func (r *Repository) DeleteDataset(ctx context.Context, sessionID, tableName string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM dataset
WHERE session_id = $1 AND table_name = $2`, sessionID, tableName)
	if err != nil {
		return false, fmt.Errorf("delete dataset: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete dataset rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *Repository) DeleteSessionDatasets(ctx context.Context, sessionID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM dataset
WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete session datasets: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete session datasets rows affected: %w", err)
	}
	return affected, nil
}

func (r *Repository) InsertQueryRecord(ctx context.Context, in catalog.InsertQueryRecordInput) (catalog.QueryRecord, error) {
	queryID := in.QueryID
	if queryID == "" {
		queryID = uuid.NewString()
	}

	query := `
INSERT INTO query_history (query_id, session_id, operation, question, sql_text, provider, outcome, row_count, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING created_at`

	record := catalog.QueryRecord{
		QueryID:    queryID,
		SessionID:  in.SessionID,
		Operation:  in.Operation,
		Question:   in.Question,
		SQL:        in.SQL,
		Provider:   in.Provider,
		Outcome:    in.Outcome,
		RowCount:   in.RowCount,
		DurationMs: in.DurationMs,
	}
	if err := r.db.QueryRowContext(ctx, query,
		queryID, in.SessionID, in.Operation, in.Question, in.SQL, in.Provider, in.Outcome, in.RowCount, in.DurationMs,
	).Scan(&record.CreatedAt); err != nil {
		return catalog.QueryRecord{}, fmt.Errorf("insert query record: %w", err)
	}
	return record, nil
}

func (r *Repository) ListQueryRecords(ctx context.Context, sessionID string, limit int) ([]catalog.QueryRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT query_id, session_id, operation, question, sql_text, provider, outcome, row_count, duration_ms, created_at
FROM query_history
WHERE session_id = $1
ORDER BY created_at DESC
LIMIT $2`, sessionID, catalog.NormalizeHistoryLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]catalog.QueryRecord, 0)
	for rows.Next() {
		var record catalog.QueryRecord
		if err := rows.Scan(
			&record.QueryID,
			&record.SessionID,
			&record.Operation,
			&record.Question,
			&record.SQL,
			&record.Provider,
			&record.Outcome,
			&record.RowCount,
			&record.DurationMs,
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan query record row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query record rows: %w", err)
	}
	return records, nil
}

func (r *Repository) queryDatasets(ctx context.Context, op, query string, args ...any) ([]catalog.Dataset, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]catalog.Dataset, 0)
	for rows.Next() {
		item, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dataset row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dataset rows: %w", err)
	}
	return items, nil
}

func scanDataset(row rowScanner) (catalog.Dataset, error) {
	var item catalog.Dataset
	var columnsJSON []byte
	if err := row.Scan(
		&item.SessionID,
		&item.TableName,
		&item.ObjectKey,
		&item.SourceFormat,
		&item.RowCount,
		&item.SizeBytes,
		&columnsJSON,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return catalog.Dataset{}, err
	}
	item.Columns = []dataset.Column{}
	if len(columnsJSON) > 0 {
		if err := json.Unmarshal(columnsJSON, &item.Columns); err != nil {
			return catalog.Dataset{}, fmt.Errorf("decode dataset columns: %w", err)
		}
	}
	return item, nil
}
