package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/duckquery/duckquery/internal/catalog"
	"github.com/duckquery/duckquery/internal/dataset"
)

var datasetRowColumns = []string{"session_id", "table_name", "object_key", "source_format", "row_count", "size_bytes", "columns_json", "created_at", "updated_at"}

func TestUpsertDatasetEncodesColumns(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now().UTC()
	columnsJSON := `[{"name":"id","type":"integer","nullable":false}]`

	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO dataset (session_id, table_name, object_key, source_format, row_count, size_bytes, columns_json)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
ON CONFLICT (session_id, table_name)`)).
		WithArgs("s1", "users", "sessions/s1/users/a.parquet", "csv", int64(3), int64(512), columnsJSON).
		WillReturnRows(sqlmock.NewRows(datasetRowColumns).
			AddRow("s1", "users", "sessions/s1/users/a.parquet", "csv", int64(3), int64(512), []byte(columnsJSON), now, now))

	item, err := repo.UpsertDataset(context.Background(), catalog.UpsertDatasetInput{
		SessionID:    "s1",
		TableName:    "users",
		ObjectKey:    "sessions/s1/users/a.parquet",
		SourceFormat: "csv",
		RowCount:     3,
		SizeBytes:    512,
		Columns:      []dataset.Column{{Name: "id", Type: dataset.TypeInteger}},
	})
	if err != nil {
		t.Fatalf("UpsertDataset() error = %v", err)
	}
	if len(item.Columns) != 1 || item.Columns[0].Type != dataset.TypeInteger {
		t.Fatalf("Columns = %#v", item.Columns)
	}
	if !item.UpdatedAt.Equal(now) {
		t.Fatalf("UpdatedAt = %v, want %v", item.UpdatedAt, now)
	}
	assertSQLMock(t, mock)
}

func TestGetDatasetReturnsNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM dataset
WHERE session_id = $1 AND table_name = $2`)).
		WithArgs("s1", "missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetDataset(context.Background(), "s1", "missing")
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, catalog.ErrNotFound)
	}
	assertSQLMock(t, mock)
}

func TestListDatasetsOlderThan(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	cutoff := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	old := cutoff.Add(-48 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM dataset
WHERE updated_at < $1
ORDER BY updated_at ASC
LIMIT $2`)).
		WithArgs(cutoff, 1000).
		WillReturnRows(sqlmock.NewRows(datasetRowColumns).
			AddRow("s1", "users", "k1", "csv", int64(1), int64(10), []byte(`[]`), old, old).
			AddRow("s2", "orders", "k2", "json", int64(2), int64(20), nil, old, old))

	items, err := repo.ListDatasetsOlderThan(context.Background(), cutoff, 0)
	if err != nil {
		t.Fatalf("ListDatasetsOlderThan() error = %v", err)
	}
	if len(items) != 2 || items[1].TableName != "orders" {
		t.Fatalf("items = %#v", items)
	}
	if items[1].Columns == nil {
		t.Fatal("expected empty columns slice for null columns_json")
	}
	assertSQLMock(t, mock)
}

func TestDeleteDataset(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`
DELETE FROM dataset
WHERE session_id = $1 AND table_name = $2`)).
		WithArgs("s1", "users").
		WillReturnResult(sqlmock.NewResult(0, 1))

	deleted, err := repo.DeleteDataset(context.Background(), "s1", "users")
	if err != nil {
		t.Fatalf("DeleteDataset() error = %v", err)
	}
	if !deleted {
		t.Fatal("expected deleted=true")
	}
	assertSQLMock(t, mock)
}

func TestDeleteSessionDatasets(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`
DELETE FROM dataset
WHERE session_id = $1`)).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	deleted, err := repo.DeleteSessionDatasets(context.Background(), "s1")
	if err != nil {
		t.Fatalf("DeleteSessionDatasets() error = %v", err)
	}
	if deleted != 3 {
		t.Fatalf("deleted = %d, want 3", deleted)
	}
	assertSQLMock(t, mock)
}

func TestInsertQueryRecordGeneratesID(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO query_history (query_id, session_id, operation, question, sql_text, provider, outcome, row_count, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING created_at`)).
		WithArgs(sqlmock.AnyArg(), "s1", "translate", "how many users?", "SELECT count(*) FROM users", "openai", "ok", 1, int64(12)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	record, err := repo.InsertQueryRecord(context.Background(), catalog.InsertQueryRecordInput{
		SessionID:  "s1",
		Operation:  "translate",
		Question:   "how many users?",
		SQL:        "SELECT count(*) FROM users",
		Provider:   "openai",
		Outcome:    "ok",
		RowCount:   1,
		DurationMs: 12,
	})
	if err != nil {
		t.Fatalf("InsertQueryRecord() error = %v", err)
	}
	if len(record.QueryID) != 36 {
		t.Fatalf("QueryID = %q", record.QueryID)
	}
	if !record.CreatedAt.Equal(now) {
		t.Fatalf("CreatedAt = %v, want %v", record.CreatedAt, now)
	}
	assertSQLMock(t, mock)
}

func TestListQueryRecordsClampsLimit(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM query_history
WHERE session_id = $1
ORDER BY created_at DESC
LIMIT $2`)).
		WithArgs("s1", catalog.DefaultHistoryLimit).
		WillReturnRows(sqlmock.NewRows([]string{"query_id", "session_id", "operation", "question", "sql_text", "provider", "outcome", "row_count", "duration_ms", "created_at"}).
			AddRow("6f1c2a9e-0000-4000-8000-000000000001", "s1", "suggest", "", "", "gemini", "ok", 0, int64(40), now))

	records, err := repo.ListQueryRecords(context.Background(), "s1", 0)
	if err != nil {
		t.Fatalf("ListQueryRecords() error = %v", err)
	}
	if len(records) != 1 || records[0].Provider != "gemini" {
		t.Fatalf("records = %#v", records)
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
