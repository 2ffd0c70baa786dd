package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/duckquery/duckquery/internal/dataset"
)

// External file access stays off so queries can only see loaded tables.
const sessionDSN = "?enable_external_access=false"

type Store struct {
	mu      sync.RWMutex
	db      *sql.DB
	columns map[string][]dataset.Column
}

func Open() (*Store, error) {
	db, err := sql.Open("duckdb", sessionDSN)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return &Store{db: db, columns: map[string][]dataset.Column{}}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// LoadTable replaces the table with the given rows inside one transaction.
func (s *Store) LoadTable(ctx context.Context, name string, columns []dataset.Column, rows [][]any) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("table name is required")
	}
	if len(columns) == 0 {
		return fmt.Errorf("table %q has no columns", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin load transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(name))); err != nil {
		return fmt.Errorf("drop table %q: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, createTableSQL(name, columns)); err != nil {
		return fmt.Errorf("create table %q: %w", name, err)
	}

	if len(rows) > 0 {
		placeholders := make([]string, len(columns))
		for i := range placeholders {
			placeholders[i] = "?"
		}
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(name), strings.Join(placeholders, ", ")))
		if err != nil {
			return fmt.Errorf("prepare insert for %q: %w", name, err)
		}
		defer func() { _ = stmt.Close() }()

		for index, row := range rows {
			if len(row) != len(columns) {
				return fmt.Errorf("row %d has %d values, want %d", index, len(row), len(columns))
			}
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				return fmt.Errorf("insert row %d into %q: %w", index, name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit load transaction: %w", err)
	}

	stored := make([]dataset.Column, len(columns))
	copy(stored, columns)
	s.columns[name] = stored
	return nil
}

func (s *Store) DropTable(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("store is closed")
	}
	if _, ok := s.columns[name]; !ok {
		return dataset.ErrTableNotFound
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(name))); err != nil {
		return fmt.Errorf("drop table %q: %w", name, err)
	}
	delete(s.columns, name)
	return nil
}

func (s *Store) ListTables(ctx context.Context) ([]dataset.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = 'main'
ORDER BY table_name, ordinal_position`)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byName := map[string]*dataset.Table{}
	order := make([]string, 0)
	for rows.Next() {
		var tableName, columnName, dataType, isNullable string
		if err := rows.Scan(&tableName, &columnName, &dataType, &isNullable); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		table, ok := byName[tableName]
		if !ok {
			table = &dataset.Table{Name: tableName}
			byName[tableName] = table
			order = append(order, tableName)
		}
		column := dataset.Column{
			Name:     columnName,
			Type:     mapDuckDBType(dataType),
			Nullable: strings.EqualFold(isNullable, "YES"),
		}
		if declaredUnknown(s.columns[tableName], columnName) {
			column.Type = dataset.TypeUnknown
		}
		table.Columns = append(table.Columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}

	sort.Strings(order)
	tables := make([]dataset.Table, 0, len(order))
	for _, name := range order {
		table := byName[name]
		if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", quoteIdent(name))).Scan(&table.RowCount); err != nil {
			return nil, fmt.Errorf("count rows for %q: %w", name, err)
		}
		tables = append(tables, *table)
	}
	return tables, nil
}

func (s *Store) RunQuery(ctx context.Context, request dataset.QueryRequest) (dataset.QueryResult, error) {
	request.SQL = stripTrailingSemicolons(request.SQL)
	if request.SQL == "" {
		return dataset.QueryResult{}, fmt.Errorf("sql is required")
	}
	sqlText := request.SQL
	if request.RowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, request.RowLimit)
	}
	if request.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, request.Timeout)
		defer cancel()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return dataset.QueryResult{}, fmt.Errorf("store is closed")
	}

	if err := s.checkSingleSelect(ctx, request.SQL); err != nil {
		return dataset.QueryResult{}, err
	}

	rows, err := s.db.QueryContext(ctx, sqlText)
	if err != nil {
		return dataset.QueryResult{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return dataset.QueryResult{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return dataset.QueryResult{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return dataset.QueryResult{}, ctx.Err()
		}
		return dataset.QueryResult{}, fmt.Errorf("iterate rows: %w", err)
	}

	return dataset.QueryResult{Columns: columns, Rows: resultRows}, nil
}

// checkSingleSelect prepares the statement with DuckDB's own parser and
// refuses anything that is not exactly one SELECT.
func (s *Store) checkSingleSelect(ctx context.Context, sqlText string) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	return conn.Raw(func(driverConn any) error {
		dc, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		prepared, err := dc.PrepareContext(ctx, sqlText)
		if err != nil {
			return fmt.Errorf("prepare query: %w", err)
		}
		defer func() { _ = prepared.Close() }()

		stmt, ok := prepared.(*duckdb.Stmt)
		if !ok {
			return fmt.Errorf("unexpected prepared statement %T", prepared)
		}
		statementType, err := stmt.StatementType()
		if err != nil {
			return fmt.Errorf("statement type: %w", err)
		}
		if statementType != duckdb.STATEMENT_TYPE_SELECT {
			return dataset.ErrNotReadOnly
		}
		return nil
	})
}

func createTableSQL(name string, columns []dataset.Column) string {
	defs := make([]string, 0, len(columns))
	for _, column := range columns {
		def := quoteIdent(column.Name) + " " + duckDBType(column.Type)
		if !column.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(defs, ", "))
}

func duckDBType(columnType dataset.ColumnType) string {
	switch columnType {
	case dataset.TypeInteger:
		return "BIGINT"
	case dataset.TypeFloat:
		return "DOUBLE"
	case dataset.TypeBoolean:
		return "BOOLEAN"
	case dataset.TypeTimestamp:
		return "TIMESTAMP"
	default:
		return "VARCHAR"
	}
}

func mapDuckDBType(dataType string) dataset.ColumnType {
	upper := strings.ToUpper(strings.TrimSpace(dataType))
	switch {
	case upper == "BOOLEAN":
		return dataset.TypeBoolean
	case strings.HasPrefix(upper, "TIMESTAMP"), upper == "DATE":
		return dataset.TypeTimestamp
	case strings.HasPrefix(upper, "DECIMAL"), upper == "DOUBLE", upper == "FLOAT", upper == "REAL":
		return dataset.TypeFloat
	case strings.HasSuffix(upper, "INT"), upper == "BIGINT", upper == "HUGEINT", upper == "INTEGER":
		return dataset.TypeInteger
	case upper == "VARCHAR", strings.HasPrefix(upper, "VARCHAR"), upper == "TEXT":
		return dataset.TypeText
	default:
		return dataset.TypeUnknown
	}
}

// Columns with no observed values are stored as VARCHAR but reported as unknown.
func declaredUnknown(columns []dataset.Column, name string) bool {
	for _, column := range columns {
		if column.Name == name {
			return column.Type == dataset.TypeUnknown
		}
	}
	return false
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case time.Time:
			normalized[i] = typed.UTC().Format(time.RFC3339Nano)
		case duckdb.Decimal:
			normalized[i] = typed.Float64()
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
