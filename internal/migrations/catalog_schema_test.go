package migrations

import (
	"strings"
	"testing"
)

func TestDatasetMigrationDefinesRegistry(t *testing.T) {
	body, err := embeddedFS.ReadFile("sql/000001_datasets.up.sql")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	requireSnippets(t, string(body),
		"CREATE TABLE dataset",
		"PRIMARY KEY (session_id, table_name)",
		"columns_json JSONB",
		"CREATE INDEX idx_dataset_updated_at",
	)
}

func TestQueryHistoryMigrationDefinesTable(t *testing.T) {
	body, err := embeddedFS.ReadFile("sql/000002_query_history.up.sql")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	requireSnippets(t, string(body),
		"CREATE TABLE query_history",
		"query_id UUID PRIMARY KEY",
		"operation IN ('translate', 'suggest', 'run')",
		"CREATE INDEX idx_query_history_session_created_desc",
	)
}

func TestEmbeddedMigrationsLoad(t *testing.T) {
	items, err := loadMigrations(embeddedFS)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) != 2 || items[0].Version != 1 || items[1].Version != 2 {
		t.Fatalf("unexpected embedded migrations: %+v", items)
	}
	for _, item := range items {
		if !strings.Contains(item.DownSQL, "DROP TABLE IF EXISTS") {
			t.Fatalf("migration %d down SQL does not drop its table", item.Version)
		}
	}
}

func requireSnippets(t *testing.T, sql string, snippets ...string) {
	t.Helper()
	for _, snippet := range snippets {
		if !strings.Contains(sql, snippet) {
			t.Fatalf("migration missing required snippet: %s", snippet)
		}
	}
}
