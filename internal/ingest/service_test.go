package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/duckquery/duckquery/internal/catalog"
	"github.com/duckquery/duckquery/internal/dataset"
	"github.com/duckquery/duckquery/internal/dataset/duckdb"
	"github.com/duckquery/duckquery/internal/storage"
)

const usersCSV = "id,name,signup_date\n1,ada,2026-09-01\n2,grace,2026-09-21\n"

func newTestService(t *testing.T, objects storage.ObjectStore) (*Service, *duckdb.Manager, *catalog.Memory) {
	t.Helper()
	manager := duckdb.NewManager()
	t.Cleanup(func() { _ = manager.Close() })
	repo := catalog.NewMemory()
	service, err := NewService(Options{Sessions: manager, Catalog: repo, Objects: objects})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return service, manager, repo
}

func TestUploadLoadsTableAndArchives(t *testing.T) {
	objects := newMemoryObjects()
	service, manager, repo := newTestService(t, objects)
	ctx := context.Background()

	result, err := service.Upload(ctx, UploadInput{SessionID: "s1", Table: "Users", Format: FormatCSV, Body: strings.NewReader(usersCSV)})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if !result.Persisted || result.Dataset.TableName != "users" || result.Dataset.RowCount != 2 {
		t.Fatalf("result = %#v", result)
	}
	if !strings.HasPrefix(result.Dataset.ObjectKey, "sessions/s1/users/") {
		t.Fatalf("object key = %q", result.Dataset.ObjectKey)
	}
	if objects.count() != 1 {
		t.Fatalf("objects = %d", objects.count())
	}

	store, err := manager.Session("s1")
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	tables, err := store.ListTables(ctx)
	if err != nil || len(tables) != 1 || tables[0].RowCount != 2 {
		t.Fatalf("ListTables() = %#v, %v", tables, err)
	}

	second, err := service.Upload(ctx, UploadInput{SessionID: "s1", Table: "users", Format: FormatCSV, Body: strings.NewReader("id\n7\n")})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if objects.count() != 1 || !objects.has(second.Dataset.ObjectKey) {
		t.Fatalf("previous archive not replaced: %v", objects.keys())
	}
	listed, _ := repo.ListDatasets(ctx, "s1")
	if len(listed) != 1 || listed[0].RowCount != 1 {
		t.Fatalf("ListDatasets() = %#v", listed)
	}
	info, err := objects.Stat(ctx, second.Dataset.ObjectKey)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Metadata[storage.MetadataSessionID] != "s1" || info.Metadata[storage.MetadataTableName] != "users" || info.Metadata[storage.MetadataRowCount] != "1" {
		t.Fatalf("archive metadata = %v", info.Metadata)
	}
}

func TestUploadWithoutObjectStore(t *testing.T) {
	service, _, repo := newTestService(t, nil)
	result, err := service.Upload(context.Background(), UploadInput{SessionID: "any session", Table: "users", Format: FormatJSON, Body: strings.NewReader(`[{"id": 1}]`)})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if result.Persisted || result.Dataset.ObjectKey != "" {
		t.Fatalf("result = %#v", result)
	}
	listed, _ := repo.ListDatasets(context.Background(), "any session")
	if len(listed) != 1 {
		t.Fatalf("ListDatasets() = %#v", listed)
	}
}

func TestUploadRejectsBadInput(t *testing.T) {
	service, _, _ := newTestService(t, nil)
	if _, err := service.Upload(context.Background(), UploadInput{SessionID: "s1", Table: "???", Format: FormatCSV, Body: strings.NewReader(usersCSV)}); err == nil {
		t.Fatal("expected table name error")
	}
	if _, err := service.Upload(context.Background(), UploadInput{SessionID: "s1", Table: "t", Format: "xml", Body: strings.NewReader("<a/>")}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Upload() error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestDropRemovesTableCatalogAndArchive(t *testing.T) {
	objects := newMemoryObjects()
	service, manager, repo := newTestService(t, objects)
	ctx := context.Background()
	if _, err := service.Upload(ctx, UploadInput{SessionID: "s1", Table: "users", Format: FormatCSV, Body: strings.NewReader(usersCSV)}); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if err := service.Drop(ctx, "s1", "users"); err != nil {
		t.Fatalf("Drop() error = %v", err)
	}
	if objects.count() != 0 {
		t.Fatalf("objects left = %v", objects.keys())
	}
	if _, err := repo.GetDataset(ctx, "s1", "users"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("GetDataset() error = %v", err)
	}
	store, _ := manager.Session("s1")
	tables, _ := store.ListTables(ctx)
	if len(tables) != 0 {
		t.Fatalf("tables = %#v", tables)
	}
	if err := service.Drop(ctx, "s1", "users"); !errors.Is(err, dataset.ErrTableNotFound) {
		t.Fatalf("second Drop() error = %v, want ErrTableNotFound", err)
	}
}

func TestResetClearsSession(t *testing.T) {
	objects := newMemoryObjects()
	service, _, repo := newTestService(t, objects)
	ctx := context.Background()
	for _, table := range []string{"users", "orders"} {
		if _, err := service.Upload(ctx, UploadInput{SessionID: "s1", Table: table, Format: FormatCSV, Body: strings.NewReader(usersCSV)}); err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
	}
	if _, err := service.Upload(ctx, UploadInput{SessionID: "s2", Table: "users", Format: FormatCSV, Body: strings.NewReader(usersCSV)}); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	deleted, err := service.Reset(ctx, "s1")
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d", deleted)
	}
	if objects.count() != 1 {
		t.Fatalf("objects left = %v", objects.keys())
	}
	store, _ := service.Store("s1")
	tables, _ := store.ListTables(ctx)
	if len(tables) != 0 {
		t.Fatalf("tables after reset = %#v", tables)
	}
	remaining, _ := repo.ListAllDatasets(ctx)
	if len(remaining) != 1 || remaining[0].SessionID != "s2" {
		t.Fatalf("remaining = %#v", remaining)
	}
}

func TestRestoreReloadsArchivedDatasets(t *testing.T) {
	objects := newMemoryObjects()
	repo := catalog.NewMemory()
	ctx := context.Background()

	first := duckdb.NewManager()
	writer, err := NewService(Options{Sessions: first, Catalog: repo, Objects: objects})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	if _, err := writer.Upload(ctx, UploadInput{SessionID: "s1", Table: "users", Format: FormatCSV, Body: strings.NewReader(usersCSV)}); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	_ = first.Close()

	_, _ = repo.UpsertDataset(ctx, catalog.UpsertDatasetInput{SessionID: "s2", TableName: "ghost", SourceFormat: "csv", ObjectKey: "sessions/s2/ghost/missing.parquet"})

	second := duckdb.NewManager()
	t.Cleanup(func() { _ = second.Close() })
	reader, err := NewService(Options{Sessions: second, Catalog: repo, Objects: objects})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	report, err := reader.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if report.Restored != 1 || report.Failed != 1 {
		t.Fatalf("report = %#v", report)
	}

	store, _ := second.Session("s1")
	result, err := store.RunQuery(ctx, dataset.QueryRequest{SQL: "SELECT name FROM users ORDER BY id", RowLimit: 10})
	if err != nil {
		t.Fatalf("RunQuery() error = %v", err)
	}
	if len(result.Rows) != 2 || result.Rows[1][0] != "grace" {
		t.Fatalf("rows = %#v", result.Rows)
	}
}

type memoryObjects struct {
	mu       sync.Mutex
	objects  map[string][]byte
	metadata map[string]map[string]string
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: map[string][]byte{}, metadata: map[string]map[string]string{}}
}

func (m *memoryObjects) Put(_ context.Context, key string, body io.Reader, _ int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.metadata[key] = opts.Metadata
	return storage.ObjectInfo{Key: key, Size: int64(len(data)), Metadata: opts.Metadata}, nil
}

func (m *memoryObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryObjects) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data)), Metadata: m.metadata[key]}, nil
}

func (m *memoryObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryObjects) DeletePrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			delete(m.objects, key)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memoryObjects) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func (m *memoryObjects) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

func (m *memoryObjects) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	return keys
}
