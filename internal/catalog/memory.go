package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/duckquery/duckquery/internal/dataset"
)

// Memory is a process-local Repository used when persistence is disabled.
type Memory struct {
	mu       sync.Mutex
	now      func() time.Time
	datasets map[datasetKey]Dataset
	history  []QueryRecord
}

type datasetKey struct {
	session string
	table   string
}

func NewMemory() *Memory {
	return &Memory{now: func() time.Time { return time.Now().UTC() }, datasets: map[datasetKey]Dataset{}}
}

func (m *Memory) HealthCheck(context.Context) error {
	return nil
}

func (m *Memory) UpsertDataset(_ context.Context, in UpsertDatasetInput) (Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	key := datasetKey{session: in.SessionID, table: in.TableName}
	createdAt := now
	if existing, ok := m.datasets[key]; ok {
		createdAt = existing.CreatedAt
	}
	item := Dataset{
		SessionID:    in.SessionID,
		TableName:    in.TableName,
		ObjectKey:    in.ObjectKey,
		SourceFormat: in.SourceFormat,
		RowCount:     in.RowCount,
		SizeBytes:    in.SizeBytes,
		Columns:      cloneColumns(in.Columns),
		CreatedAt:    createdAt,
		UpdatedAt:    now,
	}
	m.datasets[key] = item
	return item, nil
}

func (m *Memory) GetDataset(_ context.Context, sessionID, tableName string) (Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.datasets[datasetKey{session: sessionID, table: tableName}]
	if !ok {
		return Dataset{}, ErrNotFound
	}
	return item, nil
}

func (m *Memory) ListDatasets(_ context.Context, sessionID string) ([]Dataset, error) {
	return m.collect(func(item Dataset) bool { return item.SessionID == sessionID }, 0), nil
}

func (m *Memory) ListAllDatasets(context.Context) ([]Dataset, error) {
	return m.collect(func(Dataset) bool { return true }, 0), nil
}

func (m *Memory) ListDatasetsOlderThan(_ context.Context, cutoff time.Time, limit int) ([]Dataset, error) {
	return m.collect(func(item Dataset) bool { return item.UpdatedAt.Before(cutoff) }, limit), nil
}

func (m *Memory) DeleteDataset(_ context.Context, sessionID, tableName string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := datasetKey{session: sessionID, table: tableName}
	if _, ok := m.datasets[key]; !ok {
		return false, nil
	}
	delete(m.datasets, key)
	return true, nil
}

func (m *Memory) DeleteSessionDatasets(_ context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for key := range m.datasets {
		if key.session == sessionID {
			delete(m.datasets, key)
			deleted++
		}
	}
	return deleted, nil
}

func (m *Memory) InsertQueryRecord(_ context.Context, in InsertQueryRecordInput) (QueryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := in.QueryID
	if id == "" {
		id = uuid.NewString()
	}
	record := QueryRecord{
		QueryID:    id,
		SessionID:  in.SessionID,
		Operation:  in.Operation,
		Question:   in.Question,
		SQL:        in.SQL,
		Provider:   in.Provider,
		Outcome:    in.Outcome,
		RowCount:   in.RowCount,
		DurationMs: in.DurationMs,
		CreatedAt:  m.now(),
	}
	m.history = append(m.history, record)
	return record, nil
}

// ListQueryRecords returns the session's newest records first.
func (m *Memory) ListQueryRecords(_ context.Context, sessionID string, limit int) ([]QueryRecord, error) {
	limit = NormalizeHistoryLimit(limit)
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]QueryRecord, 0)
	for i := len(m.history) - 1; i >= 0 && len(records) < limit; i-- {
		if m.history[i].SessionID == sessionID {
			records = append(records, m.history[i])
		}
	}
	return records, nil
}

func (m *Memory) collect(match func(Dataset) bool, limit int) []Dataset {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]Dataset, 0)
	for _, item := range m.datasets {
		if match(item) {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].SessionID != items[j].SessionID {
			return items[i].SessionID < items[j].SessionID
		}
		return items[i].TableName < items[j].TableName
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func cloneColumns(columns []dataset.Column) []dataset.Column {
	out := make([]dataset.Column, len(columns))
	copy(out, columns)
	return out
}
