package schema

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/duckquery/duckquery/internal/dataset"
)

var ErrNoData = errors.New("no data loaded")

// Snapshot is a point-in-time view of loaded table structure. Accessors
// return copies; a Snapshot is never mutated after it is built.
type Snapshot struct {
	tables map[string]dataset.Table
}

func NewSnapshot(tables []dataset.Table) Snapshot {
	byName := make(map[string]dataset.Table, len(tables))
	for _, table := range tables {
		byName[table.Name] = table.Clone()
	}
	return Snapshot{tables: byName}
}

func (s Snapshot) Len() int {
	return len(s.tables)
}

func (s Snapshot) Empty() bool {
	return len(s.tables) == 0
}

// Names returns table names in sorted order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s Snapshot) Table(name string) (dataset.Table, bool) {
	table, ok := s.tables[name]
	if !ok {
		return dataset.Table{}, false
	}
	return table.Clone(), true
}

// Lookup resolves a name case-insensitively and returns the schema spelling.
// An exact match wins; otherwise the first match in sorted order does.
func (s Snapshot) Lookup(name string) (string, bool) {
	if _, ok := s.tables[name]; ok {
		return name, true
	}
	for _, candidate := range s.Names() {
		if strings.EqualFold(candidate, name) {
			return candidate, true
		}
	}
	return "", false
}

// Tables returns copies of all tables sorted by name.
func (s Snapshot) Tables() []dataset.Table {
	names := s.Names()
	tables := make([]dataset.Table, 0, len(names))
	for _, name := range names {
		tables = append(tables, s.tables[name].Clone())
	}
	return tables
}

// Filter keeps only the named tables. Unknown names are dropped silently.
// An empty filter returns the snapshot unchanged.
func (s Snapshot) Filter(names []string) Snapshot {
	if len(names) == 0 {
		return s
	}
	filtered := make(map[string]dataset.Table)
	for _, name := range names {
		resolved, ok := s.Lookup(strings.TrimSpace(name))
		if !ok {
			continue
		}
		filtered[resolved] = s.tables[resolved].Clone()
	}
	return Snapshot{tables: filtered}
}

func (s Snapshot) Equal(other Snapshot) bool {
	if len(s.tables) != len(other.tables) {
		return false
	}
	for name, table := range s.tables {
		candidate, ok := other.tables[name]
		if !ok || candidate.RowCount != table.RowCount || len(candidate.Columns) != len(table.Columns) {
			return false
		}
		for i := range table.Columns {
			if table.Columns[i] != candidate.Columns[i] {
				return false
			}
		}
	}
	return true
}

type Catalog struct {
	lister dataset.Lister
}

func NewCatalog(lister dataset.Lister) *Catalog {
	return &Catalog{lister: lister}
}

// Snapshot reads the store's current tables. It never caches.
func (c *Catalog) Snapshot(ctx context.Context) (Snapshot, error) {
	if c == nil || c.lister == nil {
		return Snapshot{}, ErrNoData
	}
	tables, err := c.lister.ListTables(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list tables: %w", err)
	}
	if len(tables) == 0 {
		return Snapshot{}, ErrNoData
	}
	return NewSnapshot(tables), nil
}
