package schema

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryStore is an in-process SchemaStore. It is safe for concurrent use
// and every operation either fully applies or leaves the store untouched.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]*Table // lower-cased name -> table
	order  []string
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]*Table)}
}

func (s *MemoryStore) CreateTable(ctx context.Context, table *Table) error {
	if table == nil {
		return fmt.Errorf("%w: nil table", ErrInvalidDefinition)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(table.Name())
	if _, exists := s.tables[key]; exists {
		return fmt.Errorf("%w: table '%s'", ErrAlreadyExists, table.Name())
	}
	s.tables[key] = table
	s.order = append(s.order, key)
	return nil
}

func (s *MemoryStore) DropTable(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(name)
	if _, exists := s.tables[key]; !exists {
		return fmt.Errorf("%w: '%s'", ErrTableNotFound, name)
	}
	delete(s.tables, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) AddColumn(ctx context.Context, table string, column Column) error {
	if err := column.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(table)
	t, exists := s.tables[key]
	if !exists {
		return fmt.Errorf("%w: '%s'", ErrTableNotFound, table)
	}
	if _, exists := t.Column(column.Name); exists {
		return fmt.Errorf("%w: column '%s.%s'", ErrAlreadyExists, table, column.Name)
	}
	s.tables[key] = t.withColumn(column)
	return nil
}

func (s *MemoryStore) DropColumn(ctx context.Context, table, column string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(table)
	t, exists := s.tables[key]
	if !exists {
		return fmt.Errorf("%w: '%s'", ErrTableNotFound, table)
	}
	if _, exists := t.Column(column); !exists {
		return fmt.Errorf("%w: column '%s.%s'", ErrTableNotFound, table, column)
	}
	if len(t.columns) == 1 {
		return fmt.Errorf("%w: cannot drop the only column of '%s'", ErrInvalidDefinition, table)
	}
	s.tables[key] = t.withoutColumn(column)
	return nil
}

func (s *MemoryStore) TableExists(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.tables[strings.ToLower(name)]
	return exists, nil
}

func (s *MemoryStore) TableColumns(ctx context.Context, name string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, exists := s.tables[strings.ToLower(name)]
	if !exists {
		return nil, fmt.Errorf("%w: '%s'", ErrTableNotFound, name)
	}
	return t.ColumnNames(), nil
}

// Table returns the current definition of the named table
func (s *MemoryStore) Table(name string) (*Table, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, exists := s.tables[strings.ToLower(name)]
	return t, exists
}

// Snapshot returns every table in creation order
func (s *MemoryStore) Snapshot() []*Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tables := make([]*Table, 0, len(s.order))
	for _, key := range s.order {
		tables = append(tables, s.tables[key])
	}
	return tables
}

// MemoryLedger is an in-process Ledger
type MemoryLedger struct {
	mu      sync.RWMutex
	applied map[string]*AppliedMigration
}

// NewMemoryLedger creates an empty MemoryLedger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{applied: make(map[string]*AppliedMigration)}
}

func (l *MemoryLedger) AppliedMigrations(ctx context.Context) (map[string]*AppliedMigration, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	applied := make(map[string]*AppliedMigration, len(l.applied))
	for version, am := range l.applied {
		c := *am
		applied[version] = &c
	}
	return applied, nil
}

func (l *MemoryLedger) IsApplied(ctx context.Context, version string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.applied[version]
	return ok, nil
}

func (l *MemoryLedger) MarkApplied(ctx context.Context, migration *AppliedMigration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.applied[migration.Version]; exists {
		return fmt.Errorf("%w: ledger entry '%s'", ErrAlreadyExists, migration.Version)
	}
	c := *migration
	l.applied[migration.Version] = &c
	return nil
}

func (l *MemoryLedger) Unmark(ctx context.Context, version string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.applied, version)
	return nil
}

// Versions returns the applied versions in ascending order
func (l *MemoryLedger) Versions() []string {
	l.mu.RLock()
	versions := make([]*Migration, 0, len(l.applied))
	for version := range l.applied {
		versions = append(versions, &Migration{Version: version})
	}
	l.mu.RUnlock()

	SortMigrations(versions)
	result := make([]string, len(versions))
	for i, m := range versions {
		result[i] = m.Version
	}
	return result
}
