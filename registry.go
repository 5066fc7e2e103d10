package schema

import (
	"fmt"
	"sync"
)

// Registry is a typed set of migrations keyed by version. Applications
// register their migrations explicitly instead of discovering them.
type Registry struct {
	mu         sync.RWMutex
	migrations map[string]*Migration
}

// NewRegistry builds a Registry holding the supplied migrations
func NewRegistry(migrations ...*Migration) (*Registry, error) {
	r := &Registry{migrations: make(map[string]*Migration, len(migrations))}
	for _, migration := range migrations {
		if err := r.Register(migration); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a migration. Registering a second migration with the same
// version fails with ErrInvalidDefinition.
func (r *Registry) Register(migration *Migration) error {
	if migration == nil {
		return fmt.Errorf("%w: nil migration", ErrInvalidDefinition)
	}
	if err := migration.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.migrations[migration.Version]; exists {
		return fmt.Errorf("%w: duplicate migration version '%s'", ErrInvalidDefinition, migration.Version)
	}
	r.migrations[migration.Version] = migration
	return nil
}

// MustRegister is like Register but panics on error
func (r *Registry) MustRegister(migration *Migration) {
	if err := r.Register(migration); err != nil {
		panic(err)
	}
}

// Lookup finds a migration by version
func (r *Registry) Lookup(version string) (*Migration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	migration, ok := r.migrations[version]
	return migration, ok
}

// Len returns the number of registered migrations
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.migrations)
}

// Migrations returns the registered migrations in ascending version order
func (r *Registry) Migrations() []*Migration {
	r.mu.RLock()
	migrations := make([]*Migration, 0, len(r.migrations))
	for _, migration := range r.migrations {
		migrations = append(migrations, migration)
	}
	r.mu.RUnlock()

	SortMigrations(migrations)
	return migrations
}
