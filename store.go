package schema

import "context"

// SchemaStore is the database against which table definitions are
// materialized.
type SchemaStore interface {
	// CreateTable fails with ErrAlreadyExists when the table name is taken
	CreateTable(ctx context.Context, table *Table) error
	// DropTable fails with ErrTableNotFound when the table is missing
	DropTable(ctx context.Context, name string) error
	AddColumn(ctx context.Context, table string, column Column) error
	DropColumn(ctx context.Context, table, column string) error
	TableExists(ctx context.Context, name string) (bool, error)
	// TableColumns returns the column names of a table in their physical
	// order
	TableColumns(ctx context.Context, name string) ([]string, error)
}

// Ledger is the persisted record of which migration versions have been
// applied to a given store.
type Ledger interface {
	AppliedMigrations(ctx context.Context) (map[string]*AppliedMigration, error)
	// IsApplied answers for a single version. The Migrator reads the whole
	// ledger once per run with AppliedMigrations; IsApplied serves callers
	// such as deploy checks that gate on one version.
	IsApplied(ctx context.Context, version string) (bool, error)
	MarkApplied(ctx context.Context, migration *AppliedMigration) error
	Unmark(ctx context.Context, version string) error
}

// ScriptRunner is implemented by stores which can execute raw SQL, which
// is required by Script operations.
type ScriptRunner interface {
	ExecScript(ctx context.Context, script string) error
}

// Atomic is implemented by stores which can apply a schema change together
// with its ledger update as one unit. Atomically hands f a store and a
// ledger bound to that unit. When ledger is not tracked by the store
// itself, its writes are held back until the schema change is durable,
// so a failed unit leaves that ledger untouched.
type Atomic interface {
	Atomically(ctx context.Context, ledger Ledger, f func(SchemaStore, Ledger) error) error
}
