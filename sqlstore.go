package schema

import (
	"context"
	"fmt"
	"strings"
)

// SQLStore is a SchemaStore and Ledger backed by a database/sql
// connection. The ledger lives in the migrations tracking table, so a
// schema change and its ledger entry can share one transaction.
type SQLStore struct {
	db            Queryer
	dialect       Dialect
	trackingTable string
}

// NewSQLStore builds a SQLStore. trackingTable must already be quoted for
// the dialect (see Dialect.QuotedTableName).
func NewSQLStore(db Queryer, dialect Dialect, trackingTable string) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, trackingTable: trackingTable}
}

func (s *SQLStore) withQueryer(db Queryer) *SQLStore {
	return &SQLStore{db: db, dialect: s.dialect, trackingTable: s.trackingTable}
}

// CreateTable creates the table unless one with the same name exists
func (s *SQLStore) CreateTable(ctx context.Context, table *Table) error {
	if table == nil {
		return fmt.Errorf("%w: nil table", ErrInvalidDefinition)
	}
	exists, err := s.TableExists(ctx, table.Name())
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: table '%s'", ErrAlreadyExists, table.Name())
	}
	return s.exec(ctx, createTableSQL(s.dialect, table))
}

func (s *SQLStore) DropTable(ctx context.Context, name string) error {
	if err := s.mustExist(ctx, name); err != nil {
		return err
	}
	return s.exec(ctx, "DROP TABLE "+s.dialect.QuotedTableName("", name))
}

func (s *SQLStore) AddColumn(ctx context.Context, table string, column Column) error {
	if err := column.Validate(); err != nil {
		return err
	}
	columns, err := s.TableColumns(ctx, table)
	if err != nil {
		return err
	}
	if containsFold(columns, column.Name) {
		return fmt.Errorf("%w: column '%s.%s'", ErrAlreadyExists, table, column.Name)
	}
	return s.exec(ctx, fmt.Sprintf("ALTER TABLE %s ADD %s %s",
		s.dialect.QuotedTableName("", table),
		s.dialect.QuotedIdent(column.Name),
		s.dialect.ColumnDefinition(column),
	))
}

func (s *SQLStore) DropColumn(ctx context.Context, table, column string) error {
	columns, err := s.TableColumns(ctx, table)
	if err != nil {
		return err
	}
	if !containsFold(columns, column) {
		return fmt.Errorf("%w: column '%s.%s'", ErrTableNotFound, table, column)
	}
	return s.exec(ctx, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
		s.dialect.QuotedTableName("", table),
		s.dialect.QuotedIdent(column),
	))
}

func (s *SQLStore) TableExists(ctx context.Context, name string) (bool, error) {
	exists, err := s.dialect.TableExists(ctx, s.db, name)
	return exists, storeUnavailable(ctx, err)
}

// TableColumns returns the column names in their physical order, or
// ErrTableNotFound if the table does not exist
func (s *SQLStore) TableColumns(ctx context.Context, name string) ([]string, error) {
	columns, err := s.dialect.TableColumns(ctx, s.db, name)
	if err != nil {
		return nil, storeUnavailable(ctx, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: '%s'", ErrTableNotFound, name)
	}
	return columns, nil
}

// ExecScript runs raw SQL, implementing ScriptRunner
func (s *SQLStore) ExecScript(ctx context.Context, script string) error {
	return s.exec(ctx, script)
}

// AppliedMigrations reads the tracking table
func (s *SQLStore) AppliedMigrations(ctx context.Context) (map[string]*AppliedMigration, error) {
	applied := make(map[string]*AppliedMigration)
	migrations, err := s.dialect.GetAppliedMigrations(ctx, s.db, s.trackingTable)
	if err != nil {
		return applied, storeUnavailable(ctx, err)
	}
	for _, migration := range migrations {
		applied[migration.Version] = migration
	}
	return applied, nil
}

func (s *SQLStore) IsApplied(ctx context.Context, version string) (bool, error) {
	applied, err := s.AppliedMigrations(ctx)
	if err != nil {
		return false, err
	}
	_, ok := applied[version]
	return ok, nil
}

func (s *SQLStore) MarkApplied(ctx context.Context, migration *AppliedMigration) error {
	err := s.dialect.InsertAppliedMigration(ctx, s.db, s.trackingTable, migration)
	return storeUnavailable(ctx, err)
}

func (s *SQLStore) Unmark(ctx context.Context, version string) error {
	err := s.dialect.DeleteAppliedMigration(ctx, s.db, s.trackingTable, version)
	return storeUnavailable(ctx, err)
}

// Atomically runs f inside a transaction. When ledger is this store, the
// ledger handed to f writes through the same transaction. Any other
// ledger only sees f's writes once the transaction has committed. If the
// store is already bound to a transaction, f runs directly within it.
func (s *SQLStore) Atomically(ctx context.Context, ledger Ledger, f func(SchemaStore, Ledger) error) error {
	db, ok := s.db.(Transactor)
	if !ok {
		return f(s, ledger)
	}

	var pending *pendingLedger
	err := transaction(ctx, db, func(tx Queryer) error {
		txStore := s.withQueryer(tx)
		if ledger == Ledger(s) {
			return f(txStore, txStore)
		}
		pending = &pendingLedger{Ledger: ledger}
		return f(txStore, pending)
	})
	if err != nil || pending == nil {
		return err
	}
	return pending.flush(ctx)
}

// pendingLedger holds the writes made to a ledger outside the store's
// transaction until that transaction commits. Reads go straight to the
// wrapped ledger.
type pendingLedger struct {
	Ledger
	writes []func(context.Context, Ledger) error
}

func (p *pendingLedger) MarkApplied(_ context.Context, migration *AppliedMigration) error {
	p.writes = append(p.writes, func(ctx context.Context, l Ledger) error {
		return l.MarkApplied(ctx, migration)
	})
	return nil
}

func (p *pendingLedger) Unmark(_ context.Context, version string) error {
	p.writes = append(p.writes, func(ctx context.Context, l Ledger) error {
		return l.Unmark(ctx, version)
	})
	return nil
}

func (p *pendingLedger) flush(ctx context.Context) error {
	for _, write := range p.writes {
		if err := write(ctx, p.Ledger); err != nil {
			return fmt.Errorf("schema change committed but the ledger was not updated: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) mustExist(ctx context.Context, name string) error {
	exists, err := s.TableExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: '%s'", ErrTableNotFound, name)
	}
	return nil
}

func (s *SQLStore) exec(ctx context.Context, query string) error {
	_, err := s.db.ExecContext(ctx, query)
	return storeUnavailable(ctx, err)
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}
