package schema

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultSQLiteLockDuration = 30 * time.Second
	sqliteLockPollInterval    = 100 * time.Millisecond
	sqliteTimeFormat          = "2006-01-02 15:04:05.000000"
)

// SQLite is the default dialect for SQLite databases. Use NewSQLite to
// customize its lock table or lock duration.
var SQLite = NewSQLite()

var sqliteColumnTypes = map[ColumnType]string{
	ColumnString:     "VARCHAR",
	ColumnText:       "TEXT",
	ColumnInteger:    "INTEGER",
	ColumnBigInt:     "BIGINT",
	ColumnBoolean:    "BOOLEAN",
	ColumnTimestamp:  "DATETIME",
	ColumnPrimaryKey: "INTEGER PRIMARY KEY AUTOINCREMENT",
}

type sqliteDialect struct {
	lockTable    string
	lockDuration time.Duration
	code         string
}

// SQLiteOption customizes a SQLite dialect
type SQLiteOption func(s *sqliteDialect)

// WithSQLiteLockTable names the table used to hold the migration lock. By
// default it is the tracking table name with a "_lock" suffix.
func WithSQLiteLockTable(name string) SQLiteOption {
	return func(s *sqliteDialect) {
		s.lockTable = name
	}
}

// WithSQLiteLockDuration sets both how long a lock is held before it is
// considered abandoned and how long Lock waits to obtain it. The lock is
// refreshed before every migration, so the duration bounds a single
// migration rather than the whole run.
func WithSQLiteLockDuration(d time.Duration) SQLiteOption {
	return func(s *sqliteDialect) {
		s.lockDuration = d
	}
}

// NewSQLite creates a new sqlite dialect. Customization of the lock table
// name and lock duration are made with WithSQLiteLockTable and
// WithSQLiteLockDuration options.
func NewSQLite(opts ...SQLiteOption) *sqliteDialect {
	s := &sqliteDialect{
		lockDuration: defaultSQLiteLockDuration,
		code:         uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lock attempts to obtain a lock of the database. SQLite has no advisory
// locks, so a single-row lock table is used. nil is returned if the lock
// is successfully claimed. A non-nil value is returned for database errors
// or if the lock timeout is reached.
func (s *sqliteDialect) Lock(ctx context.Context, db Queryer, tableName string) error {
	lockTable := s.QuotedIdent(s.lockTableName(tableName))

	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			code TEXT NOT NULL,
			expiration TEXT NOT NULL
		)`, lockTable))
	if err != nil {
		return err
	}

	deadline := time.Now().Add(s.lockDuration)
	for {
		now := time.Now().UTC()
		_, err = db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE expiration < ?`, lockTable),
			now.Format(sqliteTimeFormat))
		if err != nil {
			return err
		}

		result, err := db.ExecContext(ctx,
			fmt.Sprintf(`INSERT OR IGNORE INTO %s (id, code, expiration) VALUES (1, ?, ?)`, lockTable),
			s.code, now.Add(s.lockDuration).Format(sqliteTimeFormat))
		if err != nil {
			return err
		}
		if claimed, err := result.RowsAffected(); err == nil && claimed == 1 {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: timed out after %s waiting for lock table %s", ErrStoreUnavailable, s.lockDuration, lockTable)
		}

		select {
		case <-ctx.Done():
			return storeUnavailable(ctx, ctx.Err())
		case <-time.After(sqliteLockPollInterval):
		}
	}
}

// Unlock releases the database lock.
func (s *sqliteDialect) Unlock(ctx context.Context, db Queryer, tableName string) error {
	lockTable := s.QuotedIdent(s.lockTableName(tableName))
	_, err := db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE code = ?`, lockTable), s.code)
	return err
}

// RefreshLock pushes the lock's expiration out by the lock duration. It
// fails if the lock is no longer held by this dialect.
func (s *sqliteDialect) RefreshLock(ctx context.Context, db Queryer, tableName string) error {
	lockTable := s.QuotedIdent(s.lockTableName(tableName))
	result, err := db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET expiration = ? WHERE code = ?`, lockTable),
		time.Now().UTC().Add(s.lockDuration).Format(sqliteTimeFormat), s.code)
	if err != nil {
		return err
	}
	if held, err := result.RowsAffected(); err == nil && held == 0 {
		return fmt.Errorf("%w: lock in %s is no longer held", ErrStoreUnavailable, lockTable)
	}
	return nil
}

func (s *sqliteDialect) lockTableName(tableName string) string {
	if s.lockTable != "" {
		return s.lockTable
	}
	return tableName + "_lock"
}

// CreateMigrationsTable creates the migration tracking table if it does
// not already exist
func (s *sqliteDialect) CreateMigrationsTable(ctx context.Context, tx Queryer, tableName string) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT NOT NULL,
			checksum TEXT NOT NULL DEFAULT '',
			execution_time_in_millis INTEGER NOT NULL DEFAULT 0,
			applied_at DATETIME
		);`, tableName))
	return err
}

// InsertAppliedMigration inserts a migration tracking record
func (s *sqliteDialect) InsertAppliedMigration(ctx context.Context, tx Queryer, tableName string, am *AppliedMigration) error {
	query := fmt.Sprintf(`
		INSERT INTO %s
		( id, checksum, execution_time_in_millis, applied_at )
		VALUES
		( ?, ?, ?, ? )
		`, tableName)
	_, err := tx.ExecContext(ctx, query, am.Version, am.Checksum, am.ExecutionTimeInMillis, am.AppliedAt)
	return err
}

// DeleteAppliedMigration removes the tracking record of a reverted
// migration.
func (s *sqliteDialect) DeleteAppliedMigration(ctx context.Context, tx Queryer, tableName string, version string) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, tableName), version)
	return err
}

// GetAppliedMigrations retrieves all records from the tracking table
func (s *sqliteDialect) GetAppliedMigrations(ctx context.Context, tx Queryer, tableName string) (migrations []*AppliedMigration, err error) {
	query := fmt.Sprintf(`
		SELECT id, checksum, execution_time_in_millis, applied_at
		FROM %s
		ORDER BY id ASC
	`, tableName)
	migrations, err = scanAppliedMigrations(ctx, tx, tableName, query, func(am *AppliedMigration) interface{} {
		return &am.AppliedAt
	})
	for _, migration := range migrations {
		migration.AppliedAt = migration.AppliedAt.In(time.Local)
	}
	return migrations, err
}

// TableExists consults sqlite_master. SQLite table names are case
// insensitive, so the match is too.
func (s *sqliteDialect) TableExists(ctx context.Context, tx Queryer, tableName string) (bool, error) {
	count, err := queryCount(ctx, tx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ? COLLATE NOCASE`, tableName)
	return count > 0, err
}

// TableColumns lists the table's columns in declaration order
func (s *sqliteDialect) TableColumns(ctx context.Context, tx Queryer, tableName string) ([]string, error) {
	return queryStrings(ctx, tx, `SELECT name FROM pragma_table_info(?) ORDER BY cid`, tableName)
}

// ColumnDefinition renders the SQLite type and constraints for a column
func (s *sqliteDialect) ColumnDefinition(column Column) string {
	return columnDefinition(sqliteColumnTypes, column)
}

// QuotedTableName returns the string value of the name of the migration
// tracking table after it has been quoted for SQLite. SQLite has no
// schemas, so schemaName is ignored.
func (s *sqliteDialect) QuotedTableName(_, tableName string) string {
	return s.QuotedIdent(tableName)
}

// QuotedIdent wraps the supplied string in double quotes
func (s *sqliteDialect) QuotedIdent(ident string) string {
	if ident == "" {
		return ""
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
