package schema

import (
	"context"
	"fmt"
	"hash/crc32"
	"strings"
	"time"
)

const mysqlLockSalt uint32 = 271192482

// mysqlLockTimeoutSeconds bounds how long GET_LOCK waits for a competing
// migrator
const mysqlLockTimeoutSeconds = 10

// MySQL is the dialect which should be used for MySQL/MariaDB databases
var MySQL = mysqlDialect{}

type mysqlDialect struct{}

var mysqlColumnTypes = map[ColumnType]string{
	ColumnString:     "VARCHAR(255)",
	ColumnText:       "TEXT",
	ColumnInteger:    "INT",
	ColumnBigInt:     "BIGINT",
	ColumnBoolean:    "BOOLEAN",
	ColumnTimestamp:  "DATETIME",
	ColumnPrimaryKey: "BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY",
}

// Lock implements the Locker interface to obtain a global lock before the
// migrations are run. GET_LOCK answers 0 on timeout rather than failing,
// so the result is checked.
func (m mysqlDialect) Lock(ctx context.Context, tx Queryer, tableName string) error {
	lockID := m.advisoryLockID(tableName)
	query := fmt.Sprintf(`SELECT GET_LOCK('%s', %d)`, lockID, mysqlLockTimeoutSeconds)
	obtained, err := queryCount(ctx, tx, query)
	if err != nil {
		return err
	}
	if obtained != 1 {
		return fmt.Errorf("%w: timed out waiting for lock '%s'", ErrStoreUnavailable, lockID)
	}
	return nil
}

// Unlock implements the Locker interface to release the global lock after the
// migrations are run.
func (m mysqlDialect) Unlock(ctx context.Context, tx Queryer, tableName string) error {
	lockID := m.advisoryLockID(tableName)
	query := fmt.Sprintf(`SELECT RELEASE_LOCK('%s')`, lockID)
	_, err := tx.ExecContext(ctx, query)
	return err
}

// CreateMigrationsTable implements the Dialect interface to create the
// table which tracks applied migrations. It only creates the table if it
// does not already exist
func (m mysqlDialect) CreateMigrationsTable(ctx context.Context, tx Queryer, tableName string) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(255) NOT NULL,
			checksum VARCHAR(32) NOT NULL DEFAULT '',
			execution_time_in_millis INTEGER NOT NULL DEFAULT 0,
			applied_at TIMESTAMP NOT NULL
		)`, tableName)
	_, err := tx.ExecContext(ctx, query)
	return err
}

// InsertAppliedMigration implements the Dialect interface to insert a record
// into the migrations tracking table *after* a migration has successfully
// run.
func (m mysqlDialect) InsertAppliedMigration(ctx context.Context, tx Queryer, tableName string, am *AppliedMigration) error {
	query := fmt.Sprintf(`
		INSERT INTO %s
		( id, checksum, execution_time_in_millis, applied_at )
		VALUES
		( ?, ?, ?, ? )
		`, tableName,
	)
	_, err := tx.ExecContext(ctx, query, am.Version, am.Checksum, am.ExecutionTimeInMillis, am.AppliedAt.UTC())
	return err
}

// DeleteAppliedMigration removes the tracking record of a reverted
// migration.
func (m mysqlDialect) DeleteAppliedMigration(ctx context.Context, tx Queryer, tableName string, version string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, tableName)
	_, err := tx.ExecContext(ctx, query, version)
	return err
}

// GetAppliedMigrations retrieves all data from the migrations tracking table
func (m mysqlDialect) GetAppliedMigrations(ctx context.Context, tx Queryer, tableName string) (migrations []*AppliedMigration, err error) {
	query := fmt.Sprintf(`
		SELECT id, checksum, execution_time_in_millis, applied_at
		FROM %s
		ORDER BY id ASC`, tableName)

	times := make(map[*AppliedMigration]*mysqlTime)
	migrations, err = scanAppliedMigrations(ctx, tx, tableName, query, func(am *AppliedMigration) interface{} {
		t := &mysqlTime{}
		times[am] = t
		return t
	})
	for _, migration := range migrations {
		if t, ok := times[migration]; ok {
			migration.AppliedAt = t.Value
		}
	}
	return migrations, err
}

// TableExists looks the table up in the connection's database
func (m mysqlDialect) TableExists(ctx context.Context, tx Queryer, tableName string) (bool, error) {
	count, err := queryCount(ctx, tx, `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_name = ?`, tableName)
	return count > 0, err
}

// TableColumns lists the table's columns by ordinal position
func (m mysqlDialect) TableColumns(ctx context.Context, tx Queryer, tableName string) ([]string, error) {
	return queryStrings(ctx, tx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY ordinal_position`, tableName)
}

// ColumnDefinition renders the MySQL type and constraints for a column
func (m mysqlDialect) ColumnDefinition(column Column) string {
	return columnDefinition(mysqlColumnTypes, column)
}

// QuotedTableName returns the string value of the name of the migration
// tracking table after it has been quoted for MySQL
func (m mysqlDialect) QuotedTableName(schemaName, tableName string) string {
	if schemaName == "" {
		return m.QuotedIdent(tableName)
	}
	return m.QuotedIdent(schemaName) + "." + m.QuotedIdent(tableName)
}

// QuotedIdent wraps the supplied string in the MySQL identifier
// quote character
func (m mysqlDialect) QuotedIdent(ident string) string {
	if ident == "" {
		return ""
	}
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

// advisoryLockID generates a table-specific lock name to use
func (m mysqlDialect) advisoryLockID(tableName string) string {
	sum := crc32.ChecksumIEEE([]byte(tableName))
	sum = sum * mysqlLockSalt
	return fmt.Sprint(sum)
}

// mysqlTime scans TIMESTAMP values whether or not the DSN sets
// parseTime=true
type mysqlTime struct {
	Value time.Time
}

func (t *mysqlTime) Scan(src interface{}) (err error) {
	if src == nil {
		t.Value = time.Time{}
		return nil
	}

	if srcTime, isTime := src.(time.Time); isTime {
		t.Value = srcTime.In(time.Local)
		return nil
	}

	return t.ScanString(fmt.Sprintf("%s", src))
}

func (t *mysqlTime) ScanString(src string) (err error) {
	switch len(src) {
	case 19:
		t.Value, err = time.ParseInLocation("2006-01-02 15:04:05", src, time.UTC)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unrecognized MySQL time '%s'", src)
	}
	t.Value = t.Value.In(time.Local)
	return nil
}
