package schema

import (
	"context"
	"fmt"
	"hash/crc32"
	"strings"
	"time"
	"unicode"
)

const postgresAdvisoryLockSalt uint32 = 542384964

// Postgres is the dialect for Postgres-compatible
// databases
var Postgres = postgresDialect{}

type postgresDialect struct{}

var postgresColumnTypes = map[ColumnType]string{
	ColumnString:     "CHARACTER VARYING",
	ColumnText:       "TEXT",
	ColumnInteger:    "INTEGER",
	ColumnBigInt:     "BIGINT",
	ColumnBoolean:    "BOOLEAN",
	ColumnTimestamp:  "TIMESTAMP WITHOUT TIME ZONE",
	ColumnPrimaryKey: "BIGSERIAL PRIMARY KEY",
}

// Lock implements the Locker interface to obtain a global lock before the
// migrations are run.
func (p postgresDialect) Lock(ctx context.Context, tx Queryer, tableName string) error {
	lockID := p.advisoryLockID(tableName)
	query := fmt.Sprintf("SELECT pg_advisory_lock(%s)", lockID)
	_, err := tx.ExecContext(ctx, query)
	return err
}

// Unlock implements the Locker interface to release the global lock after the
// migrations are run.
func (p postgresDialect) Unlock(ctx context.Context, tx Queryer, tableName string) error {
	lockID := p.advisoryLockID(tableName)
	query := fmt.Sprintf("SELECT pg_advisory_unlock(%s)", lockID)
	_, err := tx.ExecContext(ctx, query)
	return err
}

// CreateMigrationsTable implements the Dialect interface to create the
// table which tracks applied migrations. It only creates the table if it
// does not already exist
func (p postgresDialect) CreateMigrationsTable(ctx context.Context, tx Queryer, tableName string) error {
	query := fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					id VARCHAR(255) NOT NULL,
					checksum VARCHAR(32) NOT NULL DEFAULT '',
					execution_time_in_millis INTEGER NOT NULL DEFAULT 0,
					applied_at TIMESTAMP WITH TIME ZONE NOT NULL
				)
			`, tableName)
	_, err := tx.ExecContext(ctx, query)
	return err
}

// InsertAppliedMigration implements the Dialect interface to insert a record
// into the migrations tracking table *after* a migration has successfully
// run.
func (p postgresDialect) InsertAppliedMigration(ctx context.Context, tx Queryer, tableName string, am *AppliedMigration) error {
	query := fmt.Sprintf(`
		INSERT INTO %s
		( id, checksum, execution_time_in_millis, applied_at )
		VALUES
		( $1, $2, $3, $4 )`,
		tableName,
	)
	_, err := tx.ExecContext(ctx, query, am.Version, am.Checksum, am.ExecutionTimeInMillis, am.AppliedAt)
	return err
}

// DeleteAppliedMigration removes the tracking record of a reverted
// migration.
func (p postgresDialect) DeleteAppliedMigration(ctx context.Context, tx Queryer, tableName string, version string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, tableName)
	_, err := tx.ExecContext(ctx, query, version)
	return err
}

// GetAppliedMigrations retrieves all data from the migrations tracking table
func (p postgresDialect) GetAppliedMigrations(ctx context.Context, tx Queryer, tableName string) (migrations []*AppliedMigration, err error) {
	query := fmt.Sprintf(`
		SELECT id, checksum, execution_time_in_millis, applied_at
		FROM %s ORDER BY id ASC
	`, tableName)
	migrations, err = scanAppliedMigrations(ctx, tx, tableName, query, func(am *AppliedMigration) interface{} {
		return &am.AppliedAt
	})
	for _, migration := range migrations {
		migration.AppliedAt = migration.AppliedAt.In(time.Local)
	}
	return migrations, err
}

// TableExists looks the table up in the current schema
func (p postgresDialect) TableExists(ctx context.Context, tx Queryer, tableName string) (bool, error) {
	count, err := queryCount(ctx, tx, `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name = $1`, tableName)
	return count > 0, err
}

// TableColumns lists the table's columns by ordinal position
func (p postgresDialect) TableColumns(ctx context.Context, tx Queryer, tableName string) ([]string, error) {
	return queryStrings(ctx, tx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`, tableName)
}

// ColumnDefinition renders the Postgres type and constraints for a column
func (p postgresDialect) ColumnDefinition(column Column) string {
	return columnDefinition(postgresColumnTypes, column)
}

// QuotedTableName returns the string value of the name of the migration
// tracking table after it has been quoted for Postgres
func (p postgresDialect) QuotedTableName(schemaName, tableName string) string {
	if schemaName == "" {
		return p.QuotedIdent(tableName)
	}
	return p.QuotedIdent(schemaName) + "." + p.QuotedIdent(tableName)
}

// QuotedIdent wraps the supplied string in the Postgres identifier
// quote character
func (p postgresDialect) QuotedIdent(ident string) string {
	if ident == "" {
		return ""
	}

	var sb strings.Builder
	sb.WriteRune('"')
	for _, r := range ident {
		switch {
		case unicode.IsSpace(r):
			// Skip spaces
			continue
		case r == '"':
			// Escape double-quotes with repeated double-quotes
			sb.WriteString(`""`)
		case r == ';':
			// Ignore the command termination character
			continue
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteRune('"')
	return sb.String()
}

// advisoryLockID generates a table-specific lock name to use
func (p postgresDialect) advisoryLockID(tableName string) string {
	sum := crc32.ChecksumIEEE([]byte(tableName))
	sum = sum * postgresAdvisoryLockSalt
	return fmt.Sprint(sum)
}
