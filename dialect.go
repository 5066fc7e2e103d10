package schema

import (
	"context"
	"fmt"
	"strings"
)

// Dialect defines the minimal interface for a database dialect. All dialects
// must implement functions to create the migrations table, get all applied
// migrations, insert and delete migration tracking records, perform escaping
// for identifiers, render column definitions and inspect existing tables.
type Dialect interface {
	QuotedTableName(schemaName, tableName string) string
	QuotedIdent(ident string) string
	ColumnDefinition(column Column) string

	CreateMigrationsTable(ctx context.Context, tx Queryer, tableName string) error
	GetAppliedMigrations(ctx context.Context, tx Queryer, tableName string) (applied []*AppliedMigration, err error)
	InsertAppliedMigration(ctx context.Context, tx Queryer, tableName string, migration *AppliedMigration) error
	DeleteAppliedMigration(ctx context.Context, tx Queryer, tableName string, version string) error

	// TableExists and TableColumns take the unquoted table name and look it
	// up in the connection's default schema.
	TableExists(ctx context.Context, tx Queryer, tableName string) (bool, error)
	TableColumns(ctx context.Context, tx Queryer, tableName string) ([]string, error)
}

// Locker defines an optional Dialect extension for obtaining and releasing
// a global database lock during the running of migrations. This feature is
// supported by PostgreSQL, MySQL and SQLite, but not MSSQL.
type Locker interface {
	Lock(ctx context.Context, tx Queryer, tableName string) error
	Unlock(ctx context.Context, tx Queryer, tableName string) error
}

// LockRefresher is implemented by Lockers whose lock expires. The Migrator
// refreshes the lock before each migration it applies or reverts.
type LockRefresher interface {
	RefreshLock(ctx context.Context, tx Queryer, tableName string) error
}

// columnDefinition renders "TYPE [NOT NULL]" using the supplied type
// names. Primary keys carry their own constraints.
func columnDefinition(types map[ColumnType]string, column Column) string {
	sqlType, ok := types[column.Type]
	if !ok {
		sqlType = types[ColumnText]
	}
	if column.NotNull && column.Type != ColumnPrimaryKey {
		return sqlType + " NOT NULL"
	}
	return sqlType
}

// queryCount runs a query returning a single integer
func queryCount(ctx context.Context, tx Queryer, query string, args ...interface{}) (int, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	count := 0
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, err
		}
	}
	return count, rows.Err()
}

// queryStrings runs a query returning a single string column
func queryStrings(ctx context.Context, tx Queryer, query string, args ...interface{}) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make([]string, 0)
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, rows.Err()
}

// scanAppliedMigrations reads the id, checksum, execution_time_in_millis
// and applied_at columns of the tracking table.
func scanAppliedMigrations(ctx context.Context, tx Queryer, tableName, query string, scanTime func(*AppliedMigration) interface{}) (migrations []*AppliedMigration, err error) {
	migrations = make([]*AppliedMigration, 0)

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return migrations, err
	}
	defer rows.Close()

	for rows.Next() {
		migration := &AppliedMigration{}
		err = rows.Scan(&migration.Version, &migration.Checksum, &migration.ExecutionTimeInMillis, scanTime(migration))
		if err != nil {
			err = fmt.Errorf("failed to GetAppliedMigrations. Did somebody change the structure of the %s table?: %w", tableName, err)
			return migrations, err
		}
		migrations = append(migrations, migration)
	}

	return migrations, rows.Err()
}

// createTableSQL renders a CREATE TABLE statement for t
func createTableSQL(d Dialect, t *Table) string {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	sb.WriteString(d.QuotedTableName("", t.Name()))
	sb.WriteString(" (\n")
	for i, c := range t.columns {
		sb.WriteString("\t")
		sb.WriteString(d.QuotedIdent(c.Name))
		sb.WriteString(" ")
		sb.WriteString(d.ColumnDefinition(c))
		if i < len(t.columns)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(")")
	return sb.String()
}
