package schema

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// MSSQL is the dialect for MS SQL-compatible databases
var MSSQL = mssqlDialect{}

type mssqlDialect struct{}

var mssqlColumnTypes = map[ColumnType]string{
	ColumnString:     "NVARCHAR(4000)",
	ColumnText:       "NVARCHAR(MAX)",
	ColumnInteger:    "INT",
	ColumnBigInt:     "BIGINT",
	ColumnBoolean:    "BIT",
	ColumnTimestamp:  "DATETIME2",
	ColumnPrimaryKey: "BIGINT IDENTITY(1,1) PRIMARY KEY",
}

func (s mssqlDialect) QuotedTableName(schemaName, tableName string) string {
	if schemaName == "" {
		return s.QuotedIdent(tableName)
	}
	return fmt.Sprintf("%s.%s", s.QuotedIdent(schemaName), s.QuotedIdent(tableName))
}

func (s mssqlDialect) QuotedIdent(ident string) string {
	if ident == "" {
		return ""
	}

	var sb strings.Builder
	sb.WriteRune('[')
	for _, r := range ident {
		switch {
		case unicode.IsSpace(r):
			continue
		case r == ';':
			continue
		case r == ']':
			sb.WriteRune(r)
			sb.WriteRune(r)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteRune(']')

	return sb.String()
}

func (s mssqlDialect) ColumnDefinition(column Column) string {
	return columnDefinition(mssqlColumnTypes, column)
}

func (s mssqlDialect) CreateMigrationsTable(ctx context.Context, tx Queryer, tableName string) error {
	query := fmt.Sprintf(`
		IF OBJECT_ID(N'%s', N'U') IS NULL
			CREATE TABLE %s (
				id VARCHAR(255) NOT NULL,
				checksum VARCHAR(32) NOT NULL DEFAULT '',
				execution_time_in_millis INTEGER NOT NULL DEFAULT 0,
				applied_at DATETIMEOFFSET NOT NULL
			)
	`, strings.ReplaceAll(tableName, "'", "''"), tableName)
	_, err := tx.ExecContext(ctx, query)
	return err
}

func (s mssqlDialect) GetAppliedMigrations(ctx context.Context, tx Queryer, tableName string) (migrations []*AppliedMigration, err error) {
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

func (s mssqlDialect) InsertAppliedMigration(ctx context.Context, tx Queryer, tableName string, am *AppliedMigration) error {
	query := fmt.Sprintf(`
		INSERT INTO %s
		( id, checksum, execution_time_in_millis, applied_at )
		VALUES
		( @p1, @p2, @p3, @p4 )`,
		tableName,
	)
	_, err := tx.ExecContext(ctx, query, am.Version, am.Checksum, am.ExecutionTimeInMillis, am.AppliedAt)
	return err
}

func (s mssqlDialect) DeleteAppliedMigration(ctx context.Context, tx Queryer, tableName string, version string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = @p1`, tableName)
	_, err := tx.ExecContext(ctx, query, version)
	return err
}

func (s mssqlDialect) TableExists(ctx context.Context, tx Queryer, tableName string) (bool, error) {
	count, err := queryCount(ctx, tx, `
		SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = SCHEMA_NAME() AND TABLE_NAME = @p1`, tableName)
	return count > 0, err
}

func (s mssqlDialect) TableColumns(ctx context.Context, tx Queryer, tableName string) ([]string, error) {
	return queryStrings(ctx, tx, `
		SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = SCHEMA_NAME() AND TABLE_NAME = @p1
		ORDER BY ORDINAL_POSITION`, tableName)
}
