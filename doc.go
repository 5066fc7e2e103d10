// Package schema provides tools to manage database schema changes
// ("migrations") as embedded functionality inside another application
// which is using a database/sql
//
// A Migration pairs a version with a typed Operation (CreateTable,
// DropTable, AddColumn, DropColumn or a raw SQL Script) and, optionally,
// an explicit Down operation used to revert it.
//
// Basic usage instructions involve creating a schema.Migrator via the
// schema.NewMigrator() function, and then passing your *sql.DB
// to its .Apply() method. Migrator.Run works against any SchemaStore and
// Ledger, such as the in-memory MemoryStore and MemoryLedger.
package schema
