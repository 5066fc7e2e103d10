//go:build integration

package schema

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// TestCreateMigrationsTable ensures that each dialect and test database can
// create the tracking table, and that doing so twice is harmless.
func TestCreateMigrationsTable(t *testing.T) {
	withEachTestDB(t, func(t *testing.T, tdb *TestDB) {
		db := tdb.Connect(t)
		defer func() { _ = db.Close() }()

		migrator := makeTestMigrator(WithDialect(tdb.Dialect))
		ctx := context.Background()
		if err := migrator.createMigrationsTable(ctx, db); err != nil {
			t.Errorf("Error occurred when creating migrations table: %s", err)
		}
		if err := migrator.createMigrationsTable(ctx, db); err != nil {
			t.Errorf("Calling createMigrationsTable a second time failed: %s", err)
		}
	})
}

// TestLockAndUnlock tests the Lock and Unlock mechanisms of each dialect in
// isolation from any migrations actually being run.
func TestLockAndUnlock(t *testing.T) {
	withEachTestDB(t, func(t *testing.T, tdb *TestDB) {
		db := tdb.Connect(t)
		defer func() { _ = db.Close() }()

		migrator := makeTestMigrator(WithDialect(tdb.Dialect))
		conn, err := db.Conn(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = conn.Close() }()

		if err := migrator.lock(context.Background(), conn); err != nil {
			t.Fatal(err)
		}
		if err := migrator.unlock(context.Background(), conn); err != nil {
			t.Fatal(err)
		}
	})
}

// TestApplyLetters runs the letters migration forward, again as a no-op,
// and then back.
func TestApplyLetters(t *testing.T) {
	withEachTestDB(t, func(t *testing.T, tdb *TestDB) {
		db := tdb.Connect(t)
		defer func() { _ = db.Close() }()

		ctx := context.Background()
		migrator := makeTestMigrator(WithDialect(tdb.Dialect))
		migrations := []*Migration{createLetters()}

		if err := migrator.Apply(db, migrations); err != nil {
			t.Fatal(err)
		}

		store := migrator.sqlStore(db)
		columns, err := store.TableColumns(ctx, "letters")
		if err != nil {
			t.Fatal(err)
		}
		expected := strings.Join(lettersTable().ColumnNames(), ",")
		if strings.Join(columns, ",") != expected {
			t.Errorf("Expected columns %s, got %v", expected, columns)
		}

		if err := migrator.Apply(db, migrations); err != nil {
			t.Errorf("Expected a second Apply to be a no-op, got %s", err)
		}
		statuses, err := migrator.GetStatus(db, migrations)
		if err != nil {
			t.Fatal(err)
		}
		if len(statuses) != 1 || statuses[0].State() != "applied" {
			t.Errorf("Expected letters to be applied, got %v", statuses)
		}

		if err := migrator.Rollback(db, migrations, 1); err != nil {
			t.Fatal(err)
		}
		exists, err := store.TableExists(ctx, "letters")
		if err != nil {
			t.Fatal(err)
		}
		if exists {
			t.Error("Expected letters to be dropped")
		}
		applied, err := migrator.GetAppliedMigrations(db)
		if err != nil {
			t.Fatal(err)
		}
		if len(applied) != 0 {
			t.Errorf("Expected no applied migrations after rollback, got %d", len(applied))
		}
	})
}

// TestApplyTwiceFailsWithAlreadyExists ensures that a table created outside
// the ledger makes the migration fail without recording it.
func TestApplyTwiceFailsWithAlreadyExists(t *testing.T) {
	withEachTestDB(t, func(t *testing.T, tdb *TestDB) {
		db := tdb.Connect(t)
		defer func() { _ = db.Close() }()

		table := MustTable(uniqueName("existing"), StringColumn("message"))
		migration := NewMigration("1", CreateTable{Table: table})

		first := makeTestMigrator(WithDialect(tdb.Dialect))
		if err := first.Apply(db, []*Migration{migration}); err != nil {
			t.Fatal(err)
		}

		second := makeTestMigrator(WithDialect(tdb.Dialect))
		err := second.Apply(db, []*Migration{migration})
		expectErrorIs(t, err, ErrAlreadyExists)

		applied, err := second.GetAppliedMigrations(db)
		if err != nil {
			t.Fatal(err)
		}
		if len(applied) != 0 {
			t.Errorf("Expected the failed migration not to be recorded, got %d", len(applied))
		}
	})
}

// TestApplyInVersionOrder ensures that migrations run in ascending version
// order rather than the order they were provided in the slice. It also
// checks the data in the tracking table.
func TestApplyInVersionOrder(t *testing.T) {
	withEachTestDB(t, func(t *testing.T, tdb *TestDB) {
		db := tdb.Connect(t)
		defer func() { _ = db.Close() }()

		// MySQL has only second accuracy, so start and end span a full second
		start := time.Now().Truncate(time.Second)

		dataTable := uniqueName("ordered")
		migrator := makeTestMigrator(WithDialect(tdb.Dialect))
		migrations := []*Migration{
			NewMigration("3", Script(fmt.Sprintf("INSERT INTO %s (number) VALUES (3)", dataTable))),
			NewMigration("1", CreateTable{Table: MustTable(dataTable, IntegerColumn("number"))}),
			NewMigration("2", Script(fmt.Sprintf("INSERT INTO %s (number) VALUES (2)", dataTable))),
		}
		if err := migrator.Apply(db, migrations); err != nil {
			t.Fatal(err)
		}

		end := time.Now().Add(time.Second).Truncate(time.Second)

		applied, err := migrator.GetAppliedMigrations(db)
		if err != nil {
			t.Fatal(err)
		}
		if len(applied) != 3 {
			t.Errorf("Expected exactly 3 applied migrations. Got %d", len(applied))
		}

		first := applied["1"]
		if first == nil {
			t.Fatal("Missing first migration")
		}
		if first.Checksum != migrations[1].MD5() {
			t.Errorf("Expected checksum %s, got %s", migrations[1].MD5(), first.Checksum)
		}
		appliedAt := first.AppliedAt.Round(time.Second)
		if appliedAt.IsZero() || appliedAt.Before(start) || appliedAt.After(end) {
			t.Errorf("Expected AppliedAt between %s and %s, got %s", start, end, appliedAt)
		}

		second := applied["2"]
		if second == nil {
			t.Fatal("Missing second migration")
		}
		if first.AppliedAt.After(second.AppliedAt) {
			t.Errorf("Expected migrations to run in version order, but first ran at %s and second at %s", first.AppliedAt, second.AppliedAt)
		}
	})
}

// TestFailedMigration ensures that a migration with a syntax error fails
// Apply and leaves no record in the tracking table.
func TestFailedMigration(t *testing.T) {
	withEachTestDB(t, func(t *testing.T, tdb *TestDB) {
		db := tdb.Connect(t)
		defer func() { _ = db.Close() }()

		migrator := makeTestMigrator(WithDialect(tdb.Dialect))
		migrations := []*Migration{
			NewMigration("2019-01-01", Script("CREATE TIBBLE bad_table_name (id INTEGER NOT NULL PRIMARY KEY)")),
			NewMigration("2019-01-02", Script("SELECT 1")),
		}
		err := migrator.Apply(db, migrations)
		expectErrorContains(t, err, "TIBBLE")
		expectErrorContains(t, err, "2019-01-01")

		applied, err := migrator.GetAppliedMigrations(db)
		if err != nil {
			t.Fatal(err)
		}
		if len(applied) != 0 {
			t.Errorf("Expected nothing in the tracking table, got %d records", len(applied))
		}
	})
}

// TestSimultaneousApply creates multiple Migrators and distinct connections
// to each test database and calls Apply on them all concurrently. The
// migrations include an INSERT statement, so counting rows proves each
// migration ran only once.
func TestSimultaneousApply(t *testing.T) {
	concurrency := 4

	withEachTestDB(t, func(t *testing.T, tdb *TestDB) {
		if _, isLocker := tdb.Dialect.(Locker); !isLocker {
			t.Skipf("%T has no lock", tdb.Dialect)
		}

		dataTable := uniqueName("data")
		migrationsTable := uniqueName("simultaneous_migrations")
		sharedMigrations := []*Migration{
			NewMigration("2020-05-02", Script(fmt.Sprintf(`CREATE TABLE %s (number INTEGER)`, dataTable))),
			NewMigration("2020-05-03", Script(fmt.Sprintf(`INSERT INTO %s (number) VALUES (1)`, dataTable))),
		}

		var wg sync.WaitGroup
		for i := 0; i < concurrency; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				db := tdb.Connect(t)
				defer func() { _ = db.Close() }()

				migrator := NewMigrator(WithDialect(tdb.Dialect), WithTableName(migrationsTable))
				if err := migrator.Apply(db, sharedMigrations); err != nil {
					t.Error(err)
				}
			}()
		}
		wg.Wait()

		db := tdb.Connect(t)
		defer func() { _ = db.Close() }()

		count := 0
		row := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", dataTable))
		if err := row.Scan(&count); err != nil {
			t.Fatal(err)
		}
		if count != 1 {
			t.Errorf("Expected 1 row in %s. Got %d", dataTable, count)
		}
	})
}

// TestSeparateTrackingTables ensures that two tracking tables can track
// separate sets of migrations in the same database.
func TestSeparateTrackingTables(t *testing.T) {
	withEachTestDB(t, func(t *testing.T, tdb *TestDB) {
		db := tdb.Connect(t)
		defer func() { _ = db.Close() }()

		inbox := makeTestMigrator(WithDialect(tdb.Dialect))
		outbox := makeTestMigrator(WithDialect(tdb.Dialect))

		inboxTable := uniqueName("inbox")
		outboxTable := uniqueName("outbox")
		if err := inbox.Apply(db, []*Migration{NewMigration("1", CreateTable{Table: MustTable(inboxTable, StringColumn("message"))})}); err != nil {
			t.Fatal(err)
		}
		if err := outbox.Apply(db, []*Migration{NewMigration("1", CreateTable{Table: MustTable(outboxTable, StringColumn("message"))})}); err != nil {
			t.Fatal(err)
		}

		for _, m := range []*Migrator{inbox, outbox} {
			applied, err := m.GetAppliedMigrations(db)
			if err != nil {
				t.Fatal(err)
			}
			if len(applied) != 1 {
				t.Errorf("Expected 1 migration tracked in %s, got %d", m.QuotedTableName(), len(applied))
			}
		}
	})
}

func TestMigrationsFromTestdata(t *testing.T) {
	withEachTestDB(t, func(t *testing.T, tdb *TestDB) {
		db := tdb.Connect(t)
		defer func() { _ = db.Close() }()

		migrations, err := FSMigrations(testdataFS, "*.yaml")
		if err != nil {
			t.Fatal(err)
		}
		migrator := makeTestMigrator(WithDialect(tdb.Dialect))
		if err := migrator.Apply(db, migrations); err != nil {
			t.Fatal(err)
		}

		columns, err := migrator.sqlStore(db).TableColumns(context.Background(), "letters")
		if err != nil {
			t.Fatal(err)
		}
		if columns[len(columns)-1] != "subject" {
			t.Errorf("Expected subject to be the last column, got %v", columns)
		}

		if err := migrator.Rollback(db, migrations, 2); err != nil {
			t.Fatal(err)
		}
	})
}

// makeTestMigrator produces a migrator with an isolated tracking table
func makeTestMigrator(options ...Option) *Migrator {
	options = append(options, WithTableName(uniqueName("migrations")))
	return NewMigrator(options...)
}
