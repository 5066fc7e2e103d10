package schema

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"strings"
	"testing"
	"testing/fstest"
)

func TestMigrationVersionFromFilename(t *testing.T) {
	tests := map[string]string{
		"20170215235858_create_letters.yaml":          "20170215235858",
		"migrations/2019-01-01 0900 Create Users.sql": "2019-01-01",
		"/abs/path/0001.sql":                          "0001",
		"no_extension":                                "no",
		"plain.sql":                                   "plain",
	}
	for filename, expected := range tests {
		if actual := MigrationVersionFromFilename(filename); actual != expected {
			t.Errorf("Expected version '%s' from '%s', got '%s'", expected, filename, actual)
		}
	}
}

func TestFSMigrationsFromTestdata(t *testing.T) {
	migrations, err := FSMigrations(os.DirFS("testdata/migrations"), "*")
	if err != nil {
		t.Fatal(err)
	}
	if len(migrations) != 3 {
		t.Fatalf("Expected 3 migrations, got %d", len(migrations))
	}

	SortMigrations(migrations)
	expectVersion(t, migrations[0], lettersVersion)
	expectVersion(t, migrations[1], "20170301120000")
	expectVersion(t, migrations[2], "20170302090000")
	expectScriptMatch(t, migrations[2], `^CREATE INDEX idx_letters_to_address`)

	if migrations[0].MD5() != createLetters().MD5() {
		t.Errorf("Expected the YAML letters migration to match the Go one. Got:\n%s", migrations[0].Up)
	}
	if _, ok := migrations[0].Down.(DropTable); !ok {
		t.Errorf("Expected a drop table Down, got %T", migrations[0].Down)
	}
	if migrations[2].Reversible() {
		t.Error("Expected the SQL migration to be irreversible")
	}

	ctx := context.Background()
	store := NewMemoryStore()
	ledger := NewMemoryLedger()
	if _, err := NewMigrator().Run(ctx, store, ledger, migrations[:2]); err != nil {
		t.Fatal(err)
	}
	columns, _ := store.TableColumns(ctx, "letters")
	if columns[len(columns)-1] != "subject" {
		t.Errorf("Expected subject to be added, got %v", columns)
	}
	if _, err := NewMigrator().Revert(ctx, store, ledger, migrations, 2); err != nil {
		t.Fatal(err)
	}
	if len(store.Snapshot()) != 0 {
		t.Errorf("Expected an empty store, got %v", store.Snapshot())
	}
}

func TestFSMigrations(t *testing.T) {
	filesystem := fstest.MapFS{
		"sql/1_create.sql":      {Data: []byte("CREATE TABLE x (id INTEGER)")},
		"sql/2_alter.sql":       {Data: []byte("ALTER TABLE x ADD y TEXT")},
		"sql/notes.txt":         {Data: []byte("ignored")},
		"yaml/3_letters.yml":    {Data: []byte("up:\n  drop_table: letters\n")},
		"other/1_duplicate.sql": {Data: []byte("SELECT 1")},
	}

	migrations, err := FSMigrations(filesystem, "sql/*.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(migrations) != 2 {
		t.Fatalf("Expected 2 migrations, got %d", len(migrations))
	}
	expectVersion(t, migrations[0], "1")
	expectScriptMatch(t, migrations[0], `^CREATE TABLE x`)

	migrations, err = FSMigrations(filesystem, "yaml/*")
	if err != nil {
		t.Fatal(err)
	}
	if op, ok := migrations[0].Up.(DropTable); !ok || op.Name != "letters" {
		t.Errorf("Expected drop table letters, got %v", migrations[0].Up)
	}

	_, err = FSMigrations(filesystem, "*/1_*.sql")
	expectErrorIs(t, err, ErrInvalidDefinition)
	expectErrorContains(t, err, "duplicate")
}

func TestFSMigrationsWithInvalidGlob(t *testing.T) {
	_, err := FSMigrations(fstest.MapFS{}, "[")
	expectErrorContains(t, err, "failed to process glob")
	if !errors.Is(err, path.ErrBadPattern) {
		t.Errorf("Expected ErrBadPattern, got %v", err)
	}
}

func TestMigrationFromBytesRejectsInvalidYAML(t *testing.T) {
	tests := map[string]string{
		"malformed":      "up: [",
		"missing up":     "down:\n  drop_table: letters\n",
		"two operations": "up:\n  drop_table: a\n  sql: SELECT 1\n",
		"no operation":   "up: {}\n",
		"bad type":       "up:\n  create_table:\n    name: t\n    columns:\n      - { name: a, type: blob }\n",
		"no columns":     "up:\n  create_table:\n    name: t\n",
		"bad down":       "up:\n  drop_table: a\ndown: {}\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := MigrationFromBytes("1_test.yaml", []byte(content))
			expectErrorIs(t, err, ErrInvalidDefinition)
			expectErrorContains(t, err, "1_test.yaml")
		})
	}
}

func TestMigrationFromFilePath(t *testing.T) {
	migration, err := MigrationFromFilePath("testdata/migrations/20170302090000_index_recipients.sql")
	if err != nil {
		t.Fatal(err)
	}
	expectVersion(t, migration, "20170302090000")

	_, err = MigrationFromFilePath("testdata/migrations/missing.sql")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Expected a missing file error, got %v", err)
	}
}

func TestMigrationFromFile(t *testing.T) {
	file, err := os.Open("testdata/migrations/20170301120000_add_subject.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	migration, err := MigrationFromFile(file)
	if err != nil {
		t.Fatal(err)
	}
	expectVersion(t, migration, "20170301120000")
	if !strings.HasPrefix(migration.Up.String(), "add column letters.subject") {
		t.Errorf("Expected an add column operation, got %s", migration.Up)
	}
}
