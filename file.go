package schema

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// MigrationVersionFromFilename removes directory paths and extensions from
// the filename and keeps the leading version, which ends at the first
// underscore or space. "20170215235858_create_letters.yaml" has version
// "20170215235858".
func MigrationVersionFromFilename(filename string) string {
	base := strings.TrimSuffix(path.Base(filename), path.Ext(filename))
	if i := strings.IndexAny(base, "_ "); i > 0 {
		return base[:i]
	}
	return base
}

// MigrationFromFilePath creates a Migration from a path on disk
func MigrationFromFilePath(filename string) (migration *Migration, err error) {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration from '%s': %w", filename, err)
	}
	return MigrationFromBytes(filename, contents)
}

// File wraps the standard library io.Read and os.File.Name methods
type File interface {
	Name() string
	Read(b []byte) (n int, err error)
}

// MigrationFromFile builds a migration by reading from an open File-like
// object. The migration's version will be based on the file's name. The
// file will *not* be closed after being read.
func MigrationFromFile(file File) (migration *Migration, err error) {
	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration from '%s': %w", file.Name(), err)
	}
	return MigrationFromBytes(file.Name(), content)
}

// MigrationFromBytes builds a migration from file contents. Files ending in
// .yaml or .yml describe typed operations; anything else is treated as a
// raw SQL Script.
func MigrationFromBytes(filename string, content []byte) (*Migration, error) {
	version := MigrationVersionFromFilename(filename)
	switch strings.ToLower(path.Ext(filename)) {
	case ".yaml", ".yml":
		migration, err := parseYAMLMigration(version, content)
		if err != nil {
			return nil, fmt.Errorf("migration '%s': %w", filename, err)
		}
		return migration, nil
	default:
		return &Migration{Version: version, Up: Script(content)}, nil
	}
}

// FSMigrations receives a filesystem (such as an embed.FS) and extracts all
// files matching the provided glob as Migrations, with the filename prefix
// being the version.
//
// Example usage:
//
//	FSMigrations(embeddedFS, "my-migrations/*.yaml")
func FSMigrations(filesystem fs.FS, glob string) (migrations []*Migration, err error) {
	migrations = make([]*Migration, 0)

	entries, err := fs.Glob(filesystem, glob)
	if err != nil {
		return migrations, fmt.Errorf("failed to process glob '%s': %w", glob, err)
	}

	for _, entry := range entries {
		data, err := fs.ReadFile(filesystem, entry)
		if err != nil {
			return migrations, fmt.Errorf("failed to read migration '%s': %w", entry, err)
		}
		migration, err := MigrationFromBytes(entry, data)
		if err != nil {
			return migrations, err
		}
		migrations = append(migrations, migration)
	}

	if err := validateMigrations(migrations); err != nil {
		return migrations, err
	}
	return migrations, nil
}

// yamlMigration is the document layout of a .yaml migration:
//
//	up:
//	  create_table:
//	    name: letters
//	    timestamps: true
//	    columns:
//	      - { name: to_address, type: string }
//	down:
//	  drop_table: letters
type yamlMigration struct {
	Up   *yamlOperation `yaml:"up"`
	Down *yamlOperation `yaml:"down"`
}

type yamlOperation struct {
	CreateTable *yamlTable    `yaml:"create_table"`
	DropTable   string        `yaml:"drop_table"`
	AddColumn   *yamlColumnOp `yaml:"add_column"`
	DropColumn  *yamlColumnOp `yaml:"drop_column"`
	SQL         string        `yaml:"sql"`
}

type yamlTable struct {
	Name       string       `yaml:"name"`
	PrimaryKey string       `yaml:"primary_key"`
	Columns    []yamlColumn `yaml:"columns"`
	Timestamps bool         `yaml:"timestamps"`
}

type yamlColumn struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	NotNull bool   `yaml:"not_null"`
}

type yamlColumnOp struct {
	Table  string     `yaml:"table"`
	Column yamlColumn `yaml:"column"`
}

func parseYAMLMigration(version string, content []byte) (*Migration, error) {
	var doc yamlMigration
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	if doc.Up == nil {
		return nil, fmt.Errorf("%w: missing 'up'", ErrInvalidDefinition)
	}

	up, err := doc.Up.operation()
	if err != nil {
		return nil, fmt.Errorf("up: %w", err)
	}
	migration := &Migration{Version: version, Up: up}
	if doc.Down != nil {
		if migration.Down, err = doc.Down.operation(); err != nil {
			return nil, fmt.Errorf("down: %w", err)
		}
	}
	return migration, nil
}

func (y *yamlOperation) operation() (Operation, error) {
	ops := make([]Operation, 0, 1)
	if y.CreateTable != nil {
		table, err := y.CreateTable.table()
		if err != nil {
			return nil, err
		}
		ops = append(ops, CreateTable{Table: table})
	}
	if y.DropTable != "" {
		ops = append(ops, DropTable{Name: y.DropTable})
	}
	if y.AddColumn != nil {
		column, err := y.AddColumn.Column.column()
		if err != nil {
			return nil, err
		}
		ops = append(ops, AddColumn{Table: y.AddColumn.Table, Column: column})
	}
	if y.DropColumn != nil {
		ops = append(ops, DropColumn{Table: y.DropColumn.Table, Column: y.DropColumn.Column.Name})
	}
	if y.SQL != "" {
		ops = append(ops, Script(y.SQL))
	}

	if len(ops) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one operation, found %d", ErrInvalidDefinition, len(ops))
	}
	return ops[0], nil
}

func (y *yamlTable) table() (*Table, error) {
	columns := make([]Column, 0, len(y.Columns)+3)
	if y.PrimaryKey != "" {
		columns = append(columns, PrimaryKeyColumn(y.PrimaryKey))
	}
	for _, yc := range y.Columns {
		column, err := yc.column()
		if err != nil {
			return nil, err
		}
		columns = append(columns, column)
	}
	if y.Timestamps {
		columns = append(columns, Timestamps()...)
	}
	return NewTable(y.Name, columns...)
}

func (y yamlColumn) column() (Column, error) {
	columnType, err := ParseColumnType(y.Type)
	if err != nil {
		return Column{}, err
	}
	column := Column{Name: y.Name, Type: columnType, NotNull: y.NotNull}
	return column, column.Validate()
}
