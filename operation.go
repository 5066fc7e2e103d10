package schema

import (
	"context"
	"fmt"
)

// Operation is a single forward schema change. The String form is
// canonical and feeds the migration checksum.
type Operation interface {
	Apply(ctx context.Context, store SchemaStore) error
	String() string
}

// CreateTable creates Table. It fails with ErrAlreadyExists when a table
// with the same name is present.
type CreateTable struct {
	Table *Table
}

func (op CreateTable) Apply(ctx context.Context, store SchemaStore) error {
	if op.Table == nil {
		return fmt.Errorf("%w: create table without a definition", ErrInvalidDefinition)
	}
	return store.CreateTable(ctx, op.Table)
}

func (op CreateTable) String() string {
	if op.Table == nil {
		return "create table <nil>"
	}
	return "create table " + op.Table.String()
}

// DropTable removes the named table
type DropTable struct {
	Name string
}

func (op DropTable) Apply(ctx context.Context, store SchemaStore) error {
	if op.Name == "" {
		return fmt.Errorf("%w: drop table without a name", ErrInvalidDefinition)
	}
	return store.DropTable(ctx, op.Name)
}

func (op DropTable) String() string {
	return "drop table " + op.Name
}

// AddColumn appends Column to an existing table
type AddColumn struct {
	Table  string
	Column Column
}

func (op AddColumn) Apply(ctx context.Context, store SchemaStore) error {
	if op.Table == "" {
		return fmt.Errorf("%w: add column without a table", ErrInvalidDefinition)
	}
	if err := op.Column.Validate(); err != nil {
		return err
	}
	return store.AddColumn(ctx, op.Table, op.Column)
}

func (op AddColumn) String() string {
	return fmt.Sprintf("add column %s.%s", op.Table, op.Column)
}

// DropColumn removes a column from an existing table
type DropColumn struct {
	Table  string
	Column string
}

func (op DropColumn) Apply(ctx context.Context, store SchemaStore) error {
	if op.Table == "" || op.Column == "" {
		return fmt.Errorf("%w: drop column needs a table and a column", ErrInvalidDefinition)
	}
	return store.DropColumn(ctx, op.Table, op.Column)
}

func (op DropColumn) String() string {
	return fmt.Sprintf("drop column %s.%s", op.Table, op.Column)
}

// Script is a raw SQL migration, typically loaded from a .sql file. It
// can only be applied to a store implementing ScriptRunner.
type Script string

func (op Script) Apply(ctx context.Context, store SchemaStore) error {
	runner, ok := store.(ScriptRunner)
	if !ok {
		return fmt.Errorf("%w: %T cannot execute SQL scripts", ErrInvalidDefinition, store)
	}
	return runner.ExecScript(ctx, string(op))
}

func (op Script) String() string {
	return string(op)
}
