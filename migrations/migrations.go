// Package migrations holds the dead letter application's schema
// migrations, registered explicitly by version.
package migrations

import (
	"github.com/deadletter/schema"
)

// LettersTable is the table holding stored letters
const LettersTable = "letters"

// CreateLettersVersion is the version of the migration creating the
// letters table
const CreateLettersVersion = "20170215235858"

// Letters describes the letters table: four string columns plus the
// created_at and updated_at audit columns.
var Letters = schema.MustTable(LettersTable, append([]schema.Column{
	schema.StringColumn("to_address"),
	schema.StringColumn("from_address"),
	schema.StringColumn("message"),
	schema.StringColumn("is_read"),
}, schema.Timestamps()...)...)

// CreateLetters creates the letters table. It is reverted by dropping the
// table.
func CreateLetters() *schema.Migration {
	return &schema.Migration{
		Version: CreateLettersVersion,
		Up:      schema.CreateTable{Table: Letters},
		Down:    schema.DropTable{Name: LettersTable},
	}
}

// All returns a registry of every application migration
func All() *schema.Registry {
	registry, err := schema.NewRegistry(
		CreateLetters(),
	)
	if err != nil {
		panic(err)
	}
	return registry
}
