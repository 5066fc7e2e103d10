package schema

import (
	"fmt"
	"strings"
)

// ColumnType is the portable type of a column. Each Dialect maps it to a
// concrete SQL type.
type ColumnType int

const (
	// ColumnString is a short variable-length string
	ColumnString ColumnType = iota + 1
	ColumnText
	ColumnInteger
	ColumnBigInt
	ColumnBoolean
	ColumnTimestamp
	// ColumnPrimaryKey is an auto-incrementing surrogate key
	ColumnPrimaryKey
)

var columnTypeNames = map[ColumnType]string{
	ColumnString:     "string",
	ColumnText:       "text",
	ColumnInteger:    "integer",
	ColumnBigInt:     "bigint",
	ColumnBoolean:    "boolean",
	ColumnTimestamp:  "timestamp",
	ColumnPrimaryKey: "primary_key",
}

func (t ColumnType) String() string {
	if name, ok := columnTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ColumnType(%d)", int(t))
}

// Valid reports whether t is one of the known column types
func (t ColumnType) Valid() bool {
	_, ok := columnTypeNames[t]
	return ok
}

// ParseColumnType converts the lower-case name of a column type (as used
// in YAML migration files) into a ColumnType.
func ParseColumnType(name string) (ColumnType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "datetime" {
		return ColumnTimestamp, nil
	}
	for t, n := range columnTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown column type '%s'", ErrInvalidDefinition, name)
}

// Column is a single named, typed column of a Table
type Column struct {
	Name    string
	Type    ColumnType
	NotNull bool
}

func (c Column) String() string {
	if c.NotNull {
		return fmt.Sprintf("%s %s not null", c.Name, c.Type)
	}
	return fmt.Sprintf("%s %s", c.Name, c.Type)
}

// Validate checks that the column has a name and a known type
func (c Column) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: column name is blank", ErrInvalidDefinition)
	}
	if !c.Type.Valid() {
		return fmt.Errorf("%w: column '%s' has unknown type %s", ErrInvalidDefinition, c.Name, c.Type)
	}
	return nil
}

// StringColumn builds a nullable string column
func StringColumn(name string) Column {
	return Column{Name: name, Type: ColumnString}
}

// TextColumn builds a nullable text column
func TextColumn(name string) Column {
	return Column{Name: name, Type: ColumnText}
}

// IntegerColumn builds a nullable integer column
func IntegerColumn(name string) Column {
	return Column{Name: name, Type: ColumnInteger}
}

// BooleanColumn builds a nullable boolean column
func BooleanColumn(name string) Column {
	return Column{Name: name, Type: ColumnBoolean}
}

// TimestampColumn builds a nullable timestamp column
func TimestampColumn(name string) Column {
	return Column{Name: name, Type: ColumnTimestamp}
}

// PrimaryKeyColumn builds an auto-incrementing primary key column
func PrimaryKeyColumn(name string) Column {
	return Column{Name: name, Type: ColumnPrimaryKey, NotNull: true}
}

// Timestamps returns the created_at and updated_at audit columns
func Timestamps() []Column {
	return []Column{
		{Name: "created_at", Type: ColumnTimestamp, NotNull: true},
		{Name: "updated_at", Type: ColumnTimestamp, NotNull: true},
	}
}

// Table is an immutable description of a table's name and ordered
// columns. Build one with NewTable.
type Table struct {
	name    string
	columns []Column
}

// NewTable validates and builds a Table. The columns keep the order in
// which they are supplied.
func NewTable(name string, columns ...Column) (*Table, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: table name is blank", ErrInvalidDefinition)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: table '%s' has no columns", ErrInvalidDefinition, name)
	}

	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("table '%s': %w", name, err)
		}
		key := strings.ToLower(c.Name)
		if seen[key] {
			return nil, fmt.Errorf("%w: table '%s' has duplicate column '%s'", ErrInvalidDefinition, name, c.Name)
		}
		seen[key] = true
	}

	t := &Table{name: name, columns: make([]Column, len(columns))}
	copy(t.columns, columns)
	return t, nil
}

// MustTable is like NewTable but panics on an invalid definition. It is
// intended for package-level table literals.
func MustTable(name string, columns ...Column) *Table {
	t, err := NewTable(name, columns...)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the table name
func (t *Table) Name() string {
	return t.name
}

// Columns returns a copy of the table's columns in declared order
func (t *Table) Columns() []Column {
	columns := make([]Column, len(t.columns))
	copy(columns, t.columns)
	return columns
}

// ColumnNames returns the column names in declared order
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by name, ignoring case
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// Equal reports whether both tables have the same name and columns in the
// same order.
func (t *Table) Equal(other *Table) bool {
	if t == nil || other == nil {
		return t == other
	}
	if t.name != other.name || len(t.columns) != len(other.columns) {
		return false
	}
	for i := range t.columns {
		if t.columns[i] != other.columns[i] {
			return false
		}
	}
	return true
}

// String renders a canonical description of the table, which is also
// what migration checksums are computed from.
func (t *Table) String() string {
	parts := make([]string, len(t.columns))
	for i, c := range t.columns {
		parts[i] = c.String()
	}
	return fmt.Sprintf("%s (%s)", t.name, strings.Join(parts, ", "))
}

// withColumn returns a copy of t with c appended
func (t *Table) withColumn(c Column) *Table {
	columns := append(t.Columns(), c)
	return &Table{name: t.name, columns: columns}
}

// withoutColumn returns a copy of t with the named column removed
func (t *Table) withoutColumn(name string) *Table {
	columns := make([]Column, 0, len(t.columns))
	for _, c := range t.columns {
		if !strings.EqualFold(c.Name, name) {
			columns = append(columns, c)
		}
	}
	return &Table{name: t.name, columns: columns}
}
