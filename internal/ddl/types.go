package ddl

import "dataload/internal/schema"

// ColumnDef describes a single column in a table definition.
//
// Fields:
//   - Name: logical column name (unquoted; quoting happens at render time)
//   - Type: dialect-neutral type, rendered by Dialect.ColumnType
//   - SQLType: explicit SQL type; when set it wins over Type
//   - Nullable: whether NULL is allowed
//   - PrimaryKey: whether the column is part of the primary key
//   - Default: raw default expression (e.g., 'anon', CURRENT_TIMESTAMP)
type ColumnDef struct {
	Name       string
	Type       schema.Type
	SQLType    string
	Nullable   bool
	PrimaryKey bool
	Default    string
}

// TableDef holds the table name and an ordered list of columns. The FQN is
// expected in dotted form (e.g., "schema.table") and is quoted per segment.
type TableDef struct {
	FQN     string
	Columns []ColumnDef
}
