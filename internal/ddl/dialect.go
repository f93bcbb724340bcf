package ddl

import (
	"strings"

	"dataload/internal/schema"
)

// Dialect translates dialect-neutral descriptors into SQL for one database
// family. Implementations live next to their backend in
// internal/storage/<kind>/ddl and are stateless.
type Dialect interface {
	// Name is the storage kind this dialect belongs to ("postgres", ...).
	Name() string

	// QuoteIdent quotes a single identifier segment.
	QuoteIdent(name string) string

	// QuoteTable quotes a possibly schema-qualified table name.
	QuoteTable(fqn string) string

	// ColumnType renders t as a column type. Unknown renders as the
	// narrowest character type.
	ColumnType(t schema.Type) string

	// WidenColumn returns the statement that changes column to type t, or ""
	// when the dialect needs no DDL to store wider values.
	WidenColumn(table, column string, t schema.Type) string

	// AddPrimaryKey returns the statements that declare cols as the table's
	// primary key (or the closest equivalent).
	AddPrimaryKey(table string, cols []ColumnDef) []string

	// DropTable returns a DROP TABLE statement.
	DropTable(table string) string

	// LimitOne returns a query selecting at most one row of table. It is
	// used to probe both existence and emptiness.
	LimitOne(table string) string

	// TransactionalDDL reports whether CREATE/ALTER participate in the
	// surrounding transaction.
	TransactionalDDL() bool

	// MaxIdentLength is the longest legal identifier, in bytes.
	MaxIdentLength() int
}

// DeclareColumn renders `<quoted name> <type>` for use in CREATE or ALTER.
func DeclareColumn(d Dialect, name string, t schema.Type) string {
	return d.QuoteIdent(name) + " " + d.ColumnType(t)
}

// QuoteFQN quotes each non-empty dot-separated segment of fqn with quote:
//
//	"dbo.Users" -> [dbo].[Users]
//	"Users"     -> [Users]
func QuoteFQN(fqn string, quote func(string) string) string {
	parts := strings.Split(fqn, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, quote(p))
	}
	return strings.Join(out, ".")
}

// DoubleQuote quotes an identifier the ANSI way, escaping embedded quotes.
//
//	quote(`patient`)    => `"patient"`
//	quote(`weird"name`) => `"weird""name"`
func DoubleQuote(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
