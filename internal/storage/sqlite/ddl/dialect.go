// Package ddl contains SQLite-specific DDL rendering.
//
// SQLite is dynamically typed: any value can be stored in any column, so the
// declared types below are kept descriptive (VARCHAR(n), DECIMAL(p,s)) only so
// that a reused table reports the same widths it was created with. Widening
// therefore never needs DDL, and SQLite has no ALTER COLUMN anyway.
package ddl

import (
	"fmt"
	"strings"

	gddl "dataload/internal/ddl"
	"dataload/internal/schema"
)

// Dialect implements ddl.Dialect for SQLite.
type Dialect struct{}

var _ gddl.Dialect = Dialect{}

func (Dialect) Name() string                  { return "sqlite" }
func (Dialect) QuoteIdent(name string) string { return gddl.DoubleQuote(name) }

// QuoteTable quotes "main.events" as "main"."events".
func (Dialect) QuoteTable(fqn string) string { return gddl.QuoteFQN(fqn, gddl.DoubleQuote) }

// ColumnType maps a schema.Type to a declared SQLite type:
//
//	bool      -> BOOLEAN (stored 0/1)
//	int       -> INTEGER
//	decimal   -> DECIMAL(p,s)
//	date      -> DATE
//	timestamp -> TIMESTAMP
//	string    -> VARCHAR(n) or TEXT when unbounded
func (Dialect) ColumnType(t schema.Type) string {
	switch t.Kind {
	case schema.KindBool:
		return "BOOLEAN"
	case schema.KindInt:
		return "INTEGER"
	case schema.KindDecimal:
		return fmt.Sprintf("DECIMAL(%d,%d)", t.Precision, t.Scale)
	case schema.KindDate:
		return "DATE"
	case schema.KindTimestamp:
		return "TIMESTAMP"
	case schema.KindString:
		if t.Width == schema.Unbounded {
			return "TEXT"
		}
		return fmt.Sprintf("VARCHAR(%d)", max(t.Width, 1))
	}
	return "VARCHAR(1)"
}

// WidenColumn returns "" since SQLite stores wider values without DDL.
func (Dialect) WidenColumn(string, string, schema.Type) string { return "" }

// AddPrimaryKey emulates a primary key with a unique index, the only
// constraint SQLite can add to an existing table.
func (d Dialect) AddPrimaryKey(table string, cols []gddl.ColumnDef) []string {
	if len(cols) == 0 {
		return nil
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = d.QuoteIdent(c.Name)
	}
	base := table
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		base = table[i+1:]
	}
	return []string{fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)",
		d.QuoteIdent("pk_"+base), d.QuoteTable(table), strings.Join(names, ", "))}
}

func (d Dialect) DropTable(table string) string {
	return "DROP TABLE " + d.QuoteTable(table)
}

func (d Dialect) LimitOne(table string) string {
	return "SELECT 1 FROM " + d.QuoteTable(table) + " LIMIT 1"
}

func (Dialect) TransactionalDDL() bool { return true }

// MaxIdentLength is not enforced by SQLite; 128 keeps names portable.
func (Dialect) MaxIdentLength() int { return 128 }
