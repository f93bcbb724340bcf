// Package ddl contains Postgres-specific DDL rendering.
package ddl

import (
	"fmt"
	"strings"

	gddl "dataload/internal/ddl"
	"dataload/internal/schema"
)

// Dialect implements ddl.Dialect for Postgres.
type Dialect struct{}

var _ gddl.Dialect = Dialect{}

func (Dialect) Name() string { return "postgres" }

// QuoteIdent quotes a single identifier segment, e.g. `weird"name` =>
// `"weird""name"`.
func (Dialect) QuoteIdent(name string) string { return gddl.DoubleQuote(name) }

// QuoteTable quotes "public.users" as "public"."users".
func (Dialect) QuoteTable(fqn string) string { return gddl.QuoteFQN(fqn, gddl.DoubleQuote) }

// ColumnType maps a schema.Type to a Postgres type:
//
//	bool      -> BOOLEAN
//	int       -> INTEGER (<= 9 digits), BIGINT (<= 18), NUMERIC(n,0)
//	decimal   -> NUMERIC(p,s)
//	date      -> DATE
//	timestamp -> TIMESTAMP
//	string    -> VARCHAR(n), TEXT when unbounded
func (Dialect) ColumnType(t schema.Type) string {
	switch t.Kind {
	case schema.KindBool:
		return "BOOLEAN"
	case schema.KindInt:
		switch {
		case t.Width <= 9:
			return "INTEGER"
		case t.Width <= schema.MaxInt64Digits:
			return "BIGINT"
		}
		return fmt.Sprintf("NUMERIC(%d,0)", t.Width)
	case schema.KindDecimal:
		return fmt.Sprintf("NUMERIC(%d,%d)", t.Precision, t.Scale)
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

// WidenColumn changes the column type in place. The explicit USING cast lets
// Postgres convert across kinds (integer -> varchar, boolean -> varchar).
func (d Dialect) WidenColumn(table, column string, t schema.Type) string {
	typ := d.ColumnType(t)
	col := d.QuoteIdent(column)
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s",
		d.QuoteTable(table), col, typ, col, typ)
}

func (d Dialect) AddPrimaryKey(table string, cols []gddl.ColumnDef) []string {
	if len(cols) == 0 {
		return nil
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = d.QuoteIdent(c.Name)
	}
	return []string{fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s)", d.QuoteTable(table), strings.Join(names, ", "))}
}

func (d Dialect) DropTable(table string) string { return "DROP TABLE " + d.QuoteTable(table) }

func (d Dialect) LimitOne(table string) string {
	return "SELECT 1 FROM " + d.QuoteTable(table) + " LIMIT 1"
}

func (Dialect) TransactionalDDL() bool { return true }

// MaxIdentLength is NAMEDATALEN-1.
func (Dialect) MaxIdentLength() int { return 63 }
