// Package ddl contains MSSQL-specific DDL rendering.
//
// It maps schema.Type descriptors into SQL Server types. Strings are always
// Unicode (NVARCHAR) since extracted text may carry any script.
package ddl

import (
	"fmt"
	"strings"

	gddl "dataload/internal/ddl"
	"dataload/internal/schema"
)

// maxNVarChar is the widest NVARCHAR(n); anything wider is NVARCHAR(MAX).
const maxNVarChar = 4000

// maxPrecision is the DECIMAL precision limit.
const maxPrecision = 38

// Dialect implements ddl.Dialect for SQL Server.
type Dialect struct{}

var _ gddl.Dialect = Dialect{}

func (Dialect) Name() string { return "mssql" }

// QuoteIdent quotes an identifier using [brackets], escaping ].
func (Dialect) QuoteIdent(name string) string { return Bracket(name) }

// QuoteTable quotes "dbo.hr_events" as [dbo].[hr_events].
func (Dialect) QuoteTable(fqn string) string { return gddl.QuoteFQN(fqn, Bracket) }

// Bracket quotes a single SQL Server identifier segment.
func Bracket(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }

// ColumnType maps a schema.Type to a SQL Server type:
//
//	bool      -> BIT
//	int       -> INT (<= 9 digits), BIGINT (<= 18), DECIMAL(n,0)
//	decimal   -> DECIMAL(p,s), precision capped at 38
//	date      -> DATE
//	timestamp -> DATETIME2
//	string    -> NVARCHAR(n), NVARCHAR(MAX) beyond 4000
func (Dialect) ColumnType(t schema.Type) string {
	switch t.Kind {
	case schema.KindBool:
		return "BIT"
	case schema.KindInt:
		switch {
		case t.Width <= 9:
			return "INT"
		case t.Width <= schema.MaxInt64Digits:
			return "BIGINT"
		}
		return fmt.Sprintf("DECIMAL(%d,0)", min(t.Width, maxPrecision))
	case schema.KindDecimal:
		p := min(t.Precision, maxPrecision)
		s := min(t.Scale, p)
		return fmt.Sprintf("DECIMAL(%d,%d)", p, s)
	case schema.KindDate:
		return "DATE"
	case schema.KindTimestamp:
		return "DATETIME2"
	case schema.KindString:
		if t.Width > maxNVarChar {
			return "NVARCHAR(MAX)"
		}
		return fmt.Sprintf("NVARCHAR(%d)", max(t.Width, 1))
	}
	return "NVARCHAR(1)"
}

// WidenColumn alters the column in place. SQL Server converts existing values
// implicitly; the column stays nullable.
func (d Dialect) WidenColumn(table, column string, t schema.Type) string {
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s NULL",
		d.QuoteTable(table), d.QuoteIdent(column), d.ColumnType(t))
}

// AddPrimaryKey first makes every key column NOT NULL (SQL Server refuses a
// key over nullable columns), then adds a named constraint.
func (d Dialect) AddPrimaryKey(table string, cols []gddl.ColumnDef) []string {
	if len(cols) == 0 {
		return nil
	}
	stmts := make([]string, 0, len(cols)+1)
	names := make([]string, len(cols))
	for i, c := range cols {
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			typ = d.ColumnType(c.Type)
		}
		names[i] = d.QuoteIdent(c.Name)
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s NOT NULL", d.QuoteTable(table), names[i], typ))
	}
	base := table
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		base = table[i+1:]
	}
	stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s PRIMARY KEY (%s)",
		d.QuoteTable(table), d.QuoteIdent("PK_"+base), strings.Join(names, ", ")))
	return stmts
}

func (d Dialect) DropTable(table string) string { return "DROP TABLE " + d.QuoteTable(table) }

func (d Dialect) LimitOne(table string) string {
	return "SELECT TOP 1 1 FROM " + d.QuoteTable(table)
}

func (Dialect) TransactionalDDL() bool { return true }

// MaxIdentLength is the sysname limit.
func (Dialect) MaxIdentLength() int { return 128 }
