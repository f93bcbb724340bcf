// Package ddl contains MySQL-specific DDL rendering.
//
// MySQL commits implicitly before every CREATE/ALTER/DROP, so a rollback of
// the transfer transaction cannot undo a widen; TransactionalDDL reports
// false and callers warn accordingly.
package ddl

import (
	"fmt"
	"strings"

	gddl "dataload/internal/ddl"
	"dataload/internal/schema"
)

const (
	maxPrecision = 65
	maxScale     = 30
	// maxVarChar keeps rows under the 65,535 byte limit for a handful of
	// utf8mb4 columns; wider strings become LONGTEXT.
	maxVarChar = 4000
)

// Dialect implements ddl.Dialect for MySQL 8.
type Dialect struct{}

var _ gddl.Dialect = Dialect{}

func (Dialect) Name() string { return "mysql" }

// QuoteIdent quotes an identifier with backticks, doubling embedded ones.
func (Dialect) QuoteIdent(name string) string { return Backtick(name) }

// QuoteTable quotes "shop.orders" as `shop`.`orders`.
func (Dialect) QuoteTable(fqn string) string { return gddl.QuoteFQN(fqn, Backtick) }

// Backtick quotes a single MySQL identifier segment.
func Backtick(id string) string { return "`" + strings.ReplaceAll(id, "`", "``") + "`" }

// ColumnType maps a schema.Type to a MySQL type:
//
//	bool      -> BOOLEAN (TINYINT(1))
//	int       -> INT (<= 9 digits), BIGINT (<= 18), DECIMAL(n,0)
//	decimal   -> DECIMAL(p,s), capped at 65/30
//	date      -> DATE
//	timestamp -> DATETIME(6)
//	string    -> VARCHAR(n), LONGTEXT beyond 4000
func (Dialect) ColumnType(t schema.Type) string {
	switch t.Kind {
	case schema.KindBool:
		return "BOOLEAN"
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
		s := min(t.Scale, maxScale, p)
		return fmt.Sprintf("DECIMAL(%d,%d)", p, s)
	case schema.KindDate:
		return "DATE"
	case schema.KindTimestamp:
		return "DATETIME(6)"
	case schema.KindString:
		if t.Width > maxVarChar {
			return "LONGTEXT"
		}
		return fmt.Sprintf("VARCHAR(%d)", max(t.Width, 1))
	}
	return "VARCHAR(1)"
}

// WidenColumn redefines the column with MODIFY COLUMN.
func (d Dialect) WidenColumn(table, column string, t schema.Type) string {
	return fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s NULL",
		d.QuoteTable(table), gddl.DeclareColumn(d, column, t))
}

// AddPrimaryKey adds the key; MySQL makes key columns NOT NULL itself.
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

func (Dialect) TransactionalDDL() bool { return false }

func (Dialect) MaxIdentLength() int { return 64 }
