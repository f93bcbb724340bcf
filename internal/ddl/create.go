// Package ddl defines a small, backend-agnostic model for SQL DDL, the
// Dialect contract backends implement, and a CREATE TABLE renderer shared by
// all of them.
//
// The renderer:
//
//   - Quotes identifiers through the Dialect.
//   - Does not insert clauses such as IF NOT EXISTS; callers check existence
//     first and decide.
//   - Treats ColumnDef.Default as raw SQL (the caller is responsible for
//     safety and dialect correctness).
package ddl

import (
	"fmt"
	"strings"
)

// BuildCreateTableSQL renders a CREATE TABLE statement from a TableDef.
//
// Rules:
//
//   - t.FQN must be non-empty.
//
//   - Each column must have a non-empty Name. Its type is c.SQLType when set,
//     otherwise d.ColumnType(c.Type).
//
//   - A column is rendered as:
//
//     <Name> <Type> [NOT NULL] [DEFAULT <Default>]
//
//     where NOT NULL is added when Nullable == false or the column is part of
//     the primary key.
//
//   - Columns with PrimaryKey == true are collected into a trailing
//     PRIMARY KEY (<col1>, <col2>, ...) clause, in declaration order.
func BuildCreateTableSQL(d Dialect, t TableDef) (string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("ddl: table FQN must not be empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("ddl: at least one column is required")
	}

	cols := make([]string, 0, len(t.Columns)+1)
	pks := make([]string, 0, len(t.Columns))

	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("ddl: column with empty name in table %s", fqn)
		}
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			typ = d.ColumnType(c.Type)
		}

		var sb strings.Builder
		sb.WriteString(d.QuoteIdent(name))
		sb.WriteByte(' ')
		sb.WriteString(typ)

		if !c.Nullable || c.PrimaryKey {
			sb.WriteString(" NOT NULL")
		}

		if def := strings.TrimSpace(c.Default); def != "" {
			sb.WriteString(" DEFAULT ")
			sb.WriteString(def)
		}

		cols = append(cols, sb.String())

		if c.PrimaryKey {
			pks = append(pks, d.QuoteIdent(name))
		}
	}

	if len(pks) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}

	return fmt.Sprintf(
		"CREATE TABLE %s (\n  %s\n)",
		d.QuoteTable(fqn),
		strings.Join(cols, ",\n  "),
	), nil
}
