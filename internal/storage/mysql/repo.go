// Package mysql implements a MySQL-backed storage.Repository on database/sql
// and go-sql-driver/mysql. Rows are appended with multi-row INSERT
// statements inside the caller's transaction, chunked so that a statement
// never exceeds the server's placeholder limit.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"dataload/internal/batch"
	"dataload/internal/schema"
	"dataload/internal/storage"
	myddl "dataload/internal/storage/mysql/ddl"

	"github.com/go-sql-driver/mysql"
)

// maxPlaceholders is the prepared statement parameter limit.
const maxPlaceholders = 65535

// Repository is a MySQL-backed implementation of storage.Repository.
type Repository struct {
	*storage.SQLRepository
}

// NewRepository opens a MySQL pool and returns a Repository plus a Close
// function. The DSN is parsed and re-rendered with parseTime=true so that
// DATE/DATETIME columns scan as time.Time.
func NewRepository(ctx context.Context, cfg storage.Config) (*Repository, func(), error) {
	dsn, err := normalizeDSN(cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", wrapErr(err))
	}

	r := &Repository{SQLRepository: storage.NewSQLRepository("mysql", db, myddl.Dialect{}, cfg.QueryTimeout, storage.SQLHooks{
		TableExists:   tableExists,
		DescribeTable: describeTable,
		CopyFrom:      copyFrom,
		Normalize:     normalizeValue,
		WrapErr:       wrapErr,
	})}
	return r, r.SQLRepository.Close, nil
}

func normalizeDSN(dsn string) (string, error) {
	mc, err := mysql.ParseDSN(strings.TrimSpace(dsn))
	if err != nil {
		return "", fmt.Errorf("mysql dsn: %w", err)
	}
	mc.ParseTime = true
	return mc.FormatDSN(), nil
}

// schemaFilter returns the predicate and arguments selecting table in
// information_schema. Unqualified names resolve against DATABASE().
func schemaFilter(table string) (string, []any) {
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		return "TABLE_SCHEMA = ? AND TABLE_NAME = ?", []any{table[:i], table[i+1:]}
	}
	return "TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?", []any{table}
}

func tableExists(ctx context.Context, q storage.Querier, table string) (bool, error) {
	where, args := schemaFilter(table)
	var n int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM information_schema.TABLES WHERE "+where, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("table exists %s: %w", table, err)
	}
	return n > 0, nil
}

func describeTable(ctx context.Context, q storage.Querier, table string) (batch.Schema, error) {
	where, args := schemaFilter(table)
	rows, err := q.QueryContext(ctx,
		"SELECT COLUMN_NAME, COLUMN_TYPE FROM information_schema.COLUMNS WHERE "+where+" ORDER BY ORDINAL_POSITION", args...)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()

	var cols batch.Schema
	for rows.Next() {
		var name, decl string
		if err := rows.Scan(&name, &decl); err != nil {
			return nil, fmt.Errorf("describe %s: %w", table, err)
		}
		cols = append(cols, batch.Column{Name: name, Type: parseColumnType(decl), DatabaseType: decl})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("describe %s: table not found", table)
	}
	return cols, nil
}

// parseColumnType reads an information_schema COLUMN_TYPE such as
// "tinyint(1)", "int unsigned" or "decimal(12,2)".
func parseColumnType(decl string) schema.Type {
	decl = strings.ToLower(strings.TrimSpace(decl))
	decl = strings.TrimSpace(strings.TrimSuffix(decl, " zerofill"))
	unsigned := strings.HasSuffix(decl, " unsigned")
	decl = strings.TrimSpace(strings.TrimSuffix(decl, " unsigned"))
	if decl == "tinyint(1)" {
		return schema.Bool
	}
	t := schema.ParseSQLType(decl)
	if unsigned && t.Kind == schema.KindInt && t.Width == schema.MaxInt64Digits {
		// bigint unsigned holds 20 digits.
		return schema.Int(20)
	}
	return t
}

// normalizeValue keeps DECIMAL columns exact.
func normalizeValue(col batch.Column, v any) any {
	if col.Type.Kind != schema.KindDecimal {
		return v
	}
	switch x := v.(type) {
	case []byte:
		return schema.Numeric(x)
	case string:
		return schema.Numeric(x)
	}
	return v
}

// copyFrom appends rows with multi-row INSERT statements on tx.
func copyFrom(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("mysql: CopyFrom: columns must not be empty")
	}
	perStmt := max(maxPlaceholders/len(columns), 1)
	return storage.CopyChunks(ctx, columns, rows, perStmt, func(ctx context.Context, cols []string, chunk [][]any) (int64, error) {
		stmt, args, err := buildInsert(table, cols, chunk)
		if err != nil {
			return 0, err
		}
		res, err := tx.ExecContext(ctx, stmt, args...)
		if err != nil {
			return 0, fmt.Errorf("insert: %w", err)
		}
		return res.RowsAffected()
	})
}

// buildInsert renders INSERT INTO t (a, b) VALUES (?, ?), (?, ?) for rows.
func buildInsert(table string, columns []string, rows [][]any) (string, []any, error) {
	d := myddl.Dialect{}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.QuoteIdent(c)
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", d.QuoteTable(table), strings.Join(quoted, ", "))
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("mysql: CopyFrom: row %d length %d != columns length %d", i, len(row), len(columns))
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(tuple)
		args = append(args, row...)
	}
	return sb.String(), args, nil
}

// wrapErr appends the MySQL error number and SQLSTATE.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && !strings.Contains(err.Error(), "sqlstate=") {
		return fmt.Errorf("%w (error=%d sqlstate=%s)", err, myErr.Number, string(myErr.SQLState[:]))
	}
	return err
}
