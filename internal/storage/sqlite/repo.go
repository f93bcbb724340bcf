// Package sqlite implements a SQLite-backed storage.Repository on
// database/sql and modernc.org/sqlite. SQLite has no bulk-load API like
// Postgres COPY; rows are appended through a prepared INSERT inside the
// caller's transaction, which keeps performance acceptable for moderate
// volumes.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"dataload/internal/batch"
	"dataload/internal/schema"
	"dataload/internal/storage"
	sqliteddl "dataload/internal/storage/sqlite/ddl"

	_ "modernc.org/sqlite"
)

// Repository is a SQLite-backed implementation of storage.Repository.
type Repository struct {
	*storage.SQLRepository
}

// NewRepository opens a SQLite database and returns a Repository plus a Close
// function for cleanup.
//
// DSN is passed to the driver; for example:
//
//	"file:dataload.db?_pragma=foreign_keys(1)"
//	"/tmp/dataload.db"
//	":memory:" (single connection)
func NewRepository(ctx context.Context, cfg storage.Config) (*Repository, func(), error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	if !strings.Contains(dsn, "busy_timeout") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if strings.Contains(cfg.DSN, ":memory:") || strings.Contains(cfg.DSN, "mode=memory") {
		// Every connection to :memory: is a different database.
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	r := &Repository{SQLRepository: storage.NewSQLRepository("sqlite", db, sqliteddl.Dialect{}, cfg.QueryTimeout, storage.SQLHooks{
		TableExists:   tableExists,
		DescribeTable: describeTable,
		CopyFrom:      copyFrom,
		WrapErr:       wrapErr,
	})}
	return r, r.SQLRepository.Close, nil
}

func splitTable(table string) (schemaName, name string) {
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		return table[:i], table[i+1:]
	}
	return "main", table
}

func tableExists(ctx context.Context, q storage.Querier, table string) (bool, error) {
	schemaName, name := splitTable(table)
	query := fmt.Sprintf(
		"SELECT COUNT(*) FROM %s.sqlite_master WHERE type = 'table' AND name = ?",
		sqliteddl.Dialect{}.QuoteIdent(schemaName),
	)
	var n int
	if err := q.QueryRowContext(ctx, query, name).Scan(&n); err != nil {
		return false, fmt.Errorf("table exists %s: %w", table, err)
	}
	return n > 0, nil
}

func describeTable(ctx context.Context, q storage.Querier, table string) (batch.Schema, error) {
	schemaName, name := splitTable(table)
	d := sqliteddl.Dialect{}
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA %s.table_info(%s)", d.QuoteIdent(schemaName), d.QuoteIdent(name)))
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()

	var cols batch.Schema
	for rows.Next() {
		var (
			cid     int
			colName string
			decl    string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &colName, &decl, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("describe %s: %w", table, err)
		}
		cols = append(cols, batch.Column{Name: colName, Type: schema.ParseSQLType(decl), DatabaseType: decl})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("describe %s: table not found", table)
	}
	return cols, nil
}

// copyFrom inserts rows through one prepared statement on tx.
func copyFrom(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("sqlite: CopyFrom: columns must not be empty")
	}
	if len(rows) == 0 {
		return 0, nil
	}

	d := sqliteddl.Dialect{}
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.QuoteIdent(c)
		placeholders[i] = "?"
	}
	stmtSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		d.QuoteTable(table),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
	)

	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, row := range rows {
		if len(row) != len(columns) {
			return inserted, fmt.Errorf("sqlite: CopyFrom: row length %d != columns length %d", len(row), len(columns))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return inserted, fmt.Errorf("sqlite: insert: %w", err)
		}
		inserted++
	}
	return inserted, nil
}

func wrapErr(err error) error {
	if err == nil || strings.HasPrefix(err.Error(), "sqlite: ") {
		return err
	}
	return fmt.Errorf("sqlite: %w", err)
}
