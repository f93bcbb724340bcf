package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"dataload/internal/batch"
	"dataload/internal/ddl"
	"dataload/internal/schema"
)

// Querier is the read surface shared by *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLHooks carries the pieces of a database/sql backend that differ per
// database. TableExists, DescribeTable and CopyFrom are required.
type SQLHooks struct {
	TableExists   func(ctx context.Context, q Querier, table string) (bool, error)
	DescribeTable func(ctx context.Context, q Querier, table string) (batch.Schema, error)
	CopyFrom      func(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) (int64, error)
	// ColumnType overrides the default mapping of a result-set column to a
	// schema.Type.
	ColumnType func(ct *sql.ColumnType) schema.Type
	// Normalize rewrites a scanned value into its canonical Go form (for
	// example a GUID into its string). Optional.
	Normalize func(col batch.Column, v any) any
	// WrapErr decorates driver errors with backend detail. Optional.
	WrapErr func(err error) error
}

// SQLRepository implements Repository on top of database/sql. The mssql,
// mysql and sqlite backends embed it and supply SQLHooks.
type SQLRepository struct {
	kind    string
	db      *sql.DB
	dialect ddl.Dialect
	hooks   SQLHooks
	timeout time.Duration
}

var _ Repository = (*SQLRepository)(nil)

// NewSQLRepository wraps an open *sql.DB.
func NewSQLRepository(kind string, db *sql.DB, d ddl.Dialect, timeout time.Duration, h SQLHooks) *SQLRepository {
	return &SQLRepository{kind: kind, db: db, dialect: d, hooks: h, timeout: timeout}
}

func (r *SQLRepository) Kind() string         { return r.kind }
func (r *SQLRepository) Dialect() ddl.Dialect { return r.dialect }

// DB exposes the handle for backend-specific helpers and tests.
func (r *SQLRepository) DB() *sql.DB { return r.db }

func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.wrap(r.db.PingContext(ctx))
}

// Query starts a cursor. With a QueryTimeout the cursor is closed once the
// timeout elapses, even mid-read.
func (r *SQLRepository) Query(ctx context.Context, query string) (Rows, error) {
	cancel := context.CancelFunc(func() {})
	if r.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		cancel()
		return nil, r.wrap(err)
	}
	out, err := NewSQLRows(rows, r.hooks.ColumnType)
	if err != nil {
		cancel()
		_ = rows.Close()
		return nil, r.wrap(err)
	}
	out.cancel = cancel
	out.normalize = r.hooks.Normalize
	out.wrapErr = r.hooks.WrapErr
	return out, nil
}

func (r *SQLRepository) TableExists(ctx context.Context, table string) (bool, error) {
	ok, err := r.hooks.TableExists(ctx, r.db, table)
	return ok, r.wrap(err)
}

func (r *SQLRepository) DescribeTable(ctx context.Context, table string) (batch.Schema, error) {
	cols, err := r.hooks.DescribeTable(ctx, r.db, table)
	return cols, r.wrap(err)
}

func (r *SQLRepository) Exec(ctx context.Context, stmt string) error {
	_, err := r.db.ExecContext(ctx, stmt)
	return r.wrap(err)
}

func (r *SQLRepository) Begin(ctx context.Context) (Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, r.wrap(err)
	}
	return &sqlTx{tx: tx, repo: r}, nil
}

func (r *SQLRepository) Close() { _ = r.db.Close() }

func (r *SQLRepository) wrap(err error) error {
	if err == nil || r.hooks.WrapErr == nil {
		return err
	}
	return r.hooks.WrapErr(err)
}

type sqlTx struct {
	tx   *sql.Tx
	repo *SQLRepository
}

func (t *sqlTx) Exec(ctx context.Context, stmt string) error {
	_, err := t.tx.ExecContext(ctx, stmt)
	return t.repo.wrap(err)
}

func (t *sqlTx) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	n, err := t.repo.hooks.CopyFrom(ctx, t.tx, table, columns, rows)
	return n, t.repo.wrap(err)
}

func (t *sqlTx) Commit(context.Context) error   { return t.repo.wrap(t.tx.Commit()) }
func (t *sqlTx) Rollback(context.Context) error { return t.repo.wrap(t.tx.Rollback()) }

// SQLRows adapts *sql.Rows to Rows.
type SQLRows struct {
	rows      *sql.Rows
	cols      batch.Schema
	binary    []bool
	cancel    context.CancelFunc
	normalize func(batch.Column, any) any
	wrapErr   func(error) error
}

// NewSQLRows describes the result set of rows. mapType may be nil.
func NewSQLRows(rows *sql.Rows, mapType func(*sql.ColumnType) schema.Type) (*SQLRows, error) {
	cts, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types: %w", err)
	}
	if mapType == nil {
		mapType = DefaultColumnType
	}
	cols := make(batch.Schema, len(cts))
	binary := make([]bool, len(cts))
	for i, ct := range cts {
		cols[i] = batch.Column{Name: ct.Name(), Type: mapType(ct), DatabaseType: ct.DatabaseTypeName()}
		binary[i] = isBinaryType(ct.DatabaseTypeName())
	}
	return &SQLRows{rows: rows, cols: cols, binary: binary}, nil
}

func (r *SQLRows) Columns() batch.Schema { return r.cols }
func (r *SQLRows) Next() bool            { return r.rows.Next() }

// Values scans the current row. Text delivered as []byte is converted to
// string unless the column is binary.
func (r *SQLRows) Values() ([]any, error) {
	vals := make([]any, len(r.cols))
	ptrs := make([]any, len(r.cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, r.wrap(err)
	}
	for i, v := range vals {
		if r.normalize != nil {
			v = r.normalize(r.cols[i], v)
			vals[i] = v
		}
		if b, ok := v.([]byte); ok && !r.binary[i] {
			vals[i] = string(b)
		}
	}
	return vals, nil
}

func (r *SQLRows) Err() error { return r.wrap(r.rows.Err()) }

func (r *SQLRows) Close() error {
	err := r.rows.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func (r *SQLRows) wrap(err error) error {
	if err == nil || r.wrapErr == nil {
		return err
	}
	return r.wrapErr(err)
}

// DefaultColumnType maps a driver column description onto a schema.Type
// using the declared name plus any length or precision the driver reports.
func DefaultColumnType(ct *sql.ColumnType) schema.Type {
	name := strings.ToLower(ct.DatabaseTypeName())
	if p, s, ok := ct.DecimalSize(); ok && p > 0 && (name == "decimal" || name == "numeric") {
		return schema.Decimal(int(p), int(s))
	}
	if n, ok := ct.Length(); ok && n > 0 && n < schema.Unbounded {
		switch name {
		case "varchar", "nvarchar", "char", "nchar", "character varying", "character", "bpchar":
			return schema.String(int(n))
		}
	}
	return schema.ParseSQLType(name)
}

func isBinaryType(name string) bool {
	name = strings.ToUpper(name)
	return strings.Contains(name, "BLOB") || strings.Contains(name, "BINARY") || name == "BYTEA" || name == "IMAGE"
}
