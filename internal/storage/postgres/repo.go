// Package postgres implements storage.Repository for Postgres using pgx v5.
// Extraction streams through a pooled cursor; loads run inside one pgx.Tx
// and append rows with the binary COPY protocol.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"dataload/internal/batch"
	"dataload/internal/ddl"
	"dataload/internal/schema"
	"dataload/internal/storage"
	pgddl "dataload/internal/storage/postgres/ddl"
)

// Repository is a Postgres-backed implementation of storage.Repository.
type Repository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg storage.Config) (*Repository, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	closeFn := func() { pool.Close() }
	return &Repository{pool: pool, timeout: cfg.QueryTimeout}, closeFn, nil
}

func (r *Repository) Kind() string         { return "postgres" }
func (r *Repository) Dialect() ddl.Dialect { return pgddl.Dialect{} }

func (r *Repository) Ping(ctx context.Context) error { return wrapErr(r.pool.Ping(ctx)) }

// Query starts a cursor on a pooled connection. The connection returns to the
// pool when the Rows are closed.
func (r *Repository) Query(ctx context.Context, query string) (storage.Rows, error) {
	cancel := context.CancelFunc(func() {})
	if r.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		cancel()
		return nil, wrapErr(err)
	}
	return newRows(rows, cancel), nil
}

// TableExists resolves the name through the search_path like any query would.
func (r *Repository) TableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", pgddl.Dialect{}.QuoteTable(table)).Scan(&exists)
	if err != nil {
		return false, wrapErr(fmt.Errorf("table exists %s: %w", table, err))
	}
	return exists, nil
}

const describeSQL = `
SELECT column_name,
       data_type,
       COALESCE(character_maximum_length, 0),
       COALESCE(numeric_precision, 0),
       COALESCE(numeric_scale, 0)
FROM information_schema.columns
WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema())
  AND table_name = $2
ORDER BY ordinal_position`

func (r *Repository) DescribeTable(ctx context.Context, table string) (batch.Schema, error) {
	schemaName, name := "", table
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		schemaName, name = table[:i], table[i+1:]
	}
	rows, err := r.pool.Query(ctx, describeSQL, schemaName, name)
	if err != nil {
		return nil, wrapErr(fmt.Errorf("describe %s: %w", table, err))
	}
	defer rows.Close()

	var cols batch.Schema
	for rows.Next() {
		var (
			col, dataType          string
			length, prec, numScale int
		)
		if err := rows.Scan(&col, &dataType, &length, &prec, &numScale); err != nil {
			return nil, wrapErr(fmt.Errorf("describe %s: %w", table, err))
		}
		cols = append(cols, batch.Column{Name: col, Type: catalogType(dataType, length, prec, numScale), DatabaseType: dataType})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(fmt.Errorf("describe %s: %w", table, err))
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("describe %s: table not found", table)
	}
	return cols, nil
}

// catalogType maps an information_schema description onto a schema.Type.
func catalogType(dataType string, length, prec, scale int) schema.Type {
	switch dataType {
	case "character varying", "character":
		if length > 0 {
			return schema.String(length)
		}
	case "numeric":
		if prec > 0 {
			return schema.Decimal(prec, scale)
		}
	}
	return schema.ParseSQLType(dataType)
}

func (r *Repository) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &pgTx{tx: tx}, nil
}

// Exec implements storage.Repository.Exec for Postgres.
func (r *Repository) Exec(ctx context.Context, sql string) error {
	_, err := r.pool.Exec(ctx, sql)
	return wrapErr(err)
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) Exec(ctx context.Context, sql string) error {
	_, err := t.tx.Exec(ctx, sql)
	return wrapErr(err)
}

// CopyFrom appends rows with COPY FROM STDIN (binary).
func (t *pgTx) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	n, err := t.tx.CopyFrom(ctx, splitFQN(table), columns, pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		return toCopyRow(rows[i])
	}))
	if err != nil {
		return n, wrapErr(fmt.Errorf("copy into %s: %w", table, err))
	}
	return n, nil
}

func (t *pgTx) Commit(ctx context.Context) error   { return wrapErr(t.tx.Commit(ctx)) }
func (t *pgTx) Rollback(ctx context.Context) error { return wrapErr(t.tx.Rollback(ctx)) }

// toCopyRow converts values pgx cannot encode in binary format as-is.
// schema.Numeric travels as text and must become a pgtype.Numeric.
func toCopyRow(row []any) ([]any, error) {
	out := make([]any, len(row))
	for i, v := range row {
		if n, ok := v.(schema.Numeric); ok {
			var num pgtype.Numeric
			if err := num.Scan(string(n)); err != nil {
				return nil, fmt.Errorf("numeric %q: %w", n, err)
			}
			out[i] = num
			continue
		}
		out[i] = v
	}
	return out, nil
}

// splitFQN converts "schema.table" into a pgx.Identifier {"schema","table"}.
// If no dot is present, returns {"table"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}

// wrapErr surfaces server detail and SQLSTATE for *pgconn.PgError.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("%w (%s; SQLSTATE %s)", err, pgErr.Detail, pgErr.SQLState())
	}
	return err
}

// pgRows adapts pgx.Rows to storage.Rows.
type pgRows struct {
	rows   pgx.Rows
	cols   batch.Schema
	cancel context.CancelFunc
}

func newRows(rows pgx.Rows, cancel context.CancelFunc) *pgRows {
	fds := rows.FieldDescriptions()
	cols := make(batch.Schema, len(fds))
	tm := rows.Conn().TypeMap()
	for i, fd := range fds {
		name := fmt.Sprintf("oid:%d", fd.DataTypeOID)
		if t, ok := tm.TypeForOID(fd.DataTypeOID); ok {
			name = t.Name
		}
		cols[i] = batch.Column{Name: fd.Name, Type: fieldType(name, fd.TypeModifier), DatabaseType: name}
	}
	return &pgRows{rows: rows, cols: cols, cancel: cancel}
}

// fieldType decodes the type modifier pgx reports for sized types:
// varchar(n) carries n+4, numeric(p,s) carries ((p<<16)|s)+4.
func fieldType(name string, typmod int32) schema.Type {
	switch name {
	case "varchar", "bpchar":
		if typmod > 4 {
			return schema.String(int(typmod - 4))
		}
	case "numeric":
		if typmod > 4 {
			mod := typmod - 4
			return schema.Decimal(int(mod>>16&0xffff), int(mod&0xffff))
		}
	}
	return schema.ParseSQLType(name)
}

func (r *pgRows) Columns() batch.Schema { return r.cols }
func (r *pgRows) Next() bool            { return r.rows.Next() }

func (r *pgRows) Values() ([]any, error) {
	vals, err := r.rows.Values()
	if err != nil {
		return nil, wrapErr(err)
	}
	for i, v := range vals {
		vals[i] = normalizeValue(v)
	}
	return vals, nil
}

// normalizeValue maps pgx decoded values onto the plain Go values the rest of
// the pipeline understands.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case pgtype.Numeric:
		if !x.Valid {
			return nil
		}
		s, err := x.Value()
		if err != nil || s == nil {
			return nil
		}
		return schema.Numeric(s.(string))
	case [16]byte:
		return uuid.UUID(x).String()
	}
	return v
}

func (r *pgRows) Err() error { return wrapErr(r.rows.Err()) }

func (r *pgRows) Close() error {
	r.rows.Close()
	r.cancel()
	return wrapErr(r.rows.Err())
}
