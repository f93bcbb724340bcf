// Package mssql implements a Microsoft SQL Server storage.Repository on
// database/sql and go-mssqldb. Rows are appended with the driver's bulk copy
// API (INSERT BULK) inside the caller's transaction, so a failed transfer
// rolls back every batch it copied.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"dataload/internal/batch"
	"dataload/internal/schema"
	"dataload/internal/storage"
	msddl "dataload/internal/storage/mssql/ddl"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"
)

// Repository is an MSSQL-backed implementation of storage.Repository.
type Repository struct {
	*storage.SQLRepository
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg storage.Config) (*Repository, func(), error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", wrapErr(err))
	}

	r := &Repository{SQLRepository: storage.NewSQLRepository("mssql", db, msddl.Dialect{}, cfg.QueryTimeout, storage.SQLHooks{
		TableExists:   tableExists,
		DescribeTable: describeTable,
		CopyFrom:      copyFrom,
		ColumnType:    columnType,
		Normalize:     normalizeValue,
		WrapErr:       wrapErr,
	})}
	return r, r.SQLRepository.Close, nil
}

// splitFQN splits "dbo.events" into ("dbo", "events"); the schema defaults
// to dbo.
func splitFQN(table string) (string, string) {
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		return table[:i], table[i+1:]
	}
	return "dbo", table
}

func tableExists(ctx context.Context, q storage.Querier, table string) (bool, error) {
	var id sql.NullInt64
	err := q.QueryRowContext(ctx, "SELECT OBJECT_ID(@p1, N'U')", msddl.Dialect{}.QuoteTable(table)).Scan(&id)
	if err != nil {
		return false, fmt.Errorf("table exists %s: %w", table, err)
	}
	return id.Valid, nil
}

func describeTable(ctx context.Context, q storage.Querier, table string) (batch.Schema, error) {
	schemaName, name := splitFQN(table)
	rows, err := q.QueryContext(ctx, `
SELECT COLUMN_NAME, DATA_TYPE, CHARACTER_MAXIMUM_LENGTH, NUMERIC_PRECISION, NUMERIC_SCALE
  FROM INFORMATION_SCHEMA.COLUMNS
 WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
 ORDER BY ORDINAL_POSITION`, schemaName, name)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()

	var cols batch.Schema
	for rows.Next() {
		var (
			colName, dataType string
			charLen           sql.NullInt64
			precision, scale  sql.NullInt64
		)
		if err := rows.Scan(&colName, &dataType, &charLen, &precision, &scale); err != nil {
			return nil, fmt.Errorf("describe %s: %w", table, err)
		}
		decl := catalogType(dataType, charLen, precision, scale)
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

// catalogType rebuilds a declaration such as "nvarchar(40)" or
// "decimal(12,2)" from INFORMATION_SCHEMA columns. A character length of -1
// means MAX.
func catalogType(dataType string, charLen, precision, scale sql.NullInt64) string {
	dataType = strings.ToLower(dataType)
	switch dataType {
	case "decimal", "numeric":
		if precision.Valid {
			return fmt.Sprintf("%s(%d,%d)", dataType, precision.Int64, scale.Int64)
		}
	case "varchar", "nvarchar", "char", "nchar":
		if charLen.Valid {
			if charLen.Int64 < 0 {
				return dataType + "(max)"
			}
			return fmt.Sprintf("%s(%d)", dataType, charLen.Int64)
		}
	}
	return dataType
}

// columnType extends the default mapping with SQL Server specific names.
func columnType(ct *sql.ColumnType) schema.Type {
	switch strings.ToUpper(ct.DatabaseTypeName()) {
	case "UNIQUEIDENTIFIER":
		return schema.String(36)
	case "MONEY", "SMALLMONEY":
		return schema.Decimal(19, 4)
	}
	return storage.DefaultColumnType(ct)
}

// normalizeValue renders GUIDs as text and keeps decimals exact.
func normalizeValue(col batch.Column, v any) any {
	switch strings.ToUpper(col.DatabaseType) {
	case "UNIQUEIDENTIFIER":
		if b, ok := v.([]byte); ok {
			var u mssql.UniqueIdentifier
			if err := u.Scan(b); err == nil {
				return u.String()
			}
		}
	}
	if col.Type.Kind == schema.KindDecimal {
		switch x := v.(type) {
		case []byte:
			return schema.Numeric(x)
		case string:
			return schema.Numeric(x)
		}
	}
	return v
}

// copyFrom bulk-copies rows into table within tx. The statement is flushed
// with a final argument-less Exec, which reports the rows copied.
func copyFrom(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("mssql: CopyFrom: columns must not be empty")
	}

	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(msddl.Dialect{}.QuoteTable(table), mssql.BulkOptions{KeepNulls: true}, columns...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	args := make([]any, len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			_ = stmt.Close()
			return 0, fmt.Errorf("bulk row %d: length %d != columns length %d", i, len(row), len(columns))
		}
		for j, v := range row {
			args[j] = toCopyVal(v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// toCopyVal converts canonical values into types the bulk copy encoder
// accepts; nil stays nil.
func toCopyVal(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case schema.Numeric:
		return string(x)
	case int:
		return int64(x)
	}
	return v
}

// wrapErr appends the SQL Server error number and state so operators can
// look the failure up.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var msErr mssql.Error
	if errors.As(err, &msErr) && !strings.Contains(err.Error(), "(number=") {
		return fmt.Errorf("%w (number=%d state=%d)", err, msErr.Number, msErr.State)
	}
	return err
}
