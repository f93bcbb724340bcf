// Package storage contains storage-agnostic contracts and utilities shared by
// the concrete backends (postgres, mssql, mysql, sqlite).
//
// Backends register a Factory at init time; callers open a Repository by kind
// via New and never import a backend directly. Import
// dataload/internal/storage/all to link every built-in backend.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"dataload/internal/batch"
	"dataload/internal/ddl"
)

// Config selects and configures a backend.
type Config struct {
	Kind string // "postgres" | "mssql" | "mysql" | "sqlite"
	DSN  string
	// QueryTimeout bounds a single Query, including reading its rows.
	// Zero means unbounded.
	QueryTimeout time.Duration
}

// Repository is an open connection to one database.
type Repository interface {
	// Kind is the registered storage kind.
	Kind() string
	// Dialect renders DDL for this database.
	Dialect() ddl.Dialect
	// Ping verifies the server is reachable.
	Ping(ctx context.Context) error
	// Query starts a forward-only cursor over query.
	Query(ctx context.Context, query string) (Rows, error)
	// TableExists reports whether table exists.
	TableExists(ctx context.Context, table string) (bool, error)
	// DescribeTable returns the declared columns of an existing table.
	DescribeTable(ctx context.Context, table string) (batch.Schema, error)
	// Begin opens a transaction on a dedicated connection.
	Begin(ctx context.Context) (Tx, error)
	// Exec runs a statement outside any transaction.
	Exec(ctx context.Context, sql string) error
	Close()
}

// Tx is a transaction owned by a single writer.
type Tx interface {
	Exec(ctx context.Context, sql string) error
	// CopyFrom bulk-appends rows (aligned to columns) to table using the
	// backend's fastest primitive and returns the number of rows written.
	CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Rows is a forward-only cursor.
type Rows interface {
	// Columns describes the result set. Valid before the first Next.
	Columns() batch.Schema
	Next() bool
	// Values returns the current row. The slice is owned by the caller.
	Values() ([]any, error)
	Err() error
	Close() error
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for kind. It is typically
// called from backend packages' init() functions.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New opens a Repository using the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered kinds, sorted.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
