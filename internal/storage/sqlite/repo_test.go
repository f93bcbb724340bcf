package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"dataload/internal/schema"
	"dataload/internal/storage"
)

func newRepo(tb testing.TB) *Repository {
	tb.Helper()
	r, closeFn, err := NewRepository(context.Background(), storage.Config{
		Kind: "sqlite",
		DSN:  filepath.Join(tb.TempDir(), "test.db"),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	tb.Cleanup(closeFn)
	return r
}

func mustExec(tb testing.TB, r *Repository, stmt string) {
	tb.Helper()
	if err := r.Exec(context.Background(), stmt); err != nil {
		tb.Fatalf("exec %q: %v", stmt, err)
	}
}

func TestNewRepository_EmptyDSN(t *testing.T) {
	t.Parallel()

	if _, _, err := NewRepository(context.Background(), storage.Config{DSN: "  "}); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}

func TestTableExistsAndDescribe(t *testing.T) {
	t.Parallel()

	r := newRepo(t)
	ctx := context.Background()

	ok, err := r.TableExists(ctx, "people")
	if err != nil || ok {
		t.Fatalf("TableExists before create = %v, %v", ok, err)
	}

	mustExec(t, r, `CREATE TABLE "people" ("id" INTEGER, "name" VARCHAR(20), "score" DECIMAL(6,2), "born" DATE)`)

	ok, err = r.TableExists(ctx, "main.people")
	if err != nil || !ok {
		t.Fatalf("TableExists after create = %v, %v", ok, err)
	}

	cols, err := r.DescribeTable(ctx, "people")
	if err != nil {
		t.Fatalf("DescribeTable: %v", err)
	}
	want := []schema.Type{schema.Int(10), schema.String(20), schema.Decimal(6, 2), schema.Date}
	if len(cols) != len(want) {
		t.Fatalf("got %d columns, want %d", len(cols), len(want))
	}
	for i, c := range cols {
		if c.Type != want[i] {
			t.Fatalf("column %s type = %s, want %s", c.Name, c.Type, want[i])
		}
	}

	if _, err := r.DescribeTable(ctx, "missing"); err == nil {
		t.Fatalf("expected error describing a missing table")
	}
}

// TestTxCopyFromAndRollback checks that rows appended in a rolled back
// transaction are not visible.
func TestTxCopyFromAndRollback(t *testing.T) {
	t.Parallel()

	r := newRepo(t)
	ctx := context.Background()
	mustExec(t, r, `CREATE TABLE "items" ("id" INTEGER, "label" TEXT)`)

	tx, err := r.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	n, err := tx.CopyFrom(ctx, "items", []string{"id", "label"}, [][]any{{1, "a"}, {2, "b"}})
	if err != nil || n != 2 {
		t.Fatalf("CopyFrom = %d, %v", n, err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if got := countRows(t, r, "items"); got != 0 {
		t.Fatalf("rows after rollback = %d, want 0", got)
	}

	tx, err = r.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := tx.CopyFrom(ctx, "items", []string{"id", "label"}, [][]any{{3, "c"}}); err != nil {
		t.Fatalf("CopyFrom: %v", err)
	}
	if _, err := tx.CopyFrom(ctx, "items", []string{"id"}, [][]any{{1, "extra"}}); err == nil {
		t.Fatalf("expected row/column length mismatch error")
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := countRows(t, r, "items"); got != 1 {
		t.Fatalf("rows after commit = %d, want 1", got)
	}
}

func TestQuery_ColumnsAndValues(t *testing.T) {
	t.Parallel()

	r := newRepo(t)
	ctx := context.Background()
	mustExec(t, r, `CREATE TABLE "t" ("id" INTEGER, "name" VARCHAR(8), "payload" BLOB)`)
	mustExec(t, r, `INSERT INTO "t" VALUES (1, 'ada', x'0102')`)

	rows, err := r.Query(ctx, `SELECT "id", "name", "payload" FROM "t"`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	defer rows.Close()

	cols := rows.Columns()
	if len(cols) != 3 || cols[1].Name != "name" || cols[1].Type != schema.String(8) {
		t.Fatalf("Columns() = %+v", cols)
	}
	if !rows.Next() {
		t.Fatalf("expected a row: %v", rows.Err())
	}
	vals, err := rows.Values()
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	if vals[0] != int64(1) || vals[1] != "ada" {
		t.Fatalf("values = %#v", vals)
	}
	if b, ok := vals[2].([]byte); !ok || len(b) != 2 {
		t.Fatalf("blob value = %#v, want []byte", vals[2])
	}
	if rows.Next() {
		t.Fatalf("expected one row")
	}
}

func TestQuery_Timeout(t *testing.T) {
	t.Parallel()

	r, closeFn, err := NewRepository(context.Background(), storage.Config{
		DSN:          filepath.Join(t.TempDir(), "timeout.db"),
		QueryTimeout: time.Nanosecond,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer closeFn()

	time.Sleep(time.Millisecond)
	rows, err := r.Query(context.Background(), "WITH RECURSIVE n(i) AS (SELECT 1 UNION ALL SELECT i+1 FROM n WHERE i < 1000000) SELECT i FROM n")
	if err == nil {
		for rows.Next() {
		}
		err = rows.Err()
		rows.Close()
	}
	if err == nil {
		t.Fatalf("expected the query to be cut off by the timeout")
	}
}

func countRows(tb testing.TB, r *Repository, table string) int {
	tb.Helper()
	var n int
	if err := r.DB().QueryRow(`SELECT COUNT(*) FROM "` + table + `"`).Scan(&n); err != nil {
		tb.Fatalf("count %s: %v", table, err)
	}
	return n
}
