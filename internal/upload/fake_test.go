package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"dataload/internal/batch"
	"dataload/internal/ddl"
	"dataload/internal/storage"
	pgddl "dataload/internal/storage/postgres/ddl"
)

// recordingRepo logs every statement in order. Statements run inside the
// transfer transaction are prefixed with "tx: ".
type recordingRepo struct {
	mu        sync.Mutex
	log       []string
	tables    map[string]batch.Schema
	populated map[string]bool
	pingErr   error
	execErr   func(stmt string) error
	copyErr   error
}

func newRecordingRepo() *recordingRepo {
	return &recordingRepo{tables: map[string]batch.Schema{}, populated: map[string]bool{}}
}

func (r *recordingRepo) record(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, s)
}

func (r *recordingRepo) Kind() string               { return "fake" }
func (r *recordingRepo) Dialect() ddl.Dialect       { return pgddl.Dialect{} }
func (r *recordingRepo) Ping(context.Context) error { return r.pingErr }
func (r *recordingRepo) Close()                     {}
func (r *recordingRepo) Begin(context.Context) (storage.Tx, error) {
	r.record("BEGIN")
	return &recordingTx{repo: r}, nil
}

func (r *recordingRepo) Query(_ context.Context, q string) (storage.Rows, error) {
	r.record(q)
	for name, full := range r.populated {
		if full && strings.Contains(q, `"`+name+`"`) {
			return &oneRow{n: 1}, nil
		}
	}
	return &oneRow{}, nil
}

func (r *recordingRepo) TableExists(_ context.Context, table string) (bool, error) {
	_, ok := r.tables[table]
	return ok, nil
}

func (r *recordingRepo) DescribeTable(_ context.Context, table string) (batch.Schema, error) {
	cols, ok := r.tables[table]
	if !ok {
		return nil, fmt.Errorf("describe %s: table not found", table)
	}
	return cols, nil
}

func (r *recordingRepo) Exec(_ context.Context, stmt string) error {
	r.record(stmt)
	if r.execErr != nil {
		return r.execErr(stmt)
	}
	return nil
}

func (r *recordingRepo) statements() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

type recordingTx struct{ repo *recordingRepo }

func (t *recordingTx) Exec(_ context.Context, stmt string) error {
	t.repo.record("tx: " + stmt)
	if t.repo.execErr != nil {
		return t.repo.execErr(stmt)
	}
	return nil
}

func (t *recordingTx) CopyFrom(_ context.Context, table string, cols []string, rows [][]any) (int64, error) {
	t.repo.record(fmt.Sprintf("tx: COPY %s (%s) %d", table, strings.Join(cols, ","), len(rows)))
	if t.repo.copyErr != nil {
		return 0, t.repo.copyErr
	}
	return int64(len(rows)), nil
}

func (t *recordingTx) Commit(context.Context) error {
	t.repo.record("COMMIT")
	return nil
}

func (t *recordingTx) Rollback(context.Context) error {
	t.repo.record("ROLLBACK")
	return nil
}

// oneRow yields n rows of a single column.
type oneRow struct{ n, pos int }

func (o *oneRow) Columns() batch.Schema { return batch.Schema{{Name: "one"}} }
func (o *oneRow) Next() bool {
	if o.pos >= o.n {
		return false
	}
	o.pos++
	return true
}
func (o *oneRow) Values() ([]any, error) { return []any{int64(1)}, nil }
func (o *oneRow) Err() error             { return nil }
func (o *oneRow) Close() error           { return nil }

var errBoom = errors.New("boom")
