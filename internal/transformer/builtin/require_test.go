package builtin

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"dataload/internal/batch"
	"dataload/internal/pipeline"
)

type warnings []string

func (w *warnings) OnInfo(string)                {}
func (w *warnings) OnWarning(msg string)         { *w = append(*w, msg) }
func (w *warnings) OnProgress(pipeline.Progress) {}

/*
TestRequire_DropsIncompleteRows verifies nil and blank values drop the row and
the drop count is reported at Dispose.
*/
func TestRequire_DropsIncompleteRows(t *testing.T) {
	cols := batch.Schema{{Name: "id"}, {Name: "name"}, {Name: "note"}}
	r := &Require{Fields: []string{"id", "NAME"}}
	if err := r.Open(context.Background(), cols, pipeline.NopListener{}); err != nil {
		t.Fatalf("Open: %v", err)
	}

	b := &batch.Batch{Columns: cols, Rows: [][]any{
		{int64(1), "a", nil},
		{nil, "b", "x"},
		{int64(3), "  ", "y"},
		{int64(4), "d", ""},
	}}
	out, err := r.Process(context.Background(), b, pipeline.NopListener{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	want := [][]any{{int64(1), "a", nil}, {int64(4), "d", ""}}
	if !reflect.DeepEqual(out.Rows, want) {
		t.Fatalf("got %#v want %#v", out.Rows, want)
	}

	var w warnings
	r.Dispose(&w)
	if len(w) != 1 || !strings.Contains(w[0], "dropped 2 row(s)") {
		t.Fatalf("warnings=%v", w)
	}
}

/*
TestRequire_Config covers Check and Open failures.
*/
func TestRequire_Config(t *testing.T) {
	if err := (&Require{}).Check(context.Background(), pipeline.NopListener{}); err == nil {
		t.Fatalf("expected error for empty fields")
	}
	r := &Require{Fields: []string{"missing"}}
	if err := r.Open(context.Background(), batch.Schema{{Name: "id"}}, pipeline.NopListener{}); err == nil {
		t.Fatalf("expected error for unknown column")
	}
}

/*
TestRename verifies renamed columns, renamed key columns and the duplicate
check.
*/
func TestRename(t *testing.T) {
	cols := batch.Schema{{Name: "ID"}, {Name: "Jmeno"}}
	r := &Rename{Map: map[string]string{"jmeno": "name", "id": "id"}}
	if err := r.Open(context.Background(), cols, pipeline.NopListener{}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	b := &batch.Batch{Columns: cols, Rows: [][]any{{1, "x"}}, PrimaryKey: []string{"ID"}}
	out, err := r.Process(context.Background(), b, pipeline.NopListener{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !reflect.DeepEqual(out.Columns.Names(), []string{"id", "name"}) {
		t.Fatalf("columns=%v", out.Columns.Names())
	}
	if !reflect.DeepEqual(out.PrimaryKey, []string{"id"}) {
		t.Fatalf("pk=%v", out.PrimaryKey)
	}
	if cols[1].Name != "Jmeno" {
		t.Fatalf("input schema mutated")
	}

	dup := &Rename{Map: map[string]string{"jmeno": "id"}}
	if err := dup.Open(context.Background(), cols, pipeline.NopListener{}); err == nil {
		t.Fatalf("expected duplicate column error")
	}
	missing := &Rename{Map: map[string]string{"x": "y"}}
	if err := missing.Open(context.Background(), cols, pipeline.NopListener{}); err == nil {
		t.Fatalf("expected unknown column error")
	}
}
