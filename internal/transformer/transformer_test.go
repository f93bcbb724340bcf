package transformer

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"dataload/internal/batch"
	"dataload/internal/config"
	"dataload/internal/pipeline"
	"dataload/internal/transformer/builtin"
)

/*
markStage appends its rank to a shared slice whenever Process is invoked. Used
to verify that each stage in the chain is called exactly once and in order.
*/
type markStage struct {
	rank  int
	calls *[]int
}

func (m markStage) Process(_ context.Context, b *batch.Batch, _ pipeline.Listener) (*batch.Batch, error) {
	*m.calls = append(*m.calls, m.rank)
	return b, nil
}

/*
dropAll filters out every row.
*/
type dropAll struct{}

func (dropAll) Process(_ context.Context, b *batch.Batch, _ pipeline.Listener) (*batch.Batch, error) {
	b.Rows = b.Rows[:0]
	return b, nil
}

/*
failStage returns err from Process.
*/
type failStage struct{ err error }

func (f failStage) Name() string { return "fail" }
func (f failStage) Process(context.Context, *batch.Batch, pipeline.Listener) (*batch.Batch, error) {
	return nil, f.err
}

/*
openRecorder records the column names it was opened with.
*/
type openRecorder struct{ got []string }

func (o *openRecorder) Open(_ context.Context, cols batch.Schema, _ pipeline.Listener) error {
	o.got = cols.Names()
	return nil
}

func (o *openRecorder) Process(_ context.Context, b *batch.Batch, _ pipeline.Listener) (*batch.Batch, error) {
	return b, nil
}

func sample() *batch.Batch {
	return &batch.Batch{
		Name:    "t",
		Columns: batch.Schema{{Name: "a"}, {Name: "b"}},
		Rows:    [][]any{{"x", 1}, {"y", 2}},
	}
}

/*
TestChain_RunsInOrder verifies that each stage runs once, in order.
*/
func TestChain_RunsInOrder(t *testing.T) {
	var calls []int
	c := Chain{markStage{1, &calls}, markStage{2, &calls}, markStage{3, &calls}}

	out, err := c.Process(context.Background(), sample(), pipeline.NopListener{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Len() != 2 {
		t.Fatalf("rows=%d want 2", out.Len())
	}
	if !reflect.DeepEqual(calls, []int{1, 2, 3}) {
		t.Fatalf("calls=%v", calls)
	}
}

/*
TestChain_FilteredBatchStopsChain verifies that once a stage filters out every
row, later stages are not called and the chain returns nil.
*/
func TestChain_FilteredBatchStopsChain(t *testing.T) {
	var calls []int
	c := Chain{dropAll{}, markStage{1, &calls}}

	out, err := c.Process(context.Background(), sample(), pipeline.NopListener{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil batch, got %d rows", out.Len())
	}
	if len(calls) != 0 {
		t.Fatalf("later stage ran: %v", calls)
	}
}

/*
TestChain_SchemaOnlyBatchPassesThrough verifies that the schema-only batch of
an empty run reaches the end of the chain.
*/
func TestChain_SchemaOnlyBatchPassesThrough(t *testing.T) {
	var calls []int
	c := Chain{dropAll{}, markStage{1, &calls}}

	out, err := c.Process(context.Background(), sample().SchemaOnly(), pipeline.NopListener{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out == nil || len(out.Columns) != 2 {
		t.Fatalf("schema-only batch lost: %#v", out)
	}
	if len(calls) != 1 {
		t.Fatalf("calls=%v", calls)
	}
}

/*
TestChain_ErrorIsLabelled verifies stage errors carry the stage name.
*/
func TestChain_ErrorIsLabelled(t *testing.T) {
	boom := errors.New("boom")
	_, err := Chain{failStage{boom}}.Process(context.Background(), sample(), pipeline.NopListener{})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	if !strings.HasPrefix(err.Error(), "fail: ") {
		t.Fatalf("err=%q lacks stage label", err)
	}
}

/*
TestChain_OpenSeesRenamedColumns verifies that stages after a Rename are
opened with the renamed schema.
*/
func TestChain_OpenSeesRenamedColumns(t *testing.T) {
	rec := &openRecorder{}
	c := Chain{&builtin.Rename{Map: map[string]string{"A": "alpha"}}, rec}

	if err := c.Open(context.Background(), sample().Columns, pipeline.NopListener{}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !reflect.DeepEqual(rec.got, []string{"alpha", "b"}) {
		t.Fatalf("opened with %v", rec.got)
	}
}

/*
TestChain_CheckJoinsErrors verifies all stage check failures are reported.
*/
func TestChain_CheckJoinsErrors(t *testing.T) {
	c := Chain{&builtin.Require{}, &builtin.Rename{Map: map[string]string{"a": " "}}}
	err := c.Check(context.Background(), pipeline.NopListener{})
	if !errors.Is(err, pipeline.ErrConfiguration) {
		t.Fatalf("err=%v", err)
	}
	for _, want := range []string{"require: no fields", "rename: empty target"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("err=%q missing %q", err, want)
		}
	}
}

/*
TestBuild covers the configured kinds and the failure cases.
*/
func TestBuild(t *testing.T) {
	chain, err := Build([]config.Transform{
		{Kind: "normalize", Options: config.Options{}},
		{Kind: "rename", Options: config.Options{"columns": map[string]any{"a": "alpha"}}},
		{Kind: "require", Options: config.Options{"fields": []any{"alpha"}}},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("len=%d", len(chain))
	}
	if req, ok := chain[2].(*builtin.Require); !ok || !reflect.DeepEqual(req.Fields, []string{"alpha"}) {
		t.Fatalf("require stage=%#v", chain[2])
	}

	tests := []struct {
		name string
		spec config.Transform
		want string
	}{
		{"unknown", config.Transform{Kind: "coerce"}, `unknown kind "coerce"`},
		{"empty_rename", config.Transform{Kind: "rename", Options: config.Options{}}, "non-empty columns map"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Build([]config.Transform{tc.spec})
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v want %q", err, tc.want)
			}
		})
	}
}
