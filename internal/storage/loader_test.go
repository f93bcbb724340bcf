package storage

import (
	"context"
	"errors"
	"testing"
)

func rowsOf(n int) [][]any {
	out := make([][]any, n)
	for i := range out {
		out[i] = []any{i, "x"}
	}
	return out
}

// TestCopyChunks_Basic verifies rows are split into chunks and the total is
// the sum of all copyFn returns.
func TestCopyChunks_Basic(t *testing.T) {
	t.Parallel()

	var sizes []int
	copyFn := func(_ context.Context, cols []string, rows [][]any) (int64, error) {
		if len(cols) != 2 {
			t.Fatalf("columns = %v", cols)
		}
		sizes = append(sizes, len(rows))
		return int64(len(rows)), nil
	}

	total, err := CopyChunks(context.Background(), []string{"c1", "c2"}, rowsOf(7), 3, copyFn)
	if err != nil {
		t.Fatalf("CopyChunks error: %v", err)
	}
	if total != 7 {
		t.Fatalf("total rows %d, want 7", total)
	}
	if len(sizes) != 3 || sizes[0] != 3 || sizes[1] != 3 || sizes[2] != 1 {
		t.Fatalf("chunk sizes %v, want [3 3 1]", sizes)
	}
}

// TestCopyChunks_ErrorPropagation ensures the first copy error stops the loop.
func TestCopyChunks_ErrorPropagation(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("copy failed")
	calls := 0
	copyFn := func(_ context.Context, _ []string, rows [][]any) (int64, error) {
		calls++
		if calls == 2 {
			return 0, wantErr
		}
		return int64(len(rows)), nil
	}

	total, err := CopyChunks(context.Background(), []string{"c"}, rowsOf(6), 2, copyFn)
	if !errors.Is(err, wantErr) {
		t.Fatalf("want error %v, got %v", wantErr, err)
	}
	if total != 2 || calls != 2 {
		t.Fatalf("total=%d calls=%d, want 2 and 2", total, calls)
	}
}

// TestCopyChunks_ContextCancel checks no chunk is written after cancellation.
func TestCopyChunks_ContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := CopyChunks(ctx, []string{"c"}, rowsOf(3), 2, func(context.Context, []string, [][]any) (int64, error) {
		called = true
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if called {
		t.Fatalf("copyFn called after cancellation")
	}
}

func TestCopyChunks_InvalidArgs(t *testing.T) {
	t.Parallel()

	if _, err := CopyChunks(context.Background(), nil, nil, 0, func(context.Context, []string, [][]any) (int64, error) { return 0, nil }); err == nil {
		t.Fatalf("expected error for chunkSize=0")
	}
	if _, err := CopyChunks(context.Background(), nil, nil, 1, nil); err == nil {
		t.Fatalf("expected error for nil copyFn")
	}
}
