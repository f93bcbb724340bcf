package sqlite

import (
	"context"
	"testing"
	"time"

	"dataload/internal/storage"
)

// TestSQLiteStorageRegistrationUsesNewRepositoryHook verifies that the
// "sqlite" backend registered in init() uses the newRepository hook and that
// wrappedRepo delegates Close. Not parallel: it swaps a package variable.
func TestSQLiteStorageRegistrationUsesNewRepositoryHook(t *testing.T) {
	ctx := context.Background()

	origNewRepository := newRepository
	defer func() { newRepository = origNewRepository }()

	var (
		called bool
		gotCfg storage.Config
		closed bool

		fakeRepo = &Repository{}
	)
	newRepository = func(ctx context.Context, cfg storage.Config) (*Repository, func(), error) {
		called = true
		gotCfg = cfg
		return fakeRepo, func() { closed = true }, nil
	}

	cfg := storage.Config{Kind: "sqlite", DSN: "file:test.db?mode=memory", QueryTimeout: time.Minute}
	repo, err := storage.New(ctx, cfg)
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	if !called {
		t.Fatalf("newRepository hook was not called")
	}
	if gotCfg != cfg {
		t.Errorf("hook cfg = %+v, want %+v", gotCfg, cfg)
	}

	w, ok := repo.(*wrappedRepo)
	if !ok {
		t.Fatalf("storage.New() type = %T, want *wrappedRepo", repo)
	}
	if w.Repository != fakeRepo {
		t.Fatalf("wrappedRepo.Repository = %p, want %p", w.Repository, fakeRepo)
	}

	repo.Close()
	if !closed {
		t.Fatalf("wrappedRepo.Close() did not invoke closeFn")
	}
}

func TestDialectRegistered(t *testing.T) {
	t.Parallel()

	d, err := storage.DialectFor("sqlite")
	if err != nil {
		t.Fatalf("DialectFor: %v", err)
	}
	if d.Name() != "sqlite" {
		t.Fatalf("Name() = %q", d.Name())
	}
}
