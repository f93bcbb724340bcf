package sqlite

import (
	"context"

	"dataload/internal/storage"
	sqliteddl "dataload/internal/storage/sqlite/ddl"
)

// newRepository is a test hook that points to NewRepository by default.
// Tests may replace this variable to avoid opening a database.
var newRepository = NewRepository

// wrappedRepo adds a Close method that calls the cleanup function returned by
// NewRepository.
type wrappedRepo struct {
	*Repository
	closeFn func()
}

// Close implements storage.Repository.Close.
func (w *wrappedRepo) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}

var _ storage.Repository = (*wrappedRepo)(nil)

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		r, closeFn, err := newRepository(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
	})
	storage.RegisterDialect("sqlite", sqliteddl.Dialect{})
}
