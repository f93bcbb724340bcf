// Package all wires all built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init functions of each concrete backend, which register
// their factories and DDL dialects with the storage package.
//
// Importing this package makes the following storage kinds available:
//
//   - "postgres" (dataload/internal/storage/postgres)
//   - "mssql"    (dataload/internal/storage/mssql)
//   - "mysql"    (dataload/internal/storage/mysql)
//   - "sqlite"   (dataload/internal/storage/sqlite)
//
// Typical usage (in cmd/dataload or a similar wiring layer):
//
//	import _ "dataload/internal/storage/all"
//
//	repo, err := storage.New(ctx, storage.Config{Kind: cfg.Kind, DSN: cfg.DSN})
//
// A binary that needs only a subset of backends can import them directly
// instead of this package.
package all

import (
	_ "dataload/internal/storage/mssql"
	_ "dataload/internal/storage/mysql"
	_ "dataload/internal/storage/postgres"
	_ "dataload/internal/storage/sqlite"
)
