// Command dataload copies the result of a SQL query into a new table (or CSV
// file) on another database, creating and widening the target as it goes.
//
// Usage:
//
//	dataload run --config transfer.json [--allow-empty] [--metrics-backend prometheus]
//	dataload check --config transfer.json
//	dataload backends
package main

import (
	"os"

	// register all backends with the storage factory.
	_ "dataload/internal/storage/all"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
