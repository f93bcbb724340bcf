package storage

import (
	"fmt"
	"sync"

	"dataload/internal/ddl"
)

var (
	dialectMu sync.RWMutex
	dialects  = map[string]ddl.Dialect{}
)

// RegisterDialect registers the DDL dialect for a storage kind. Backends call
// it from init() next to Register so that offline checks (identifier length,
// naming) work without a connection.
func RegisterDialect(kind string, d ddl.Dialect) {
	dialectMu.Lock()
	defer dialectMu.Unlock()
	dialects[kind] = d
}

// DialectFor returns the dialect registered for kind.
func DialectFor(kind string) (ddl.Dialect, error) {
	dialectMu.RLock()
	d, ok := dialects[kind]
	dialectMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no dialect registered for storage.kind=%q", kind)
	}
	return d, nil
}
