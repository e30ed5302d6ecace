// Package sqlite registers the SQLite driver with the adapter registry.
package sqlite

import (
	"path/filepath"

	_ "modernc.org/sqlite" // sqlite driver

	"github.com/quarrylabs/quarry/pkg/adapter"
)

func init() {
	adapter.Register(driver{})
}

type driver struct{}

func (driver) Name() string       { return "sqlite" }
func (driver) DriverName() string { return "sqlite" }

func (driver) DSN(connection string) (string, error) {
	return connection, nil
}

// Identity is the cleaned absolute database path, so relative and absolute
// references to one file collapse to one source.
func (driver) Identity(connection string) (any, bool) {
	if connection == ":memory:" {
		return map[string]string{"driver": "sqlite", "path": ":memory:"}, true
	}
	abs, err := filepath.Abs(connection)
	if err != nil {
		return nil, false
	}
	return map[string]string{"driver": "sqlite", "path": filepath.Clean(abs)}, true
}
