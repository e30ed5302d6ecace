// Package duckdb registers the DuckDB driver with the adapter registry.
package duckdb

import (
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver

	"github.com/quarrylabs/quarry/pkg/adapter"
)

func init() {
	adapter.Register(driver{})
}

type driver struct{}

func (driver) Name() string       { return "duckdb" }
func (driver) DriverName() string { return "duckdb" }

func (driver) DSN(connection string) (string, error) {
	return connection, nil
}

func (driver) Identity(connection string) (any, bool) {
	if connection == "" || connection == ":memory:" {
		return map[string]string{"driver": "duckdb", "path": ":memory:"}, true
	}
	abs, err := filepath.Abs(connection)
	if err != nil {
		return nil, false
	}
	return map[string]string{"driver": "duckdb", "path": filepath.Clean(abs)}, true
}
