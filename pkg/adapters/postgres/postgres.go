// Package postgres registers the PostgreSQL driver with the adapter registry.
package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver

	"github.com/quarrylabs/quarry/pkg/adapter"
)

func init() {
	adapter.Register(driver{})
}

type driver struct{}

func (driver) Name() string       { return "postgres" }
func (driver) DriverName() string { return "pgx" }

func (driver) DSN(connection string) (string, error) {
	if _, err := pgx.ParseConfig(connection); err != nil {
		return "", fmt.Errorf("invalid postgres connection string: %w", err)
	}
	return connection, nil
}

// Identity normalizes the connection string to its host, port, database and
// user, so credential or option differences in otherwise identical
// connections do not split one source into two.
func (driver) Identity(connection string) (any, bool) {
	cfg, err := pgx.ParseConfig(connection)
	if err != nil {
		return nil, false
	}
	return map[string]any{
		"driver":   "postgres",
		"host":     cfg.Host,
		"port":     cfg.Port,
		"database": cfg.Database,
		"user":     cfg.User,
	}, true
}
