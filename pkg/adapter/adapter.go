// Package adapter connects the engine to SQL databases. A Driver describes
// one backend (its database/sql driver and connection identity); a Pool
// multiplexes connections for one driver and executes compiled SQL.
package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quarrylabs/quarry/pkg/core"
	"github.com/quarrylabs/quarry/pkg/scalar"
)

// Driver describes one supported database backend.
type Driver interface {
	// Name is the registry name, which doubles as the dialect name.
	Name() string
	// DriverName is the database/sql driver to open connections with.
	DriverName() string
	// DSN maps a connection string to the driver's DSN form.
	DSN(connection string) (string, error)
	// Identity derives a stable, JSON-serializable identity for a connection
	// string. The second result is false when the string cannot be parsed,
	// in which case callers fall back to the raw string.
	Identity(connection string) (any, bool)
}

// Pool executes SQL for one driver, opening at most one *sql.DB per distinct
// connection string.
type Pool struct {
	driver Driver
	logger *slog.Logger

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewPool creates a pool for the given driver.
func NewPool(driver Driver, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pool{
		driver: driver,
		logger: logger,
		dbs:    make(map[string]*sql.DB),
	}
}

// WithDB seeds the pool with a pre-opened handle for a connection string.
// Used by tests to inject mock databases.
func (p *Pool) WithDB(connection string, db *sql.DB) *Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dbs[connection] = db
	return p
}

// QuerySQL runs sql against the database behind connection and materializes
// the result. Params bind in order; opts.Limit caps scanned rows.
func (p *Pool) QuerySQL(ctx context.Context, connection, sqlStr string, opts core.SQLOptions) (*core.DataTable, error) {
	db, err := p.open(connection)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, sqlStr, opts.Params...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading result columns: %w", err)
	}

	table := &core.DataTable{Columns: make([]core.Column, len(names))}
	for i, name := range names {
		table.Columns[i] = core.Column{Name: name, Type: scalar.Any}
	}

	scan := make([]any, len(names))
	for rows.Next() {
		if opts.Limit > 0 && len(table.Rows) >= opts.Limit {
			break
		}
		row := make(core.Row, len(names))
		for i := range row {
			scan[i] = &row[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		for i, cell := range row {
			if b, ok := cell.([]byte); ok {
				row[i] = string(b)
			}
		}
		if err := table.AppendRow(row); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating result rows: %w", err)
	}

	table.InferColumnTypes()
	p.logger.Debug("query executed",
		"driver", p.driver.Name(), "rows", len(table.Rows), "params", len(opts.Params))
	return table, nil
}

// ConnectionIdentity derives a stable identity for a connection string.
func (p *Pool) ConnectionIdentity(connection string) (any, bool) {
	return p.driver.Identity(connection)
}

// Close closes every database handle held by the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for conn, db := range p.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.dbs, conn)
	}
	return firstErr
}

func (p *Pool) open(connection string) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if db, ok := p.dbs[connection]; ok {
		return db, nil
	}

	dsn, err := p.driver.DSN(connection)
	if err != nil {
		return nil, fmt.Errorf("resolving connection: %w", err)
	}
	db, err := sql.Open(p.driver.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s connection: %w", p.driver.Name(), err)
	}
	p.dbs[connection] = db
	return db, nil
}

var (
	_ core.Connector            = (*Pool)(nil)
	_ core.ConnectionIdentifier = (*Pool)(nil)
)
