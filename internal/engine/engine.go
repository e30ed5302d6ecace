// Package engine orchestrates query execution: it compiles each query into a
// fold plan, runs the folded SQL through the source's connector, executes the
// remaining steps locally and gates every in-memory combination through the
// privacy firewall. Execution is single-threaded per query; suspension points
// are the connector, ingest and spill store calls.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/quarrylabs/quarry/internal/firewall"
	"github.com/quarrylabs/quarry/internal/fold"
	"github.com/quarrylabs/quarry/internal/ingest"
	"github.com/quarrylabs/quarry/internal/spill"
	"github.com/quarrylabs/quarry/pkg/core"
	"github.com/quarrylabs/quarry/pkg/scalar"
)

const (
	defaultMaxInMemoryRows = 100000
	defaultBatchSize       = 1024
)

// Config assembles an engine from its collaborators.
type Config struct {
	// Logger receives debug and warning output. Nil discards.
	Logger *slog.Logger
	// Connectors maps dialect names to database connectors. A database source
	// executes through the connector registered for its dialect.
	Connectors map[string]core.Connector
	// Cache is consulted and written at the top-level query boundary only.
	// Nil disables caching.
	Cache core.CacheManager
	// Spill persists external sort runs. Nil gets an in-memory store.
	Spill core.SpillStore
	// Progress receives fold, spill and firewall events. Nil drops them.
	Progress core.ProgressFunc
	// Mode is the privacy mode for all firewall checks.
	Mode core.PrivacyMode
	// Levels maps each source to its declared privacy level.
	Levels map[core.SourceID]core.PrivacyLevel
	// MaxInMemoryRows bounds local sort buffers; larger inputs go through the
	// external sort.
	MaxInMemoryRows int
	// MaxInMemoryBytes optionally bounds sort buffers by estimated size.
	MaxInMemoryBytes int64
	// BatchSize is the external sort chunk size.
	BatchSize int
	// HTTPClient fetches http sources. Nil gets a default with a timeout.
	HTTPClient *http.Client
}

func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Spill == nil {
		c.Spill = spill.NewMemStore()
	}
	if c.Mode == "" {
		c.Mode = core.PrivacyEnforce
	}
	if c.MaxInMemoryRows <= 0 {
		c.MaxInMemoryRows = defaultMaxInMemoryRows
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
}

// Engine executes queries.
type Engine struct {
	cfg        Config
	logger     *slog.Logger
	comparator *scalar.Comparator
	firewall   *firewall.Firewall
	folder     *fold.Engine
	csv        *ingest.CSVReader
	http       *ingest.HTTPReader
}

// New assembles an engine from a config.
func New(cfg Config) *Engine {
	cfg.applyDefaults()
	fw := firewall.New(cfg.Logger, cfg.Progress)
	return &Engine{
		cfg:        cfg,
		logger:     cfg.Logger,
		comparator: scalar.NewComparator(),
		firewall:   fw,
		folder:     fold.New(cfg.Logger, fw),
		csv:        ingest.NewCSVReader(cfg.Logger),
		http:       ingest.NewHTTPReader(cfg.HTTPClient, cfg.Logger),
	}
}

// ExecuteQuery runs one query to a materialized table. queries resolves the
// sibling references of merge and append steps. The cache, when configured,
// is read and written here and nowhere deeper; recursively resolved siblings
// always recompute.
func (e *Engine) ExecuteQuery(ctx context.Context, q *core.Query, queries map[string]*core.Query, opts core.ExecOptions) (*core.DataTable, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var key string
	if e.cfg.Cache != nil {
		var err error
		key, err = e.cfg.Cache.ComputeKey(q, e.cfg.Mode, e.cfg.Levels, opts)
		if err != nil {
			return nil, err
		}
		if table, ok, err := e.cfg.Cache.Get(ctx, key); err != nil {
			return nil, err
		} else if ok {
			e.logger.Debug("cache hit", "query", q.ID)
			return table, nil
		}
	}

	table, err := e.resolve(ctx, q, queries, opts, map[string]bool{})
	if err != nil {
		return nil, err
	}

	if e.cfg.Cache != nil {
		meta := core.CacheMeta{QueryID: q.ID, PrivacyMode: e.cfg.Mode}
		if err := e.cfg.Cache.Set(ctx, key, table, meta); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// Plan compiles a query without executing it.
func (e *Engine) Plan(q *core.Query, queries map[string]*core.Query, opts core.ExecOptions) (core.FoldPlan, error) {
	connector, err := e.connectorFor(q.Source)
	if err != nil {
		return nil, err
	}
	return e.folder.Compile(q, e.foldContext(queries, connector), opts)
}

func (e *Engine) foldContext(queries map[string]*core.Query, connector core.Connector) fold.Context {
	return fold.Context{
		Siblings:  queries,
		Mode:      e.cfg.Mode,
		Levels:    e.cfg.Levels,
		Connector: connector,
	}
}

// resolve executes one query, recursively resolving siblings. visiting
// detects reference cycles across merge and append steps.
func (e *Engine) resolve(ctx context.Context, q *core.Query, queries map[string]*core.Query, opts core.ExecOptions, visiting map[string]bool) (*core.DataTable, error) {
	if visiting[q.ID] {
		return nil, &core.ValidationError{Msg: fmt.Sprintf("query %s participates in a reference cycle", q.ID)}
	}
	visiting[q.ID] = true
	defer delete(visiting, q.ID)

	connector, err := e.connectorFor(q.Source)
	if err != nil {
		return nil, err
	}

	plan, err := e.folder.Compile(q, e.foldContext(queries, connector), opts)
	if err != nil {
		return nil, err
	}
	e.cfg.Progress.Emit(core.FoldEvent{QueryID: q.ID, PlanKind: plan.PlanKind()})

	switch p := plan.(type) {
	case core.FoldedPlan:
		// The whole pipeline is one round trip; the limit is already in the SQL.
		return connector.QuerySQL(ctx, q.Source.Connection, p.SQL, core.SQLOptions{Params: p.Params})

	case core.HybridPlan:
		table, err := connector.QuerySQL(ctx, q.Source.Connection, p.SQL, core.SQLOptions{Params: p.Params})
		if err != nil {
			return nil, err
		}
		table, err = e.applySteps(ctx, table, p.Remaining, q, queries, visiting)
		if err != nil {
			return nil, err
		}
		return applyLimit(table, opts.Limit), nil

	case core.LocalPlan:
		table, err := e.materializeSource(ctx, q.Source, connector)
		if err != nil {
			return nil, err
		}
		table, err = e.applySteps(ctx, table, q.Steps, q, queries, visiting)
		if err != nil {
			return nil, err
		}
		return applyLimit(table, opts.Limit), nil
	}
	return nil, &core.ValidationError{Msg: fmt.Sprintf("unknown plan kind %q", plan.PlanKind())}
}

// connectorFor returns the connector a source executes through. Non-database
// sources have none; database sources select by dialect, so a database source
// needs a dialect even when it never folds.
func (e *Engine) connectorFor(s core.Source) (core.Connector, error) {
	if s.Type != core.SourceDatabase {
		return nil, nil
	}
	if s.Dialect == "" {
		return nil, &core.ValidationError{Msg: "database source requires a dialect to select a connector"}
	}
	connector, ok := e.cfg.Connectors[s.Dialect]
	if !ok {
		return nil, &core.ValidationError{Msg: fmt.Sprintf("no connector configured for dialect %q", s.Dialect)}
	}
	return connector, nil
}

func (e *Engine) materializeSource(ctx context.Context, s core.Source, connector core.Connector) (*core.DataTable, error) {
	switch s.Type {
	case core.SourceCSV:
		return e.csv.Read(ctx, s.Path)
	case core.SourceHTTP:
		return e.http.Read(ctx, s.Method, s.URL)
	case core.SourceDatabase:
		return connector.QuerySQL(ctx, s.Connection, s.Query, core.SQLOptions{})
	}
	return nil, &core.ValidationError{Msg: fmt.Sprintf("unknown source type %q", s.Type)}
}

func applyLimit(table *core.DataTable, limit int) *core.DataTable {
	if limit > 0 && len(table.Rows) > limit {
		table.Rows = table.Rows[:limit]
	}
	return table
}
