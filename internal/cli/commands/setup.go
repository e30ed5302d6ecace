// Package commands implements the quarry subcommands.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/cache"
	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/engine"
	"github.com/quarrylabs/quarry/internal/loader"
	"github.com/quarrylabs/quarry/internal/spill"
	"github.com/quarrylabs/quarry/pkg/adapter"
	_ "github.com/quarrylabs/quarry/pkg/adapters" // register database drivers
	"github.com/quarrylabs/quarry/pkg/core"
)

// CacheOff disables result caching when set as cache.path.
const CacheOff = "off"

// CommandContext holds the dependencies a subcommand needs: the loaded
// project config, the query set and an assembled engine.
type CommandContext struct {
	Cfg     *config.Config
	Logger  *slog.Logger
	Queries map[string]*core.Query
	Engine  *engine.Engine
}

// NewCommandContext loads the project and assembles an engine. The returned
// cleanup function must be called, typically via defer.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	logger := newLogger(cmd)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	queries, err := loader.New(logger).LoadDir(cfg.QueriesDir)
	if err != nil {
		return nil, nil, err
	}

	mode, err := cfg.PrivacyMode()
	if err != nil {
		return nil, nil, err
	}
	levels, err := cfg.PrivacyLevels()
	if err != nil {
		return nil, nil, err
	}

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	connectors := make(map[string]core.Connector)
	for _, name := range adapter.List() {
		pool, err := adapter.NewPoolFor(name, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		connectors[name] = pool
		cleanups = append(cleanups, func() { _ = pool.Close() })
	}

	cacheManager, closeCache, err := openCache(cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if closeCache != nil {
		cleanups = append(cleanups, closeCache)
	}

	spillStore, err := openSpill(cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	var progress core.ProgressFunc
	if verbose {
		progress = func(ev core.Event) { printEvent(cmd, ev) }
	}

	eng := engine.New(engine.Config{
		Logger:           logger,
		Connectors:       connectors,
		Cache:            cacheManager,
		Spill:            spillStore,
		Progress:         progress,
		Mode:             mode,
		Levels:           levels,
		MaxInMemoryRows:  cfg.Spill.MaxInMemoryRows,
		MaxInMemoryBytes: cfg.Spill.MaxInMemoryBytes,
		BatchSize:        cfg.Spill.BatchSize,
	})

	return &CommandContext{Cfg: cfg, Logger: logger, Queries: queries, Engine: eng}, cleanup, nil
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	if !verbose {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path != "" {
		return config.Load(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	root := config.FindProjectRoot(wd)
	if root == "" {
		root = wd
	}
	return config.LoadFromDir(root)
}

func openCache(cfg *config.Config, logger *slog.Logger) (core.CacheManager, func(), error) {
	switch cfg.Cache.Path {
	case CacheOff:
		return nil, nil, nil
	case "":
		return cache.NewMemory(), nil, nil
	}
	if dir := filepath.Dir(cfg.Cache.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}
	store, err := cache.NewSQLiteStore(cfg.Cache.Path, logger)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

func openSpill(cfg *config.Config, logger *slog.Logger) (core.SpillStore, error) {
	if cfg.Spill.Dir == "" {
		return spill.NewMemStore(), nil
	}
	return spill.NewFSStore(cfg.Spill.Dir, logger)
}

func printEvent(cmd *cobra.Command, ev core.Event) {
	switch e := ev.(type) {
	case core.FoldEvent:
		fmt.Fprintf(cmd.ErrOrStderr(), "plan: query %s compiled to %s\n", e.QueryID, e.PlanKind)
	case core.SpillEvent:
		fmt.Fprintf(cmd.ErrOrStderr(), "sort: spilled run %d\n", e.RunCount)
	case core.FirewallEvent:
		fmt.Fprintf(cmd.ErrOrStderr(), "firewall: %s at %s phase during %s (%d sources)\n",
			e.Action, e.Phase, e.Operation, len(e.Sources))
	}
}
