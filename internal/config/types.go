// Package config loads the quarry.yaml project file: where query definitions
// live, the privacy configuration and the cache and spill settings.
package config

import (
	"fmt"

	"github.com/quarrylabs/quarry/pkg/core"
)

// PrivacyConfig declares the privacy mode and per-source levels.
type PrivacyConfig struct {
	// Mode is ignore, warn or enforce.
	Mode string `koanf:"mode"`
	// Levels maps canonical source IDs to level names (public,
	// organizational, private).
	Levels map[string]string `koanf:"levels"`
}

// CacheConfig selects the result cache backend.
type CacheConfig struct {
	// Path is the SQLite cache database file. Empty keeps the cache
	// in memory; "off" disables caching entirely.
	Path string `koanf:"path"`
}

// SpillConfig controls the external sort.
type SpillConfig struct {
	// Dir is where spill runs are written. Empty keeps runs in memory.
	Dir string `koanf:"dir"`
	// MaxInMemoryRows bounds sort buffers by row count.
	MaxInMemoryRows int `koanf:"max_in_memory_rows"`
	// MaxInMemoryBytes optionally bounds sort buffers by estimated size.
	MaxInMemoryBytes int64 `koanf:"max_in_memory_bytes"`
	// BatchSize is the spill chunk size.
	BatchSize int `koanf:"batch_size"`
}

// Config is the project configuration.
type Config struct {
	// QueriesDir holds the *.query.yaml definitions.
	QueriesDir string `koanf:"queries_dir"`

	Privacy PrivacyConfig `koanf:"privacy"`
	Cache   CacheConfig   `koanf:"cache"`
	Spill   SpillConfig   `koanf:"spill"`
}

// PrivacyMode returns the configured mode as the engine's type.
func (c *Config) PrivacyMode() (core.PrivacyMode, error) {
	switch c.Privacy.Mode {
	case "ignore":
		return core.PrivacyIgnore, nil
	case "warn":
		return core.PrivacyWarn, nil
	case "enforce":
		return core.PrivacyEnforce, nil
	}
	return "", &core.ValidationError{Msg: fmt.Sprintf("unknown privacy mode %q", c.Privacy.Mode)}
}

// PrivacyLevels returns the configured level map as the engine's types.
func (c *Config) PrivacyLevels() (map[core.SourceID]core.PrivacyLevel, error) {
	levels := make(map[core.SourceID]core.PrivacyLevel, len(c.Privacy.Levels))
	for sid, name := range c.Privacy.Levels {
		level, err := core.ParsePrivacyLevel(name)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", sid, err)
		}
		levels[core.SourceID(sid)] = level
	}
	return levels, nil
}
