// Package cache provides CacheManager implementations: a process-local
// in-memory cache and a SQLite-backed persistent cache. Cache keys are
// content addresses over the query definition and the full privacy
// configuration, so a result cached under one privacy context is never
// served under another.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/quarrylabs/quarry/pkg/core"
)

// keyMaterial is the canonical content hashed into a cache key. JSON object
// keys marshal sorted, which makes the level map deterministic.
type keyMaterial struct {
	Query  *core.Query       `json:"query"`
	Mode   core.PrivacyMode  `json:"privacyMode"`
	Levels map[string]string `json:"privacyLevels"`
	Limit  int               `json:"limit"`
}

// ComputeKey derives the cache key for a query under a privacy configuration
// and execution options.
func ComputeKey(query *core.Query, mode core.PrivacyMode, levels map[core.SourceID]core.PrivacyLevel, opts core.ExecOptions) (string, error) {
	material := keyMaterial{
		Query:  query,
		Mode:   mode,
		Levels: make(map[string]string, len(levels)),
		Limit:  opts.Limit,
	}
	for sid, level := range levels {
		material.Levels[string(sid)] = level.String()
	}
	raw, err := json.Marshal(material)
	if err != nil {
		return "", fmt.Errorf("serializing cache key material: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
