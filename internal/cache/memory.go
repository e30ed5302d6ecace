package cache

import (
	"context"
	"sync"

	"github.com/quarrylabs/quarry/pkg/core"
)

// Memory is a process-local CacheManager.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*core.DataTable
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*core.DataTable)}
}

// ComputeKey derives the content-addressed cache key.
func (m *Memory) ComputeKey(query *core.Query, mode core.PrivacyMode, levels map[core.SourceID]core.PrivacyLevel, opts core.ExecOptions) (string, error) {
	return ComputeKey(query, mode, levels, opts)
}

// Get returns the cached table for a key, if present.
func (m *Memory) Get(_ context.Context, key string) (*core.DataTable, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	table, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	return table.Clone(), true, nil
}

// Set stores a table under a key.
func (m *Memory) Set(_ context.Context, key string, table *core.DataTable, _ core.CacheMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = table.Clone()
	return nil
}

// Len returns the number of cached entries, for tests.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
