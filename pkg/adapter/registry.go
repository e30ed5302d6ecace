package adapter

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Driver)
)

// Register adds a driver to the registry. Called by driver packages in their
// init() functions.
func Register(d Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[d.Name()] = d
}

// Get retrieves a registered driver by name.
func Get(name string) (Driver, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := registry[name]
	return d, ok
}

// NewPoolFor creates a pool for the named driver.
func NewPoolFor(name string, logger *slog.Logger) (*Pool, error) {
	d, ok := Get(name)
	if !ok {
		return nil, &UnknownDriverError{Name: name, Available: List()}
	}
	return NewPool(d, logger), nil
}

// List returns all registered driver names, sorted.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks whether a driver name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}

// UnknownDriverError is returned when an unregistered driver is requested.
type UnknownDriverError struct {
	Name      string
	Available []string
}

func (e *UnknownDriverError) Error() string {
	return fmt.Sprintf("unknown database driver %q, available drivers: %v", e.Name, e.Available)
}
