package spill

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/quarrylabs/quarry/pkg/core"
)

// MemStore is an in-memory SpillStore used by tests and small pipelines.
type MemStore struct {
	mu   sync.Mutex
	runs map[string][]core.Row
}

// NewMemStore creates an empty in-memory spill store.
func NewMemStore() *MemStore {
	return &MemStore{runs: make(map[string][]core.Row)}
}

// PutBatch appends a chunk of rows to a run.
func (s *MemStore) PutBatch(ctx context.Context, runKey string, rows []core.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[runKey] = append(s.runs[runKey], rows...)
	return nil
}

// IterateRows opens a row iterator over a run.
func (s *MemStore) IterateRows(ctx context.Context, runKey string) (core.RowIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	rows, ok := s.runs[runKey]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown spill run %q", runKey)
	}
	return &memIterator{rows: rows}, nil
}

// Clear deletes one run.
func (s *MemStore) Clear(_ context.Context, runKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runKey)
	return nil
}

// ClearPrefix deletes every run whose key starts with prefix.
func (s *MemStore) ClearPrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.runs {
		if strings.HasPrefix(key, prefix) {
			delete(s.runs, key)
		}
	}
	return nil
}

// Keys returns the run keys currently held, for test assertions.
func (s *MemStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.runs))
	for key := range s.runs {
		keys = append(keys, key)
	}
	return keys
}

type memIterator struct {
	rows []core.Row
	pos  int
}

func (it *memIterator) Next(ctx context.Context) (core.Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if it.pos >= len(it.rows) {
		return nil, false, nil
	}
	row := it.rows[it.pos]
	it.pos++
	return row, true, nil
}

func (it *memIterator) Close() error { return nil }
