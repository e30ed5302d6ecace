// Package spill provides SpillStore implementations for the external sort
// engine: a filesystem store that persists runs as gob-encoded row chunks,
// and an in-memory store for tests.
package spill

import (
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/quarrylabs/quarry/pkg/core"
)

func init() {
	// gob cannot encode these cell types inside []any otherwise.
	gob.Register(time.Time{})
	gob.Register(time.Duration(0))
	gob.Register(&apd.Decimal{})
}

// FSStore persists spill runs under a base directory, one subdirectory per
// run, one gob file per written chunk. Runs are ephemeral process-local
// state; the key-to-directory mapping lives in memory.
type FSStore struct {
	mu     sync.Mutex
	dir    string
	keys   map[string]string // run key -> run directory
	chunks map[string]int    // run key -> chunk count
	seq    int
	logger *slog.Logger
}

// NewFSStore creates a filesystem spill store rooted at dir. A nil logger
// discards log output.
func NewFSStore(dir string, logger *slog.Logger) (*FSStore, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating spill directory: %w", err)
	}
	return &FSStore{
		dir:    dir,
		keys:   make(map[string]string),
		chunks: make(map[string]int),
		logger: logger,
	}, nil
}

// PutBatch appends a chunk of rows to a run.
func (s *FSStore) PutBatch(ctx context.Context, runKey string, rows []core.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	runDir, ok := s.keys[runKey]
	if !ok {
		s.seq++
		runDir = filepath.Join(s.dir, fmt.Sprintf("run-%d", s.seq))
		s.keys[runKey] = runDir
	}
	chunk := s.chunks[runKey]
	s.chunks[runKey] = chunk + 1
	s.mu.Unlock()

	if !ok {
		if err := os.MkdirAll(runDir, 0o750); err != nil {
			return fmt.Errorf("creating run directory: %w", err)
		}
	}

	path := filepath.Join(runDir, fmt.Sprintf("chunk_%d.gob", chunk))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating chunk file: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(rows); err != nil {
		_ = f.Close()
		return fmt.Errorf("encoding chunk: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing chunk: %w", err)
	}
	return nil
}

// IterateRows opens a row iterator over a run's chunks in written order.
func (s *FSStore) IterateRows(ctx context.Context, runKey string) (core.RowIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	runDir, ok := s.keys[runKey]
	chunks := s.chunks[runKey]
	s.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("unknown spill run %q", runKey)
	}
	return &fsIterator{dir: runDir, chunks: chunks}, nil
}

// Clear deletes one run.
func (s *FSStore) Clear(_ context.Context, runKey string) error {
	s.mu.Lock()
	runDir, ok := s.keys[runKey]
	delete(s.keys, runKey)
	delete(s.chunks, runKey)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return os.RemoveAll(runDir)
}

// ClearPrefix deletes every run whose key starts with prefix.
func (s *FSStore) ClearPrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	var stale []string
	for key := range s.keys {
		if strings.HasPrefix(key, prefix) {
			stale = append(stale, key)
		}
	}
	s.mu.Unlock()

	for _, key := range stale {
		if err := s.Clear(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Keys returns the run keys currently held, for tests and diagnostics.
func (s *FSStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.keys))
	for key := range s.keys {
		keys = append(keys, key)
	}
	return keys
}

// fsIterator walks a run's chunk files, decoding one chunk at a time so
// resident memory stays bounded by the chunk size.
type fsIterator struct {
	dir    string
	chunks int
	chunk  int
	rows   []core.Row
	pos    int
}

func (it *fsIterator) Next(ctx context.Context) (core.Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	for it.pos >= len(it.rows) {
		if it.chunk >= it.chunks {
			return nil, false, nil
		}
		path := filepath.Join(it.dir, fmt.Sprintf("chunk_%d.gob", it.chunk))
		f, err := os.Open(path)
		if err != nil {
			return nil, false, fmt.Errorf("opening chunk: %w", err)
		}
		var rows []core.Row
		err = gob.NewDecoder(f).Decode(&rows)
		_ = f.Close()
		if err != nil {
			return nil, false, fmt.Errorf("decoding chunk: %w", err)
		}
		it.rows = rows
		it.pos = 0
		it.chunk++
	}
	row := it.rows[it.pos]
	it.pos++
	return row, true, nil
}

func (it *fsIterator) Close() error {
	it.rows = nil
	return nil
}
