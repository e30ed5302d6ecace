// Package extsort implements the bounded-memory external sort engine: rows
// are buffered until a row-count or byte-size threshold is crossed, sorted
// buffers spill to the SpillStore as runs, and the runs are merged back with
// a k-way heap merge. Resident memory stays bounded by the buffer thresholds
// plus one open iterator per run, independent of total input size.
package extsort

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/quarrylabs/quarry/pkg/core"
)

const (
	defaultBatchSize       = 1024
	defaultMaxInMemoryRows = 100000
)

// RowComparator compares two rows; it is injected by the caller, typically
// built from the scalar comparator and the sort keys.
type RowComparator func(a, b core.Row) int

// BatchIterator feeds input rows to the sort in batches.
type BatchIterator interface {
	// Next returns the next input batch. The second result is false when the
	// input is exhausted.
	Next(ctx context.Context) ([]core.Row, bool, error)
}

// sliceBatches adapts an in-memory row slice to a BatchIterator.
type sliceBatches struct {
	rows      []core.Row
	batchSize int
	pos       int
}

// SliceBatches returns a BatchIterator over an in-memory row slice.
func SliceBatches(rows []core.Row, batchSize int) BatchIterator {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &sliceBatches{rows: rows, batchSize: batchSize}
}

func (s *sliceBatches) Next(_ context.Context) ([]core.Row, bool, error) {
	if s.pos >= len(s.rows) {
		return nil, false, nil
	}
	end := min(s.pos+s.batchSize, len(s.rows))
	batch := s.rows[s.pos:end]
	s.pos = end
	return batch, true, nil
}

// Options configure one external sort.
type Options struct {
	// Store persists spill runs. Required.
	Store core.SpillStore
	// RunKeyPrefix namespaces this sort's runs. Sharing a store across
	// concurrent sorts requires disjoint prefixes.
	RunKeyPrefix string
	// BatchSize is the chunk size for run writes and output batches.
	BatchSize int
	// MaxInMemoryRows caps the buffered row count before spilling.
	MaxInMemoryRows int
	// MaxInMemoryBytes optionally caps the estimated buffered byte size.
	MaxInMemoryBytes int64
	// Columns is the row width; shorter input rows are padded with nulls.
	Columns int
	// OnSpill is called after each run flush with the current run count.
	OnSpill func(core.SpillEvent)
	// Logger receives debug output. Nil discards.
	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.MaxInMemoryRows <= 0 {
		o.MaxInMemoryRows = defaultMaxInMemoryRows
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
}

// SortBatches sorts an arbitrarily large row stream and returns a cursor
// over the sorted batches. The cursor is single-pass and cancelable, not
// restartable. Callers must Close the cursor; spill runs are deleted on
// every exit path, including errors and cancellation, and cleanup failures
// are swallowed so they never mask the sort's real outcome.
//
// Fast path: if no buffer threshold is ever crossed the whole input is
// sorted in memory and the store is never touched.
func SortBatches(ctx context.Context, input BatchIterator, cmp RowComparator, opts Options) (*Cursor, error) {
	opts.applyDefaults()
	if opts.Store == nil {
		return nil, &core.ValidationError{Msg: "external sort requires a spill store"}
	}
	if cmp == nil {
		return nil, &core.ValidationError{Msg: "external sort requires a comparator"}
	}

	s := &sortState{opts: opts, cmp: cmp}
	if err := s.buffer(ctx, input); err != nil {
		s.cleanup(ctx)
		return nil, err
	}

	if len(s.runKeys) == 0 {
		// Fast path: everything fit in memory.
		sort.SliceStable(s.buf, func(i, j int) bool { return cmp(s.buf[i], s.buf[j]) < 0 })
		return &Cursor{opts: opts, memory: s.buf}, nil
	}

	if err := s.flushRun(ctx); err != nil {
		s.cleanup(ctx)
		return nil, err
	}

	cur := &Cursor{opts: opts, cmp: cmp, runKeys: s.runKeys}
	if err := cur.openMerge(ctx); err != nil {
		cur.Close(ctx)
		return nil, err
	}
	return cur, nil
}

// sortState tracks the buffering phase.
type sortState struct {
	opts     Options
	cmp      RowComparator
	buf      []core.Row
	bufBytes int64
	runKeys  []string
}

// buffer consumes the input, spilling the buffer whenever a threshold is
// crossed. Cancellation is checked at batch boundaries and per buffered row.
func (s *sortState) buffer(ctx context.Context, input BatchIterator) error {
	for {
		if err := checkCancel(ctx); err != nil {
			return err
		}
		batch, ok, err := input.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		for _, row := range batch {
			if err := checkCancel(ctx); err != nil {
				return err
			}
			row = normalizeRow(row, s.opts.Columns)
			s.buf = append(s.buf, row)
			s.bufBytes += estimateRowBytes(row)
			if s.thresholdCrossed() {
				if err := s.flushRun(ctx); err != nil {
					return err
				}
			}
		}
	}
}

func (s *sortState) thresholdCrossed() bool {
	if len(s.buf) >= s.opts.MaxInMemoryRows {
		return true
	}
	return s.opts.MaxInMemoryBytes > 0 && s.bufBytes >= s.opts.MaxInMemoryBytes
}

// flushRun sorts the buffer in place and writes it as one new spill run in
// BatchSize chunks.
func (s *sortState) flushRun(ctx context.Context) error {
	if len(s.buf) == 0 {
		return nil
	}
	sort.SliceStable(s.buf, func(i, j int) bool { return s.cmp(s.buf[i], s.buf[j]) < 0 })

	key := runKey(s.opts.RunKeyPrefix, len(s.runKeys))
	for start := 0; start < len(s.buf); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(s.buf))
		if err := s.opts.Store.PutBatch(ctx, key, s.buf[start:end]); err != nil {
			return fmt.Errorf("writing spill run %s: %w", key, err)
		}
	}
	s.runKeys = append(s.runKeys, key)
	s.buf = nil
	s.bufBytes = 0

	s.opts.Logger.Debug("spilled sort run", "run_key", key, "run_count", len(s.runKeys))
	if s.opts.OnSpill != nil {
		s.opts.OnSpill(core.SpillEvent{RunCount: len(s.runKeys)})
	}
	return nil
}

func (s *sortState) cleanup(ctx context.Context) {
	cleanupRuns(ctx, s.opts, s.runKeys, nil)
}

// Cursor yields the sorted batches. Exactly one of memory/merge mode is
// active.
type Cursor struct {
	opts Options

	// Fast path.
	memory []core.Row
	pos    int

	// Merge path.
	cmp     RowComparator
	runKeys []string
	iters   []core.RowIterator
	heap    *mergeHeap

	done bool
}

// openMerge opens one iterator per run and primes the heap with each run's
// head row.
func (c *Cursor) openMerge(ctx context.Context) error {
	c.heap = newMergeHeap(c.cmp)
	for i, key := range c.runKeys {
		if err := checkCancel(ctx); err != nil {
			return err
		}
		it, err := c.opts.Store.IterateRows(ctx, key)
		if err != nil {
			return fmt.Errorf("opening spill run %s: %w", key, err)
		}
		c.iters = append(c.iters, it)
		row, ok, err := it.Next(ctx)
		if err != nil {
			return fmt.Errorf("reading spill run %s: %w", key, err)
		}
		if ok {
			c.heap.push(heapItem{row: row, run: i})
		}
	}
	return nil
}

// Next returns the next sorted batch. The second result is false after the
// final batch; the cursor cleans up its runs automatically on exhaustion,
// and Close remains safe to call.
func (c *Cursor) Next(ctx context.Context) ([]core.Row, bool, error) {
	if c.done {
		return nil, false, nil
	}
	if c.heap == nil {
		return c.nextMemory()
	}
	return c.nextMerge(ctx)
}

func (c *Cursor) nextMemory() ([]core.Row, bool, error) {
	if c.pos >= len(c.memory) {
		c.done = true
		return nil, false, nil
	}
	end := min(c.pos+c.opts.BatchSize, len(c.memory))
	batch := c.memory[c.pos:end]
	c.pos = end
	return batch, true, nil
}

func (c *Cursor) nextMerge(ctx context.Context) ([]core.Row, bool, error) {
	batch := make([]core.Row, 0, c.opts.BatchSize)
	for c.heap.len() > 0 && len(batch) < c.opts.BatchSize {
		if err := checkCancel(ctx); err != nil {
			c.Close(ctx)
			return nil, false, err
		}
		item := c.heap.pop()
		batch = append(batch, item.row)

		if err := checkCancel(ctx); err != nil {
			c.Close(ctx)
			return nil, false, err
		}
		row, ok, err := c.iters[item.run].Next(ctx)
		if err != nil {
			c.Close(ctx)
			return nil, false, fmt.Errorf("reading spill run %s: %w", c.runKeys[item.run], err)
		}
		if ok {
			c.heap.push(heapItem{row: row, run: item.run})
		}
	}
	if c.heap.len() == 0 {
		c.Close(ctx)
	}
	if len(batch) == 0 {
		return nil, false, nil
	}
	return batch, true, nil
}

// Close releases iterators and deletes every created spill run. It is
// idempotent and safe on every exit path; failures are logged and swallowed.
func (c *Cursor) Close(ctx context.Context) {
	if c.done {
		return
	}
	c.done = true
	cleanupRuns(ctx, c.opts, c.runKeys, c.iters)
}

// cleanupRuns deletes spill state unconditionally: each created run key is
// cleared, then the run-key prefix is cleared as a catch-all. A canceled
// context must not abort cleanup, so store calls run detached from it.
func cleanupRuns(ctx context.Context, opts Options, runKeys []string, iters []core.RowIterator) {
	for _, it := range iters {
		if err := it.Close(); err != nil {
			opts.Logger.Debug("closing spill iterator failed", "error", err)
		}
	}
	if len(runKeys) == 0 {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	for _, key := range runKeys {
		if err := opts.Store.Clear(cleanupCtx, key); err != nil {
			opts.Logger.Debug("clearing spill run failed", "run_key", key, "error", err)
		}
	}
	if err := opts.Store.ClearPrefix(cleanupCtx, opts.RunKeyPrefix); err != nil {
		opts.Logger.Debug("clearing spill prefix failed", "prefix", opts.RunKeyPrefix, "error", err)
	}
}

func runKey(prefix string, n int) string {
	return fmt.Sprintf("%s:run:%d", prefix, n)
}

func checkCancel(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("external sort canceled: %w", err)
	}
	return nil
}

// normalizeRow pads a short row with nulls up to the table width.
func normalizeRow(row core.Row, columns int) core.Row {
	if columns <= 0 || len(row) >= columns {
		return row
	}
	padded := make(core.Row, columns)
	copy(padded, row)
	return padded
}

// estimateRowBytes gives a rough resident-size estimate for threshold
// accounting. Exactness is not required; the bound only needs to be
// proportional.
func estimateRowBytes(row core.Row) int64 {
	size := int64(24) // slice header
	for _, v := range row {
		size += 16 // interface header
		switch tv := v.(type) {
		case string:
			size += int64(len(tv))
		case []byte:
			size += int64(len(tv))
		}
	}
	return size
}
