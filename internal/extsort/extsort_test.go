package extsort

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/spill"
	"github.com/quarrylabs/quarry/pkg/core"
)

func byFirstCell(a, b core.Row) int {
	av, bv := a[0].(int), b[0].(int)
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

func rowsOf(values ...int) []core.Row {
	rows := make([]core.Row, len(values))
	for i, v := range values {
		rows[i] = core.Row{v}
	}
	return rows
}

func drain(t *testing.T, ctx context.Context, cur *Cursor) []core.Row {
	t.Helper()
	var out []core.Row
	for {
		batch, ok, err := cur.Next(ctx)
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, batch...)
	}
}

// failStore fails every operation, proving a code path never touches it.
type failStore struct{}

func (failStore) PutBatch(context.Context, string, []core.Row) error {
	return errors.New("store touched")
}

func (failStore) IterateRows(context.Context, string) (core.RowIterator, error) {
	return nil, errors.New("store touched")
}

func (failStore) Clear(context.Context, string) error       { return errors.New("store touched") }
func (failStore) ClearPrefix(context.Context, string) error { return errors.New("store touched") }

func TestSortBatchesFastPath(t *testing.T) {
	ctx := context.Background()
	input := SliceBatches(rowsOf(3, 1, 2), 2)

	cur, err := SortBatches(ctx, input, byFirstCell, Options{
		Store:           failStore{},
		RunKeyPrefix:    "q:s",
		MaxInMemoryRows: 100,
	})
	require.NoError(t, err)
	defer cur.Close(ctx)

	assert.Equal(t, rowsOf(1, 2, 3), drain(t, ctx, cur))
}

func TestSortBatchesSpillsAndMerges(t *testing.T) {
	ctx := context.Background()
	store := spill.NewMemStore()
	input := SliceBatches(rowsOf(9, 3, 7, 1, 8, 2, 6, 4, 5, 0), 3)

	var spills []int
	cur, err := SortBatches(ctx, input, byFirstCell, Options{
		Store:           store,
		RunKeyPrefix:    "q:s",
		MaxInMemoryRows: 3,
		BatchSize:       4,
		OnSpill:         func(e core.SpillEvent) { spills = append(spills, e.RunCount) },
	})
	require.NoError(t, err)

	assert.Equal(t, rowsOf(0, 1, 2, 3, 4, 5, 6, 7, 8, 9), drain(t, ctx, cur))

	// Three threshold spills plus the final partial-buffer flush.
	assert.Equal(t, []int{1, 2, 3, 4}, spills)

	// Runs are deleted once the cursor is exhausted.
	assert.Empty(t, store.Keys())
}

func TestSortBatchesStableAcrossRuns(t *testing.T) {
	ctx := context.Background()
	store := spill.NewMemStore()

	// All keys equal; the second cell tags input order. The comparator only
	// sees the key, so output order must match input order even though the
	// rows land in different runs.
	rows := []core.Row{{1, "a"}, {1, "b"}, {1, "c"}, {1, "d"}, {1, "e"}}
	input := SliceBatches(rows, 2)

	cur, err := SortBatches(ctx, input, byFirstCell, Options{
		Store:           store,
		RunKeyPrefix:    "q:s",
		MaxInMemoryRows: 2,
	})
	require.NoError(t, err)

	got := drain(t, ctx, cur)
	require.Len(t, got, 5)
	for i, want := range []string{"a", "b", "c", "d", "e"} {
		assert.Equal(t, want, got[i][1])
	}
}

func TestSortBatchesByteThreshold(t *testing.T) {
	ctx := context.Background()
	store := spill.NewMemStore()
	rows := []core.Row{{2, "xxxxxxxxxxxxxxxx"}, {1, "yyyyyyyyyyyyyyyy"}}

	cur, err := SortBatches(ctx, SliceBatches(rows, 1), byFirstCell, Options{
		Store:            store,
		RunKeyPrefix:     "q:s",
		MaxInMemoryRows:  1000,
		MaxInMemoryBytes: 1,
	})
	require.NoError(t, err)

	got := drain(t, ctx, cur)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0][0])
	assert.Empty(t, store.Keys())
}

func TestSortBatchesCancellation(t *testing.T) {
	t.Run("canceled before the sort starts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := SortBatches(ctx, SliceBatches(rowsOf(1), 1), byFirstCell, Options{
			Store:        spill.NewMemStore(),
			RunKeyPrefix: "q:s",
		})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("canceled mid drain cleans up runs", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		store := spill.NewMemStore()

		cur, err := SortBatches(ctx, SliceBatches(rowsOf(4, 3, 2, 1), 1), byFirstCell, Options{
			Store:           store,
			RunKeyPrefix:    "q:s",
			MaxInMemoryRows: 2,
			BatchSize:       1,
		})
		require.NoError(t, err)
		require.NotEmpty(t, store.Keys())

		_, ok, err := cur.Next(ctx)
		require.NoError(t, err)
		require.True(t, ok)

		cancel()
		_, _, err = cur.Next(ctx)
		assert.ErrorIs(t, err, context.Canceled)

		// Cleanup runs detached from the canceled context.
		assert.Empty(t, store.Keys())
	})
}

func TestSortBatchesValidation(t *testing.T) {
	ctx := context.Background()

	_, err := SortBatches(ctx, SliceBatches(nil, 1), byFirstCell, Options{})
	var verr *core.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = SortBatches(ctx, SliceBatches(nil, 1), nil, Options{Store: spill.NewMemStore()})
	assert.ErrorAs(t, err, &verr)
}

func TestSortBatchesPadsShortRows(t *testing.T) {
	ctx := context.Background()
	rows := []core.Row{{2}, {1}}

	cur, err := SortBatches(ctx, SliceBatches(rows, 1), byFirstCell, Options{
		Store:        failStore{},
		RunKeyPrefix: "q:s",
		Columns:      3,
	})
	require.NoError(t, err)

	got := drain(t, ctx, cur)
	require.Len(t, got, 2)
	assert.Equal(t, core.Row{1, nil, nil}, got[0])
	assert.Equal(t, core.Row{2, nil, nil}, got[1])
}
