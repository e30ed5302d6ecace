package spill

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/pkg/core"
)

func drainIterator(t *testing.T, ctx context.Context, it core.RowIterator) []core.Row {
	t.Helper()
	var out []core.Row
	for {
		row, ok, err := it.Next(ctx)
		require.NoError(t, err)
		if !ok {
			require.NoError(t, it.Close())
			return out
		}
		out = append(out, row)
	}
}

func testStore(t *testing.T, store core.SpillStore) {
	ctx := context.Background()

	t.Run("rows come back in written order across chunks", func(t *testing.T) {
		require.NoError(t, store.PutBatch(ctx, "q:s:run:0", []core.Row{{1, "a"}, {2, "b"}}))
		require.NoError(t, store.PutBatch(ctx, "q:s:run:0", []core.Row{{3, "c"}}))

		it, err := store.IterateRows(ctx, "q:s:run:0")
		require.NoError(t, err)
		rows := drainIterator(t, ctx, it)
		assert.Equal(t, []core.Row{{1, "a"}, {2, "b"}, {3, "c"}}, rows)
	})

	t.Run("unknown run errors", func(t *testing.T) {
		_, err := store.IterateRows(ctx, "nope")
		assert.Error(t, err)
	})

	t.Run("clear removes one run", func(t *testing.T) {
		require.NoError(t, store.PutBatch(ctx, "q:s:run:1", []core.Row{{1}}))
		require.NoError(t, store.Clear(ctx, "q:s:run:1"))
		_, err := store.IterateRows(ctx, "q:s:run:1")
		assert.Error(t, err)

		// Clearing an unknown run is not an error.
		assert.NoError(t, store.Clear(ctx, "q:s:run:1"))
	})

	t.Run("clear prefix removes only matching runs", func(t *testing.T) {
		require.NoError(t, store.PutBatch(ctx, "a:run:0", []core.Row{{1}}))
		require.NoError(t, store.PutBatch(ctx, "b:run:0", []core.Row{{2}}))
		require.NoError(t, store.ClearPrefix(ctx, "a:"))

		_, err := store.IterateRows(ctx, "a:run:0")
		assert.Error(t, err)
		it, err := store.IterateRows(ctx, "b:run:0")
		require.NoError(t, err)
		assert.Len(t, drainIterator(t, ctx, it), 1)
	})
}

func TestMemStore(t *testing.T) {
	testStore(t, NewMemStore())
}

func TestFSStore(t *testing.T) {
	store, err := NewFSStore(t.TempDir(), nil)
	require.NoError(t, err)
	testStore(t, store)
}

func TestFSStoreRoundTripsRichCellTypes(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir(), nil)
	require.NoError(t, err)

	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	dec, _, err := apd.NewFromString("19.99")
	require.NoError(t, err)
	row := core.Row{nil, "text", 3.5, true, ts, 5 * time.Minute, dec}

	require.NoError(t, store.PutBatch(ctx, "k", []core.Row{row}))
	it, err := store.IterateRows(ctx, "k")
	require.NoError(t, err)

	rows := drainIterator(t, ctx, it)
	require.Len(t, rows, 1)
	got := rows[0]
	assert.Nil(t, got[0])
	assert.Equal(t, "text", got[1])
	assert.Equal(t, 3.5, got[2])
	assert.Equal(t, true, got[3])
	assert.True(t, ts.Equal(got[4].(time.Time)))
	assert.Equal(t, 5*time.Minute, got[5])
	gotDec, ok := got[6].(*apd.Decimal)
	require.True(t, ok)
	assert.Zero(t, gotDec.Cmp(dec))
}

func TestFSStoreCanceledContext(t *testing.T) {
	store, err := NewFSStore(t.TempDir(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, store.PutBatch(ctx, "k", []core.Row{{1}}))
	_, err = store.IterateRows(ctx, "k")
	assert.Error(t, err)
}
