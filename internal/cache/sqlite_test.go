package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/pkg/core"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	table := core.NewDataTable("name", "when")
	require.NoError(t, table.AppendRow(core.Row{"a", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}))
	require.NoError(t, table.AppendRow(core.Row{"b", nil}))
	meta := core.CacheMeta{QueryID: "q1", PrivacyMode: core.PrivacyEnforce}

	require.NoError(t, store.Set(ctx, "k1", table, meta))

	got, ok, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, table.ColumnNames(), got.ColumnNames())
	require.Len(t, got.Rows, 2)
	assert.Equal(t, "a", got.Rows[0][0])
	assert.True(t, got.Rows[0][1].(time.Time).Equal(table.Rows[0][1].(time.Time)))
	assert.Nil(t, got.Rows[1][1])
}

func TestSQLiteStoreReplacesEntries(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	first := core.NewDataTable("v")
	require.NoError(t, first.AppendRow(core.Row{"old"}))
	second := core.NewDataTable("v")
	require.NoError(t, second.AppendRow(core.Row{"new"}))

	meta := core.CacheMeta{QueryID: "q1", PrivacyMode: core.PrivacyWarn}
	require.NoError(t, store.Set(ctx, "k", first, meta))
	require.NoError(t, store.Set(ctx, "k", second, meta))

	got, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Rows, 1)
	assert.Equal(t, "new", got.Rows[0][0])
}
