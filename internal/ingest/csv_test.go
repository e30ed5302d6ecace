package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/pkg/scalar"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCSVReadTypedColumns(t *testing.T) {
	path := writeCSV(t, "name,qty,active,when\nwidget,3,true,2024-01-02\ngadget,1.5,false,2024-02-03\n")

	table, err := NewCSVReader(nil).Read(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "qty", "active", "when"}, table.ColumnNames())
	assert.Equal(t, scalar.Text, table.Columns[0].Type)
	assert.Equal(t, scalar.Number, table.Columns[1].Type)
	assert.Equal(t, scalar.Boolean, table.Columns[2].Type)
	assert.Equal(t, scalar.DateTime, table.Columns[3].Type)

	require.Len(t, table.Rows, 2)
	assert.Equal(t, "widget", table.Rows[0][0])
	assert.Equal(t, 3.0, table.Rows[0][1])
	assert.Equal(t, true, table.Rows[0][2])
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), table.Rows[0][3])
	assert.Equal(t, 1.5, table.Rows[1][1])
}

func TestCSVReadNullsAndRaggedRows(t *testing.T) {
	path := writeCSV(t, "a,b\n1,\n,2\n3\n")

	table, err := NewCSVReader(nil).Read(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, table.Rows, 3)
	assert.Equal(t, 1.0, table.Rows[0][0])
	assert.Nil(t, table.Rows[0][1])
	assert.Nil(t, table.Rows[1][0])
	assert.Equal(t, 2.0, table.Rows[1][1])
	// Short record: the missing trailing cell reads as null.
	assert.Equal(t, 3.0, table.Rows[2][0])
	assert.Nil(t, table.Rows[2][1])
}

func TestCSVReadMixedColumnFallsBackToText(t *testing.T) {
	path := writeCSV(t, "v\n10\nten\n")

	table, err := NewCSVReader(nil).Read(context.Background(), path)
	require.NoError(t, err)

	// Conflicting samples leave the column untyped; each cell keeps its own
	// best parse.
	assert.Equal(t, scalar.Any, table.Columns[0].Type)
	assert.Equal(t, 10.0, table.Rows[0][0])
	assert.Equal(t, "ten", table.Rows[1][0])
}

func TestCSVReadCustomDelimiter(t *testing.T) {
	path := writeCSV(t, "a;b\n1;2\n")

	r := NewCSVReader(nil)
	r.Comma = ';'
	table, err := r.Read(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, table.ColumnNames())
	assert.Equal(t, 2.0, table.Rows[0][1])
}

func TestCSVReadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := NewCSVReader(nil).Read(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
		assert.Error(t, err)
	})

	t.Run("empty file", func(t *testing.T) {
		_, err := NewCSVReader(nil).Read(context.Background(), writeCSV(t, ""))
		assert.ErrorContains(t, err, "empty")
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewCSVReader(nil).Read(ctx, writeCSV(t, "a\n1\n"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}
