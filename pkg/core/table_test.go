package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/pkg/scalar"
)

func TestAppendRowPadsShortRows(t *testing.T) {
	table := NewDataTable("a", "b", "c")

	require.NoError(t, table.AppendRow(Row{1.0}))
	require.Len(t, table.Rows, 1)
	assert.Equal(t, Row{1.0, nil, nil}, table.Rows[0])
	assert.NoError(t, table.Validate())
}

func TestAppendRowRejectsWideRows(t *testing.T) {
	table := NewDataTable("a")

	err := table.AppendRow(Row{1.0, 2.0})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, table.Rows)
}

func TestColumnLookup(t *testing.T) {
	table := NewDataTable("id", "name")
	assert.Equal(t, 1, table.ColumnIndex("name"))
	assert.Equal(t, -1, table.ColumnIndex("missing"))
	assert.Equal(t, []string{"id", "name"}, table.ColumnNames())
}

func TestInferColumnTypes(t *testing.T) {
	table := NewDataTable("n", "s", "mixed")
	require.NoError(t, table.AppendRow(Row{1.0, "x", 1.0}))
	require.NoError(t, table.AppendRow(Row{nil, "y", "two"}))

	table.InferColumnTypes()
	assert.Equal(t, scalar.Number, table.Columns[0].Type)
	assert.Equal(t, scalar.Text, table.Columns[1].Type)
	assert.Equal(t, scalar.Any, table.Columns[2].Type)
}

func TestCloneIsIndependent(t *testing.T) {
	table := NewDataTable("a")
	require.NoError(t, table.AppendRow(Row{"original"}))

	clone := table.Clone()
	clone.Rows[0][0] = "changed"
	clone.Columns[0].Name = "renamed"

	assert.Equal(t, "original", table.Rows[0][0])
	assert.Equal(t, "a", table.Columns[0].Name)
}
