package core

import (
	"fmt"
	"slices"

	"github.com/quarrylabs/quarry/pkg/scalar"
)

// Row is one row of cell values, positionally aligned with a table's columns.
type Row = []any

// Column describes one column of a DataTable.
type Column struct {
	Name string      `json:"name" yaml:"name"`
	Type scalar.Kind `json:"type" yaml:"type"`
}

// DataTable is an in-memory result table in row-major layout.
// Invariant: every row has exactly len(Columns) cells.
type DataTable struct {
	Columns []Column `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// NewDataTable creates an empty table with the given column names, all typed
// Any until inference or adapter metadata refines them.
func NewDataTable(names ...string) *DataTable {
	cols := make([]Column, len(names))
	for i, n := range names {
		cols[i] = Column{Name: n, Type: scalar.Any}
	}
	return &DataTable{Columns: cols}
}

// ColumnIndex returns the position of a named column, or -1.
func (t *DataTable) ColumnIndex(name string) int {
	return slices.IndexFunc(t.Columns, func(c Column) bool { return c.Name == name })
}

// ColumnNames returns the column names in declared order.
func (t *DataTable) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// AppendRow adds a row, padding or rejecting rows of the wrong width.
// Rows shorter than the column list are padded with nulls; longer rows are an
// error since silently dropping cells would corrupt positional alignment.
func (t *DataTable) AppendRow(row Row) error {
	if len(row) > len(t.Columns) {
		return &ValidationError{Msg: fmt.Sprintf("row has %d cells, table has %d columns", len(row), len(t.Columns))}
	}
	for len(row) < len(t.Columns) {
		row = append(row, nil)
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// InferColumnTypes re-derives each column's kind from its current values.
func (t *DataTable) InferColumnTypes() {
	for i := range t.Columns {
		samples := make([]any, 0, len(t.Rows))
		for _, row := range t.Rows {
			samples = append(samples, row[i])
		}
		t.Columns[i].Type = scalar.InferKind(samples)
	}
}

// Clone returns a deep copy of the table's structure with shallow-copied cell
// values. Cells are treated as immutable throughout the engine.
func (t *DataTable) Clone() *DataTable {
	out := &DataTable{
		Columns: slices.Clone(t.Columns),
		Rows:    make([]Row, len(t.Rows)),
	}
	for i, row := range t.Rows {
		out.Rows[i] = slices.Clone(row)
	}
	return out
}

// Validate checks the row-width invariant.
func (t *DataTable) Validate() error {
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return &ValidationError{Msg: fmt.Sprintf("row %d has %d cells, table has %d columns", i, len(row), len(t.Columns))}
		}
	}
	return nil
}
