package engine

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/google/uuid"

	"github.com/quarrylabs/quarry/internal/extsort"
	"github.com/quarrylabs/quarry/pkg/core"
	"github.com/quarrylabs/quarry/pkg/scalar"
)

// applySteps runs a step list locally against a materialized table, in
// declared order. Errors propagate from the offending step with no partial
// result.
func (e *Engine) applySteps(ctx context.Context, table *core.DataTable, steps []core.Step, q *core.Query, queries map[string]*core.Query, visiting map[string]bool) (*core.DataTable, error) {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("query %s canceled: %w", q.ID, err)
		}
		var err error
		table, err = e.applyStep(ctx, table, step, q, queries, visiting)
		if err != nil {
			return nil, fmt.Errorf("query %s step %s: %w", q.ID, step.ID, err)
		}
	}
	return table, nil
}

func (e *Engine) applyStep(ctx context.Context, table *core.DataTable, step core.Step, q *core.Query, queries map[string]*core.Query, visiting map[string]bool) (*core.DataTable, error) {
	switch op := step.Op.(type) {
	case core.FilterRows:
		return e.filterRows(ctx, table, op.Predicate)
	case core.SelectColumns:
		return selectColumns(table, op.Columns)
	case core.RemoveColumns:
		return removeColumns(table, op.Columns)
	case core.RenameColumns:
		return renameColumns(table, op.Renames)
	case core.AddColumn:
		return addColumn(table, op)
	case core.Sort:
		return e.sortTable(ctx, table, op.Keys, q.ID, step.ID)
	case core.FillDown:
		return fillDown(table, op.Columns)
	case core.Limit:
		return limitRows(table, op.Count), nil
	case core.Merge:
		return e.mergeStep(ctx, table, op, q, queries, visiting)
	case core.Append:
		return e.appendStep(ctx, table, op, q, queries, visiting)
	}
	return nil, &core.ValidationError{Msg: fmt.Sprintf("unknown operation type %T", step.Op)}
}

// filterRows keeps the rows matching the predicate. Comparisons involving a
// null cell are false, except the explicit null tests eq/ne-null, matching
// the SQL the folding compiler emits for the same predicate.
func (e *Engine) filterRows(ctx context.Context, table *core.DataTable, pred core.Predicate) (*core.DataTable, error) {
	out := &core.DataTable{Columns: slices.Clone(table.Columns)}
	for i, row := range table.Rows {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		keep, err := e.evalPredicate(pred, row, table)
		if err != nil {
			return nil, err
		}
		if keep {
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

func (e *Engine) evalPredicate(pred core.Predicate, row core.Row, table *core.DataTable) (bool, error) {
	switch p := pred.(type) {
	case core.Compare:
		idx := table.ColumnIndex(p.Column)
		if idx < 0 {
			return false, &core.ValidationError{Msg: fmt.Sprintf("filter references unknown column %q", p.Column)}
		}
		return e.evalCompare(p, row[idx]), nil
	case core.And:
		left, err := e.evalPredicate(p.Left, row, table)
		if err != nil || !left {
			return false, err
		}
		return e.evalPredicate(p.Right, row, table)
	case core.Or:
		left, err := e.evalPredicate(p.Left, row, table)
		if err != nil || left {
			return left, err
		}
		return e.evalPredicate(p.Right, row, table)
	}
	return false, &core.ValidationError{Msg: fmt.Sprintf("unknown predicate type %T", pred)}
}

func (e *Engine) evalCompare(p core.Compare, cell any) bool {
	if scalar.IsNull(p.Value) {
		switch p.Op {
		case core.OpEq:
			return scalar.IsNull(cell)
		case core.OpNe:
			return !scalar.IsNull(cell)
		}
		return false
	}
	if scalar.IsNull(cell) {
		return false
	}
	c := e.comparator.CompareNonNull(cell, p.Value)
	switch p.Op {
	case core.OpEq:
		return c == 0
	case core.OpNe:
		return c != 0
	case core.OpLt:
		return c < 0
	case core.OpLe:
		return c <= 0
	case core.OpGt:
		return c > 0
	case core.OpGe:
		return c >= 0
	}
	return false
}

func selectColumns(table *core.DataTable, columns []string) (*core.DataTable, error) {
	idxs := make([]int, len(columns))
	out := &core.DataTable{Columns: make([]core.Column, len(columns))}
	for i, name := range columns {
		idx := table.ColumnIndex(name)
		if idx < 0 {
			return nil, &core.ValidationError{Msg: fmt.Sprintf("selectColumns references unknown column %q", name)}
		}
		idxs[i] = idx
		out.Columns[i] = table.Columns[idx]
	}
	for _, row := range table.Rows {
		projected := make(core.Row, len(idxs))
		for i, idx := range idxs {
			projected[i] = row[idx]
		}
		out.Rows = append(out.Rows, projected)
	}
	return out, nil
}

func removeColumns(table *core.DataTable, columns []string) (*core.DataTable, error) {
	drop := make(map[string]bool, len(columns))
	for _, name := range columns {
		if table.ColumnIndex(name) < 0 {
			return nil, &core.ValidationError{Msg: fmt.Sprintf("removeColumns references unknown column %q", name)}
		}
		drop[name] = true
	}
	var keep []string
	for _, c := range table.Columns {
		if !drop[c.Name] {
			keep = append(keep, c.Name)
		}
	}
	if len(keep) == 0 {
		return nil, &core.ValidationError{Msg: "removeColumns would drop every column"}
	}
	return selectColumns(table, keep)
}

func renameColumns(table *core.DataTable, renames map[string]string) (*core.DataTable, error) {
	out := table.Clone()
	for old, next := range renames {
		idx := out.ColumnIndex(old)
		if idx < 0 {
			return nil, &core.ValidationError{Msg: fmt.Sprintf("renameColumns references unknown column %q", old)}
		}
		out.Columns[idx].Name = next
	}
	return out, nil
}

func addColumn(table *core.DataTable, op core.AddColumn) (*core.DataTable, error) {
	if table.ColumnIndex(op.Name) >= 0 {
		return nil, &core.ValidationError{Msg: fmt.Sprintf("addColumn: column %q already exists", op.Name)}
	}
	from := -1
	kind := scalar.KindOf(op.Value)
	if op.FromColumn != "" {
		from = table.ColumnIndex(op.FromColumn)
		if from < 0 {
			return nil, &core.ValidationError{Msg: fmt.Sprintf("addColumn references unknown column %q", op.FromColumn)}
		}
		kind = table.Columns[from].Type
	}

	out := &core.DataTable{Columns: append(slices.Clone(table.Columns), core.Column{Name: op.Name, Type: kind})}
	for _, row := range table.Rows {
		cell := op.Value
		if from >= 0 {
			cell = row[from]
		}
		out.Rows = append(out.Rows, append(slices.Clone(row), cell))
	}
	return out, nil
}

// limitRows keeps the first count rows. Unlike the execute-time limit option,
// where zero means unlimited, a limit step's count of zero keeps zero rows,
// matching the LIMIT 0 the folding compiler emits for the same step.
func limitRows(table *core.DataTable, count int) *core.DataTable {
	if count < 0 {
		count = 0
	}
	if count < len(table.Rows) {
		table.Rows = table.Rows[:count]
	}
	return table
}

func fillDown(table *core.DataTable, columns []string) (*core.DataTable, error) {
	idxs := make([]int, len(columns))
	for i, name := range columns {
		idx := table.ColumnIndex(name)
		if idx < 0 {
			return nil, &core.ValidationError{Msg: fmt.Sprintf("fillDown references unknown column %q", name)}
		}
		idxs[i] = idx
	}
	out := table.Clone()
	last := make([]any, len(idxs))
	for _, row := range out.Rows {
		for i, idx := range idxs {
			if scalar.IsNull(row[idx]) {
				row[idx] = last[i]
			} else {
				last[i] = row[idx]
			}
		}
	}
	return out, nil
}

// sortTable orders the rows by the given keys. Inputs within the in-memory
// bound sort in place; larger inputs route through the external sort engine
// with a unique run-key prefix so concurrent sorts never collide in the
// spill store.
func (e *Engine) sortTable(ctx context.Context, table *core.DataTable, keys []core.SortKey, queryID, stepID string) (*core.DataTable, error) {
	type keyIdx struct {
		idx  int
		opts scalar.SortOpts
	}
	kis := make([]keyIdx, len(keys))
	for i, k := range keys {
		idx := table.ColumnIndex(k.Column)
		if idx < 0 {
			return nil, &core.ValidationError{Msg: fmt.Sprintf("sort references unknown column %q", k.Column)}
		}
		kis[i] = keyIdx{idx: idx, opts: scalar.SortOpts{Direction: k.Direction, Nulls: k.Nulls}}
	}
	cmp := func(a, b core.Row) int {
		for _, ki := range kis {
			if c := e.comparator.Compare(a[ki.idx], b[ki.idx], ki.opts); c != 0 {
				return c
			}
		}
		return 0
	}

	if len(table.Rows) <= e.cfg.MaxInMemoryRows {
		out := table.Clone()
		sort.SliceStable(out.Rows, func(i, j int) bool { return cmp(out.Rows[i], out.Rows[j]) < 0 })
		return out, nil
	}

	prefix := fmt.Sprintf("%s:%s:%s", queryID, stepID, uuid.NewString())
	cur, err := extsort.SortBatches(ctx, extsort.SliceBatches(table.Rows, e.cfg.BatchSize), cmp, extsort.Options{
		Store:            e.cfg.Spill,
		RunKeyPrefix:     prefix,
		BatchSize:        e.cfg.BatchSize,
		MaxInMemoryRows:  e.cfg.MaxInMemoryRows,
		MaxInMemoryBytes: e.cfg.MaxInMemoryBytes,
		Columns:          len(table.Columns),
		OnSpill:          func(ev core.SpillEvent) { e.cfg.Progress.Emit(ev) },
		Logger:           e.logger,
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := &core.DataTable{Columns: slices.Clone(table.Columns), Rows: make([]core.Row, 0, len(table.Rows))}
	for {
		batch, ok, err := cur.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out.Rows = append(out.Rows, batch...)
	}
}

// mergeStep resolves the right-hand query and joins it in memory, gated by
// the combine-phase firewall check immediately before the join runs.
func (e *Engine) mergeStep(ctx context.Context, table *core.DataTable, op core.Merge, q *core.Query, queries map[string]*core.Query, visiting map[string]bool) (*core.DataTable, error) {
	sibling, ok := queries[op.RightQueryID]
	if !ok {
		return nil, &core.ValidationError{Msg: fmt.Sprintf("merge references unknown query %q", op.RightQueryID)}
	}
	right, err := e.resolve(ctx, sibling, queries, core.ExecOptions{}, visiting)
	if err != nil {
		return nil, err
	}
	if err := e.checkCombine("merge", q, sibling); err != nil {
		return nil, err
	}
	return e.joinTables(table, right, op)
}

// appendStep resolves each appended query and concatenates it below the
// current table, with a combine check per appended source.
func (e *Engine) appendStep(ctx context.Context, table *core.DataTable, op core.Append, q *core.Query, queries map[string]*core.Query, visiting map[string]bool) (*core.DataTable, error) {
	out := table.Clone()
	for _, id := range op.QueryIDs {
		sibling, ok := queries[id]
		if !ok {
			return nil, &core.ValidationError{Msg: fmt.Sprintf("append references unknown query %q", id)}
		}
		other, err := e.resolve(ctx, sibling, queries, core.ExecOptions{}, visiting)
		if err != nil {
			return nil, err
		}
		if err := e.checkCombine("append", q, sibling); err != nil {
			return nil, err
		}
		out, err = appendTables(out, other)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// checkCombine runs the combine-phase firewall check for an in-memory
// combination of two queries' sources. A source with no declared level is
// treated as private, the most restrictive reading, so enforce mode fails
// closed rather than silently combining unclassified data.
func (e *Engine) checkCombine(operation string, left, right *core.Query) error {
	if e.cfg.Mode == core.PrivacyIgnore {
		return nil
	}
	refs := make([]core.SourceRef, 0, 2)
	for _, q := range []*core.Query{left, right} {
		connector, err := e.connectorFor(q.Source)
		if err != nil {
			return err
		}
		sid, err := core.DeriveSourceID(q.Source, connector)
		if err != nil {
			return err
		}
		level, declared := e.cfg.Levels[sid]
		if !declared {
			level = core.Private
		}
		refs = append(refs, core.SourceRef{SourceID: sid, Level: level})
	}
	return e.firewall.Evaluate(core.PhaseCombine, operation, refs, e.cfg.Mode).Err()
}

// joinTables hash-joins two tables on one key per side. The output schema is
// the left columns followed by the right columns; key equality follows the
// comparator's canonical forms, and null keys never match.
func (e *Engine) joinTables(left, right *core.DataTable, op core.Merge) (*core.DataTable, error) {
	li := left.ColumnIndex(op.LeftKey)
	if li < 0 {
		return nil, &core.ValidationError{Msg: fmt.Sprintf("merge references unknown left column %q", op.LeftKey)}
	}
	ri := right.ColumnIndex(op.RightKey)
	if ri < 0 {
		return nil, &core.ValidationError{Msg: fmt.Sprintf("merge references unknown right column %q", op.RightKey)}
	}

	out := &core.DataTable{Columns: append(slices.Clone(left.Columns), right.Columns...)}

	index := make(map[string][]int)
	for i, row := range right.Rows {
		if scalar.IsNull(row[ri]) {
			continue
		}
		key := scalar.CanonicalString(row[ri])
		index[key] = append(index[key], i)
	}

	// Matched pairs are identical across join types; the types differ only in
	// which unmatched side survives with null padding.
	matched := make([]bool, len(right.Rows))
	for _, lrow := range left.Rows {
		var matches []int
		if !scalar.IsNull(lrow[li]) {
			matches = index[scalar.CanonicalString(lrow[li])]
		}
		if len(matches) == 0 {
			if op.JoinType == core.JoinLeft || op.JoinType == core.JoinFull {
				out.Rows = append(out.Rows, paddedJoinRow(lrow, nil, len(left.Columns), len(right.Columns)))
			}
			continue
		}
		for _, rIdx := range matches {
			matched[rIdx] = true
			out.Rows = append(out.Rows, paddedJoinRow(lrow, right.Rows[rIdx], len(left.Columns), len(right.Columns)))
		}
	}

	if op.JoinType == core.JoinRight || op.JoinType == core.JoinFull {
		for i, rrow := range right.Rows {
			if !matched[i] {
				out.Rows = append(out.Rows, paddedJoinRow(nil, rrow, len(left.Columns), len(right.Columns)))
			}
		}
	}
	return out, nil
}

func paddedJoinRow(lrow, rrow core.Row, leftWidth, rightWidth int) core.Row {
	row := make(core.Row, 0, leftWidth+rightWidth)
	if lrow == nil {
		row = append(row, make(core.Row, leftWidth)...)
	} else {
		row = append(row, lrow...)
	}
	if rrow == nil {
		row = append(row, make(core.Row, rightWidth)...)
	} else {
		row = append(row, rrow...)
	}
	return row
}

// appendTables concatenates other below base, aligning columns by name.
// Columns unique to other are appended to the schema; absent cells are null.
func appendTables(base, other *core.DataTable) (*core.DataTable, error) {
	out := &core.DataTable{Columns: slices.Clone(base.Columns)}
	for _, c := range other.Columns {
		if base.ColumnIndex(c.Name) < 0 {
			out.Columns = append(out.Columns, c)
		}
	}

	for _, row := range base.Rows {
		if err := out.AppendRow(slices.Clone(row)); err != nil {
			return nil, err
		}
	}

	mapping := make([]int, len(out.Columns))
	for i, c := range out.Columns {
		mapping[i] = other.ColumnIndex(c.Name)
	}
	for _, row := range other.Rows {
		aligned := make(core.Row, len(out.Columns))
		for i, src := range mapping {
			if src >= 0 {
				aligned[i] = row[src]
			}
		}
		if err := out.AppendRow(aligned); err != nil {
			return nil, err
		}
	}
	return out, nil
}
