// Package fold implements the query folding compiler: it walks a query's
// step list left to right and greedily pushes the longest foldable prefix
// down into one native SQL statement for the source's dialect. The first
// non-foldable step halts folding; steps are never skipped or reordered to
// enable more folding. Multi-source folds (merge, append) are gated by the
// privacy firewall before any joined SQL is emitted.
package fold

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/quarrylabs/quarry/internal/firewall"
	"github.com/quarrylabs/quarry/pkg/core"
	"github.com/quarrylabs/quarry/pkg/dialect"
)

// Engine compiles queries into fold plans. Construct one per query engine
// instance.
type Engine struct {
	logger   *slog.Logger
	firewall *firewall.Firewall
}

// New creates a folding engine. A nil logger discards log output.
func New(logger *slog.Logger, fw *firewall.Firewall) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{logger: logger, firewall: fw}
}

// Context carries the compilation inputs beyond the query itself.
type Context struct {
	// Siblings resolves the queries referenced by merge and append steps.
	Siblings map[string]*core.Query
	// Mode is the privacy mode for firewall checks at the folding phase.
	Mode core.PrivacyMode
	// Levels maps each source to its declared privacy level. Sources with no
	// declared level never participate in a multi-source fold outside ignore
	// mode.
	Levels map[core.SourceID]core.PrivacyLevel
	// Connector derives connection identities for SourceIDs. May be nil.
	Connector core.Connector
}

// Compile produces the fold plan for a query under the given context and
// execution options. The execute-time limit is appended to the SQL only when
// the entire plan folds.
func (e *Engine) Compile(q *core.Query, fctx Context, opts core.ExecOptions) (core.FoldPlan, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if !q.Source.Foldable() {
		return core.LocalPlan{}, nil
	}
	d, ok := dialect.Get(q.Source.Dialect)
	if !ok {
		e.logger.Debug("unknown dialect, not folding", "query", q.ID, "dialect", q.Source.Dialect)
		return core.LocalPlan{}, nil
	}

	visiting := map[string]bool{q.ID: true}
	b, remaining, diags, err := e.compileQuery(q, d, fctx, visiting)
	if err != nil {
		return nil, err
	}

	if len(remaining) == 0 {
		if opts.Limit > 0 {
			b.setLimit(opts.Limit)
		}
		sql, params := b.build()
		e.logger.Debug("query fully folded", "query", q.ID, "params", len(params))
		return core.FoldedPlan{SQL: sql, Params: params}, nil
	}

	sql, params := b.build()
	e.logger.Debug("query partially folded",
		"query", q.ID, "folded_steps", len(q.Steps)-len(remaining), "remaining_steps", len(remaining))
	return core.HybridPlan{SQL: sql, Params: params, Remaining: remaining, Diagnostics: diags}, nil
}

// compileQuery folds the longest foldable step prefix into a builder and
// returns the unfolded suffix plus any firewall diagnostics recorded on the
// way.
func (e *Engine) compileQuery(q *core.Query, d *dialect.Dialect, fctx Context, visiting map[string]bool) (*sqlBuilder, []core.Step, []core.FirewallEvent, error) {
	b := newBuilder(d, q.Source.Query)
	var diags []core.FirewallEvent

	folded := 0
	for _, step := range q.Steps {
		ok, err := e.foldStep(b, step, q, d, fctx, visiting, &diags)
		if err != nil {
			return nil, nil, nil, err
		}
		if !ok {
			break
		}
		folded++
	}
	return b, slices.Clone(q.Steps[folded:]), diags, nil
}

// foldStep attempts to fold one step into the builder. It returns false when
// the step halts folding; errors are validation failures only.
func (e *Engine) foldStep(b *sqlBuilder, step core.Step, q *core.Query, d *dialect.Dialect, fctx Context, visiting map[string]bool, diags *[]core.FirewallEvent) (bool, error) {
	switch op := step.Op.(type) {
	case core.FilterRows:
		// A WHERE clause cannot be pushed past a LIMIT already in place.
		if b.limited() {
			return false, nil
		}
		if !b.coversColumns(predicateColumns(op.Predicate)) {
			return false, nil
		}
		clause, params, ok := compilePredicate(op.Predicate, d)
		if !ok {
			return false, nil
		}
		b.addWhere(clause, params)
		return true, nil

	case core.SelectColumns:
		if b.limited() {
			return false, nil
		}
		if !b.coversColumns(op.Columns) {
			return false, nil
		}
		b.setProjection(op.Columns)
		return true, nil

	case core.RemoveColumns:
		// Removing columns folds only when the surviving projection is
		// already explicit; against an unknown source schema the complement
		// cannot be computed.
		if b.limited() || !b.hasProjection() {
			return false, nil
		}
		if !b.coversColumns(op.Columns) {
			return false, nil
		}
		b.removeFromProjection(op.Columns)
		return true, nil

	case core.Sort:
		if b.limited() || b.ordered() {
			return false, nil
		}
		cols := make([]string, len(op.Keys))
		for i, k := range op.Keys {
			cols[i] = k.Column
		}
		if !b.coversColumns(cols) {
			return false, nil
		}
		b.setOrderBy(op.Keys)
		return true, nil

	case core.Limit:
		b.setLimit(op.Count)
		return true, nil

	case core.Merge:
		return e.foldMerge(b, op, q, d, fctx, visiting, diags)

	case core.Append:
		return e.foldAppend(b, op, q, d, fctx, visiting, diags)

	case core.FillDown, core.RenameColumns, core.AddColumn:
		return false, nil
	}
	return false, &core.ValidationError{Msg: fmt.Sprintf("unknown operation type %T", step.Op)}
}

// foldMerge folds a merge step into a JOIN when the right-hand query is fully
// foldable against the same connection and dialect and the firewall allows
// combining the two sources at the folding phase.
func (e *Engine) foldMerge(b *sqlBuilder, op core.Merge, q *core.Query, d *dialect.Dialect, fctx Context, visiting map[string]bool, diags *[]core.FirewallEvent) (bool, error) {
	right, rightBuilder, err := e.foldableSibling(op.RightQueryID, q, d, fctx, visiting, diags)
	if err != nil {
		return false, err
	}
	if rightBuilder == nil {
		return false, nil
	}
	// Two explicit projections sharing a column name cannot share one joined
	// subquery; some dialects reject the duplicate output columns outright.
	if _, ok := combinedProjection(b.projectionColumns(), rightBuilder.projectionColumns()); !ok {
		return false, nil
	}

	allowed, err := e.checkFoldCombine("merge", []*core.Query{q, right}, fctx, diags)
	if err != nil || !allowed {
		return false, err
	}

	b.mergeJoin(rightBuilder, op.JoinType, op.LeftKey, op.RightKey)
	return true, nil
}

// foldAppend folds an append step into UNION ALL when every appended query is
// fully foldable against the same connection with a schema-compatible
// explicit projection, subject to a firewall check per pair.
func (e *Engine) foldAppend(b *sqlBuilder, op core.Append, q *core.Query, d *dialect.Dialect, fctx Context, visiting map[string]bool, diags *[]core.FirewallEvent) (bool, error) {
	// Schema compatibility is decided on explicit projections; a builder
	// still projecting the source's unknown full schema cannot be verified.
	if !b.hasProjection() {
		return false, nil
	}

	builders := make([]*sqlBuilder, 0, len(op.QueryIDs))
	for _, id := range op.QueryIDs {
		sibling, sb, err := e.foldableSibling(id, q, d, fctx, visiting, diags)
		if err != nil {
			return false, err
		}
		if sb == nil || !sb.hasProjection() || !slices.Equal(b.projectionColumns(), sb.projectionColumns()) {
			return false, nil
		}
		allowed, err := e.checkFoldCombine("append", []*core.Query{q, sibling}, fctx, diags)
		if err != nil || !allowed {
			return false, err
		}
		builders = append(builders, sb)
	}

	b.unionAll(builders)
	return true, nil
}

// foldableSibling resolves and fully folds a referenced query. It returns a
// nil builder when the sibling cannot fully fold against the same connection
// and dialect, which leaves the combining step for local execution.
func (e *Engine) foldableSibling(id string, q *core.Query, d *dialect.Dialect, fctx Context, visiting map[string]bool, diags *[]core.FirewallEvent) (*core.Query, *sqlBuilder, error) {
	sibling, ok := fctx.Siblings[id]
	if !ok {
		return nil, nil, &core.ValidationError{Msg: fmt.Sprintf("query %s references unknown query %q", q.ID, id)}
	}
	if visiting[id] {
		return nil, nil, &core.ValidationError{Msg: fmt.Sprintf("query %s participates in a reference cycle", id)}
	}
	if err := sibling.Validate(); err != nil {
		return nil, nil, err
	}
	if !sibling.Source.Foldable() ||
		sibling.Source.Connection != q.Source.Connection ||
		sibling.Source.Dialect != q.Source.Dialect {
		return sibling, nil, nil
	}

	visiting[id] = true
	defer delete(visiting, id)

	sb, remaining, siblingDiags, err := e.compileQuery(sibling, d, fctx, visiting)
	if err != nil {
		return nil, nil, err
	}
	*diags = append(*diags, siblingDiags...)
	if len(remaining) > 0 {
		return sibling, nil, nil
	}
	return sibling, sb, nil
}

// checkFoldCombine runs the folding-phase firewall check for a set of
// queries about to share one SQL statement. A block or an undeclared level
// keeps the combination out of the fold; the step is then attempted at
// combine time, which runs its own separately gated check.
func (e *Engine) checkFoldCombine(operation string, queries []*core.Query, fctx Context, diags *[]core.FirewallEvent) (bool, error) {
	refs := make([]core.SourceRef, 0, len(queries))
	for _, q := range queries {
		sid, err := core.DeriveSourceID(q.Source, fctx.Connector)
		if err != nil {
			return false, err
		}
		level, declared := fctx.Levels[sid]
		if !declared && fctx.Mode != core.PrivacyIgnore {
			e.logger.Debug("source has no declared privacy level, not folding combination",
				"operation", operation, "source", string(sid))
			return false, nil
		}
		refs = append(refs, core.SourceRef{SourceID: sid, Level: level})
	}

	decision := e.firewall.Evaluate(core.PhaseFolding, operation, refs, fctx.Mode)
	if decision.Event != nil {
		*diags = append(*diags, *decision.Event)
	}
	return decision.Action != core.ActionBlock, nil
}

// predicateColumns collects the column names referenced by a predicate.
func predicateColumns(p core.Predicate) []string {
	switch v := p.(type) {
	case core.Compare:
		return []string{v.Column}
	case core.And:
		return append(predicateColumns(v.Left), predicateColumns(v.Right)...)
	case core.Or:
		return append(predicateColumns(v.Left), predicateColumns(v.Right)...)
	}
	return nil
}
