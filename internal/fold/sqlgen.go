package fold

import (
	"slices"
	"strings"

	"github.com/quarrylabs/quarry/pkg/core"
	"github.com/quarrylabs/quarry/pkg/dialect"
	"github.com/quarrylabs/quarry/pkg/scalar"
)

// sqlBuilder accumulates the clauses of one generated SELECT. Placeholders
// are emitted as "?" internally and renumbered for dollar-style dialects in
// the final build, so parameter order always matches clause order even after
// subquery composition.
type sqlBuilder struct {
	d         *dialect.Dialect
	sourceSQL string

	from       string
	fromParams []any

	projection  []string // nil means the source's full (unknown) schema
	where       []string
	whereParams []any
	orderKeys   []core.SortKey
	limit       *int

	dirty bool
}

func newBuilder(d *dialect.Dialect, sourceSQL string) *sqlBuilder {
	return &sqlBuilder{
		d:         d,
		sourceSQL: sourceSQL,
		from:      "(" + sourceSQL + ") AS t",
	}
}

func (b *sqlBuilder) limited() bool          { return b.limit != nil }
func (b *sqlBuilder) ordered() bool          { return len(b.orderKeys) > 0 }
func (b *sqlBuilder) hasProjection() bool    { return b.projection != nil }
func (b *sqlBuilder) projectionColumns() []string { return b.projection }

// coversColumns reports whether the named columns survive the current
// projection. An implicit (unknown) projection covers everything.
func (b *sqlBuilder) coversColumns(cols []string) bool {
	if b.projection == nil {
		return true
	}
	for _, c := range cols {
		if !slices.Contains(b.projection, c) {
			return false
		}
	}
	return true
}

func (b *sqlBuilder) addWhere(clause string, params []any) {
	b.where = append(b.where, clause)
	b.whereParams = append(b.whereParams, params...)
	b.dirty = true
}

func (b *sqlBuilder) setProjection(cols []string) {
	b.projection = slices.Clone(cols)
	b.dirty = true
}

func (b *sqlBuilder) removeFromProjection(cols []string) {
	kept := make([]string, 0, len(b.projection))
	for _, c := range b.projection {
		if !slices.Contains(cols, c) {
			kept = append(kept, c)
		}
	}
	b.projection = kept
	b.dirty = true
}

func (b *sqlBuilder) setOrderBy(keys []core.SortKey) {
	b.orderKeys = slices.Clone(keys)
	b.dirty = true
}

// setLimit records a row cap. Stacked limits keep the smaller count, which is
// the composition of the two caps.
func (b *sqlBuilder) setLimit(n int) {
	if b.limit == nil || n < *b.limit {
		b.limit = &n
	}
	b.dirty = true
}

// mergeJoin replaces the builder's state with a join of its current select
// and a fully folded right-hand select. Clause state resets; the prior
// clauses live inside the joined subqueries.
func (b *sqlBuilder) mergeJoin(right *sqlBuilder, joinType core.JoinType, leftKey, rightKey string) {
	leftSQL, leftParams := b.buildSelect()
	rightSQL, rightParams := right.buildSelect()

	join := "SELECT l.*, r.* FROM (" + leftSQL + ") AS l " + joinKeyword(joinType) +
		" (" + rightSQL + ") AS r ON l." + b.d.QuoteIdentifier(leftKey) +
		" = r." + b.d.QuoteIdentifier(rightKey)

	combined, _ := combinedProjection(b.projection, right.projection)

	b.from = "(" + join + ") AS t"
	b.fromParams = append(leftParams, rightParams...)
	b.projection = combined
	b.where = nil
	b.whereParams = nil
	b.orderKeys = nil
	b.limit = nil
	b.dirty = true
}

// unionAll replaces the builder's state with the UNION ALL of its current
// select and the given fully folded selects, all sharing one projection.
func (b *sqlBuilder) unionAll(others []*sqlBuilder) {
	selects := make([]string, 0, len(others)+1)
	var params []any

	sql, p := b.buildSelect()
	selects = append(selects, sql)
	params = append(params, p...)
	for _, other := range others {
		sql, p := other.buildSelect()
		selects = append(selects, sql)
		params = append(params, p...)
	}

	projection := b.projection

	b.from = "(" + strings.Join(selects, " UNION ALL ") + ") AS t"
	b.fromParams = params
	b.projection = projection
	b.where = nil
	b.whereParams = nil
	b.orderKeys = nil
	b.limit = nil
	b.dirty = true
}

// buildSelect renders the current state as a full SELECT with "?"
// placeholders, parameters ordered exactly as the placeholders appear.
func (b *sqlBuilder) buildSelect() (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if b.projection == nil {
		sb.WriteString("*")
	} else {
		for i, c := range b.projection {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(b.d.QuoteIdentifier(c))
		}
	}
	sb.WriteString(" FROM ")
	sb.WriteString(b.from)

	params := slices.Clone(b.fromParams)

	if len(b.where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.where, " AND "))
		params = append(params, b.whereParams...)
	}

	if len(b.orderKeys) > 0 {
		sb.WriteString(" ORDER BY ")
		for i, k := range b.orderKeys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(b.d.QuoteIdentifier(k.Column))
			if k.Direction == scalar.Descending {
				sb.WriteString(" DESC")
			} else {
				sb.WriteString(" ASC")
			}
			if b.d.SupportsNullOrdering {
				if k.Nulls == scalar.NullsLast {
					sb.WriteString(" NULLS LAST")
				} else {
					sb.WriteString(" NULLS FIRST")
				}
			}
		}
	}

	if b.limit != nil {
		sb.WriteString(" LIMIT ?")
		params = append(params, *b.limit)
	}

	return sb.String(), params
}

// build renders the final statement. An untouched builder passes the source
// query through verbatim; other dialect placeholder styles are rewritten in
// order of appearance.
func (b *sqlBuilder) build() (string, []any) {
	if !b.dirty {
		return b.sourceSQL, nil
	}
	sql, params := b.buildSelect()
	return formatPlaceholders(sql, b.d), params
}

// combinedProjection concatenates two explicit projections. Either side being
// implicit combines to an implicit projection; two explicit projections
// sharing a column name report false, since the joined subquery would expose
// ambiguous duplicate output columns.
func combinedProjection(left, right []string) ([]string, bool) {
	if left == nil || right == nil {
		return nil, true
	}
	combined := make([]string, 0, len(left)+len(right))
	combined = append(combined, left...)
	combined = append(combined, right...)
	seen := make(map[string]struct{}, len(combined))
	for _, c := range combined {
		if _, dup := seen[c]; dup {
			return nil, false
		}
		seen[c] = struct{}{}
	}
	return combined, true
}

func joinKeyword(t core.JoinType) string {
	switch t {
	case core.JoinLeft:
		return "LEFT JOIN"
	case core.JoinRight:
		return "RIGHT JOIN"
	case core.JoinFull:
		return "FULL OUTER JOIN"
	default:
		return "INNER JOIN"
	}
}

// compilePredicate renders a predicate as one SQL boolean expression with
// "?" placeholders, parameters in the order the placeholders appear. The
// third result is false when the predicate cannot fold.
func compilePredicate(p core.Predicate, d *dialect.Dialect) (string, []any, bool) {
	switch v := p.(type) {
	case core.Compare:
		col := d.QuoteIdentifier(v.Column)
		if v.Value == nil {
			switch v.Op {
			case core.OpEq:
				return col + " IS NULL", nil, true
			case core.OpNe:
				return col + " IS NOT NULL", nil, true
			}
			// Ordered comparison against null has no SQL equivalent with the
			// engine's null semantics; leave it for local execution.
			return "", nil, false
		}
		op, ok := compareKeyword(v.Op)
		if !ok {
			return "", nil, false
		}
		return col + " " + op + " ?", []any{v.Value}, true

	case core.And:
		return compileBoolean(v.Left, v.Right, "AND", d)
	case core.Or:
		return compileBoolean(v.Left, v.Right, "OR", d)
	}
	return "", nil, false
}

func compileBoolean(left, right core.Predicate, keyword string, d *dialect.Dialect) (string, []any, bool) {
	leftSQL, leftParams, ok := compilePredicate(left, d)
	if !ok {
		return "", nil, false
	}
	rightSQL, rightParams, ok := compilePredicate(right, d)
	if !ok {
		return "", nil, false
	}
	return "(" + leftSQL + " " + keyword + " " + rightSQL + ")", append(leftParams, rightParams...), true
}

func compareKeyword(op core.CompareOp) (string, bool) {
	switch op {
	case core.OpEq:
		return "=", true
	case core.OpNe:
		return "<>", true
	case core.OpLt:
		return "<", true
	case core.OpLe:
		return "<=", true
	case core.OpGt:
		return ">", true
	case core.OpGe:
		return ">=", true
	}
	return "", false
}

// formatPlaceholders rewrites the internal "?" placeholders into the
// dialect's style in order of appearance, skipping quoted regions.
func formatPlaceholders(sql string, d *dialect.Dialect) string {
	if d.Placeholder == dialect.PlaceholderQuestion {
		return sql
	}
	var sb strings.Builder
	sb.Grow(len(sql) + 8)
	n := 0
	inSingle, inDouble := false, false
	for _, r := range sql {
		switch {
		case r == '\'' && !inDouble:
			inSingle = !inSingle
		case r == '"' && !inSingle:
			inDouble = !inDouble
		case r == '?' && !inSingle && !inDouble:
			n++
			sb.WriteString(d.FormatPlaceholder(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
