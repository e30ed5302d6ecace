package core

import (
	"fmt"

	"github.com/quarrylabs/quarry/pkg/scalar"
)

// Step is one named transformation in a query pipeline.
type Step struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Op   StepOp `json:"operation"`
}

// StepOp is the closed set of step operations. Both the folding compiler and
// the local executor switch exhaustively over these types, so adding an
// operation is a compile-time-checked change in both places.
type StepOp interface {
	// OpKind returns the wire tag of the operation ("filterRows", "sort", ...).
	OpKind() string

	stepOp()
	validate() error
}

// CompareOp is a binary comparison operator in a filter predicate.
type CompareOp string

const (
	OpEq CompareOp = "eq"
	OpNe CompareOp = "ne"
	OpLt CompareOp = "lt"
	OpLe CompareOp = "le"
	OpGt CompareOp = "gt"
	OpGe CompareOp = "ge"
)

// Predicate is the closed predicate grammar for filterRows: column-vs-constant
// comparisons combined with conjunction and disjunction.
type Predicate interface {
	predicate()
	validate() error
}

// Compare tests one column against a constant value.
type Compare struct {
	Column string    `json:"column"`
	Op     CompareOp `json:"op"`
	Value  any       `json:"value"`
}

// And is the conjunction of two predicates.
type And struct {
	Left  Predicate `json:"left"`
	Right Predicate `json:"right"`
}

// Or is the disjunction of two predicates.
type Or struct {
	Left  Predicate `json:"left"`
	Right Predicate `json:"right"`
}

func (Compare) predicate() {}
func (And) predicate()     {}
func (Or) predicate()      {}

func (p Compare) validate() error {
	if p.Column == "" {
		return &ValidationError{Msg: "compare predicate requires a column"}
	}
	switch p.Op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return nil
	}
	return &ValidationError{Msg: fmt.Sprintf("unknown compare operator %q", p.Op)}
}

func (p And) validate() error { return validateBranches(p.Left, p.Right) }
func (p Or) validate() error  { return validateBranches(p.Left, p.Right) }

func validateBranches(left, right Predicate) error {
	if left == nil || right == nil {
		return &ValidationError{Msg: "boolean predicate requires two operands"}
	}
	if err := left.validate(); err != nil {
		return err
	}
	return right.validate()
}

// SortKey is one ordering key of a sort step.
type SortKey struct {
	Column    string           `json:"column"`
	Direction scalar.Direction `json:"direction"`
	Nulls     scalar.NullOrder `json:"nulls"`
}

// JoinType selects the join semantics of a merge step.
type JoinType string

const (
	JoinInner JoinType = "inner"
	JoinLeft  JoinType = "left"
	JoinRight JoinType = "right"
	JoinFull  JoinType = "full"
)

// FilterRows keeps the rows matching a predicate.
type FilterRows struct {
	Predicate Predicate `json:"predicate"`
}

// SelectColumns projects the table down to the named columns, in order.
type SelectColumns struct {
	Columns []string `json:"columns"`
}

// RemoveColumns drops the named columns.
type RemoveColumns struct {
	Columns []string `json:"columns"`
}

// RenameColumns renames columns by old name.
type RenameColumns struct {
	Renames map[string]string `json:"renames"`
}

// AddColumn appends a column holding either a constant value or a copy of
// another column.
type AddColumn struct {
	Name       string `json:"name"`
	Value      any    `json:"value,omitempty"`
	FromColumn string `json:"fromColumn,omitempty"`
}

// Sort orders rows by the given keys.
type Sort struct {
	Keys []SortKey `json:"keys"`
}

// FillDown replaces nulls in the named columns with the nearest non-null
// value above them.
type FillDown struct {
	Columns []string `json:"columns"`
}

// Limit keeps the first N rows.
type Limit struct {
	Count int `json:"count"`
}

// Merge joins this query's table with another query's table.
type Merge struct {
	RightQueryID string   `json:"rightQueryId"`
	JoinType     JoinType `json:"joinType"`
	LeftKey      string   `json:"leftKey"`
	RightKey     string   `json:"rightKey"`
}

// Append concatenates the tables of other queries below this one.
type Append struct {
	QueryIDs []string `json:"queryIds"`
}

func (FilterRows) stepOp()    {}
func (SelectColumns) stepOp() {}
func (RemoveColumns) stepOp() {}
func (RenameColumns) stepOp() {}
func (AddColumn) stepOp()     {}
func (Sort) stepOp()          {}
func (FillDown) stepOp()      {}
func (Limit) stepOp()         {}
func (Merge) stepOp()         {}
func (Append) stepOp()        {}

// OpKind implementations double as the wire tags for persistence.

func (FilterRows) OpKind() string    { return "filterRows" }
func (SelectColumns) OpKind() string { return "selectColumns" }
func (RemoveColumns) OpKind() string { return "removeColumns" }
func (RenameColumns) OpKind() string { return "renameColumns" }
func (AddColumn) OpKind() string     { return "addColumn" }
func (Sort) OpKind() string          { return "sort" }
func (FillDown) OpKind() string      { return "fillDown" }
func (Limit) OpKind() string         { return "limit" }
func (Merge) OpKind() string         { return "merge" }
func (Append) OpKind() string        { return "append" }

func (op FilterRows) validate() error {
	if op.Predicate == nil {
		return &ValidationError{Msg: "filterRows requires a predicate"}
	}
	return op.Predicate.validate()
}

func (op SelectColumns) validate() error {
	if len(op.Columns) == 0 {
		return &ValidationError{Msg: "selectColumns requires at least one column"}
	}
	return nil
}

func (op RemoveColumns) validate() error {
	if len(op.Columns) == 0 {
		return &ValidationError{Msg: "removeColumns requires at least one column"}
	}
	return nil
}

func (op RenameColumns) validate() error {
	if len(op.Renames) == 0 {
		return &ValidationError{Msg: "renameColumns requires at least one rename"}
	}
	return nil
}

func (op AddColumn) validate() error {
	if op.Name == "" {
		return &ValidationError{Msg: "addColumn requires a name"}
	}
	if op.Value != nil && op.FromColumn != "" {
		return &ValidationError{Msg: "addColumn takes a value or a fromColumn, not both"}
	}
	return nil
}

func (op Sort) validate() error {
	if len(op.Keys) == 0 {
		return &ValidationError{Msg: "sort requires at least one key"}
	}
	for _, k := range op.Keys {
		if k.Column == "" {
			return &ValidationError{Msg: "sort key requires a column"}
		}
	}
	return nil
}

func (op FillDown) validate() error {
	if len(op.Columns) == 0 {
		return &ValidationError{Msg: "fillDown requires at least one column"}
	}
	return nil
}

func (op Limit) validate() error {
	if op.Count < 0 {
		return &ValidationError{Msg: "limit count must be non-negative"}
	}
	return nil
}

func (op Merge) validate() error {
	if op.RightQueryID == "" {
		return &ValidationError{Msg: "merge requires a rightQueryId"}
	}
	if op.LeftKey == "" || op.RightKey == "" {
		return &ValidationError{Msg: "merge requires leftKey and rightKey"}
	}
	switch op.JoinType {
	case JoinInner, JoinLeft, JoinRight, JoinFull:
		return nil
	}
	return &ValidationError{Msg: fmt.Sprintf("unknown join type %q", op.JoinType)}
}

func (op Append) validate() error {
	if len(op.QueryIDs) == 0 {
		return &ValidationError{Msg: "append requires at least one query id"}
	}
	return nil
}
