package core

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/quarrylabs/quarry/pkg/scalar"
)

// The wire shapes below are the persisted form of steps and predicates,
// shared by the JSON and YAML codecs. The operation object carries an "op"
// tag naming the variant; unknown tags are a ValidationError.

type opWire struct {
	Op string `json:"op" yaml:"op"`

	Predicate *predWire `json:"predicate,omitempty" yaml:"predicate,omitempty"`

	Columns []string          `json:"columns,omitempty" yaml:"columns,omitempty"`
	Renames map[string]string `json:"renames,omitempty" yaml:"renames,omitempty"`

	Name       string `json:"name,omitempty" yaml:"name,omitempty"`
	Value      any    `json:"value,omitempty" yaml:"value,omitempty"`
	FromColumn string `json:"fromColumn,omitempty" yaml:"fromColumn,omitempty"`

	Keys []sortKeyWire `json:"keys,omitempty" yaml:"keys,omitempty"`

	Count *int `json:"count,omitempty" yaml:"count,omitempty"`

	RightQueryID string `json:"rightQueryId,omitempty" yaml:"rightQueryId,omitempty"`
	JoinType     string `json:"joinType,omitempty" yaml:"joinType,omitempty"`
	LeftKey      string `json:"leftKey,omitempty" yaml:"leftKey,omitempty"`
	RightKey     string `json:"rightKey,omitempty" yaml:"rightKey,omitempty"`

	QueryIDs []string `json:"queryIds,omitempty" yaml:"queryIds,omitempty"`
}

type predWire struct {
	Kind   string    `json:"kind" yaml:"kind"`
	Column string    `json:"column,omitempty" yaml:"column,omitempty"`
	Op     string    `json:"op,omitempty" yaml:"op,omitempty"`
	Value  any       `json:"value,omitempty" yaml:"value,omitempty"`
	Left   *predWire `json:"left,omitempty" yaml:"left,omitempty"`
	Right  *predWire `json:"right,omitempty" yaml:"right,omitempty"`
}

type sortKeyWire struct {
	Column    string `json:"column" yaml:"column"`
	Direction string `json:"direction,omitempty" yaml:"direction,omitempty"`
	Nulls     string `json:"nulls,omitempty" yaml:"nulls,omitempty"`
}

type stepWire struct {
	ID        string  `json:"id" yaml:"id"`
	Name      string  `json:"name" yaml:"name"`
	Operation *opWire `json:"operation" yaml:"operation"`
}

// MarshalJSON writes the step in its persisted envelope form.
func (s Step) MarshalJSON() ([]byte, error) {
	wire, err := opToWire(s.Op)
	if err != nil {
		return nil, err
	}
	return json.Marshal(stepWire{ID: s.ID, Name: s.Name, Operation: wire})
}

// UnmarshalJSON reads the persisted envelope form.
func (s *Step) UnmarshalJSON(data []byte) error {
	var wire stepWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	return s.fromWire(wire)
}

// MarshalYAML writes the step in its persisted envelope form.
func (s Step) MarshalYAML() (any, error) {
	wire, err := opToWire(s.Op)
	if err != nil {
		return nil, err
	}
	return stepWire{ID: s.ID, Name: s.Name, Operation: wire}, nil
}

// UnmarshalYAML reads the persisted envelope form.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	var wire stepWire
	if err := node.Decode(&wire); err != nil {
		return err
	}
	return s.fromWire(wire)
}

func (s *Step) fromWire(wire stepWire) error {
	if wire.Operation == nil {
		return &ValidationError{Msg: fmt.Sprintf("step %s has no operation", wire.ID)}
	}
	op, err := opFromWire(wire.Operation)
	if err != nil {
		return err
	}
	s.ID = wire.ID
	s.Name = wire.Name
	s.Op = op
	return nil
}

func opToWire(op StepOp) (*opWire, error) {
	if op == nil {
		return nil, &ValidationError{Msg: "step has no operation"}
	}
	wire := &opWire{Op: op.OpKind()}
	switch v := op.(type) {
	case FilterRows:
		wire.Predicate = predToWire(v.Predicate)
	case SelectColumns:
		wire.Columns = v.Columns
	case RemoveColumns:
		wire.Columns = v.Columns
	case RenameColumns:
		wire.Renames = v.Renames
	case AddColumn:
		wire.Name = v.Name
		wire.Value = v.Value
		wire.FromColumn = v.FromColumn
	case Sort:
		for _, k := range v.Keys {
			wire.Keys = append(wire.Keys, sortKeyWire{
				Column:    k.Column,
				Direction: k.Direction.String(),
				Nulls:     nullOrderName(k.Nulls),
			})
		}
	case FillDown:
		wire.Columns = v.Columns
	case Limit:
		count := v.Count
		wire.Count = &count
	case Merge:
		wire.RightQueryID = v.RightQueryID
		wire.JoinType = string(v.JoinType)
		wire.LeftKey = v.LeftKey
		wire.RightKey = v.RightKey
	case Append:
		wire.QueryIDs = v.QueryIDs
	default:
		return nil, &ValidationError{Msg: fmt.Sprintf("unknown operation type %T", op)}
	}
	return wire, nil
}

func opFromWire(wire *opWire) (StepOp, error) {
	switch wire.Op {
	case "filterRows":
		pred, err := predFromWire(wire.Predicate)
		if err != nil {
			return nil, err
		}
		return FilterRows{Predicate: pred}, nil
	case "selectColumns":
		return SelectColumns{Columns: wire.Columns}, nil
	case "removeColumns":
		return RemoveColumns{Columns: wire.Columns}, nil
	case "renameColumns":
		return RenameColumns{Renames: wire.Renames}, nil
	case "addColumn":
		return AddColumn{Name: wire.Name, Value: wire.Value, FromColumn: wire.FromColumn}, nil
	case "sort":
		keys := make([]SortKey, 0, len(wire.Keys))
		for _, k := range wire.Keys {
			dir, err := parseDirection(k.Direction)
			if err != nil {
				return nil, err
			}
			nulls, err := parseNullOrder(k.Nulls)
			if err != nil {
				return nil, err
			}
			keys = append(keys, SortKey{Column: k.Column, Direction: dir, Nulls: nulls})
		}
		return Sort{Keys: keys}, nil
	case "fillDown":
		return FillDown{Columns: wire.Columns}, nil
	case "limit":
		if wire.Count == nil {
			return nil, &ValidationError{Msg: "limit requires a count"}
		}
		return Limit{Count: *wire.Count}, nil
	case "merge":
		return Merge{
			RightQueryID: wire.RightQueryID,
			JoinType:     JoinType(wire.JoinType),
			LeftKey:      wire.LeftKey,
			RightKey:     wire.RightKey,
		}, nil
	case "append":
		return Append{QueryIDs: wire.QueryIDs}, nil
	}
	return nil, &ValidationError{Msg: fmt.Sprintf("unknown operation %q", wire.Op)}
}

func predToWire(p Predicate) *predWire {
	switch v := p.(type) {
	case Compare:
		return &predWire{Kind: "compare", Column: v.Column, Op: string(v.Op), Value: v.Value}
	case And:
		return &predWire{Kind: "and", Left: predToWire(v.Left), Right: predToWire(v.Right)}
	case Or:
		return &predWire{Kind: "or", Left: predToWire(v.Left), Right: predToWire(v.Right)}
	}
	return nil
}

func predFromWire(wire *predWire) (Predicate, error) {
	if wire == nil {
		return nil, &ValidationError{Msg: "filterRows requires a predicate"}
	}
	switch wire.Kind {
	case "compare":
		return Compare{Column: wire.Column, Op: CompareOp(wire.Op), Value: wire.Value}, nil
	case "and", "or":
		left, err := predFromWire(wire.Left)
		if err != nil {
			return nil, err
		}
		right, err := predFromWire(wire.Right)
		if err != nil {
			return nil, err
		}
		if wire.Kind == "and" {
			return And{Left: left, Right: right}, nil
		}
		return Or{Left: left, Right: right}, nil
	}
	return nil, &ValidationError{Msg: fmt.Sprintf("unknown predicate kind %q", wire.Kind)}
}

func nullOrderName(n scalar.NullOrder) string {
	if n == scalar.NullsLast {
		return "last"
	}
	return "first"
}

func parseDirection(name string) (scalar.Direction, error) {
	switch name {
	case "", "ascending", "asc":
		return scalar.Ascending, nil
	case "descending", "desc":
		return scalar.Descending, nil
	}
	return 0, &ValidationError{Msg: fmt.Sprintf("unknown sort direction %q", name)}
}

func parseNullOrder(name string) (scalar.NullOrder, error) {
	switch name {
	case "", "first":
		return scalar.NullsFirst, nil
	case "last":
		return scalar.NullsLast, nil
	}
	return 0, &ValidationError{Msg: fmt.Sprintf("unknown null order %q", name)}
}
