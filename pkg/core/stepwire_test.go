package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/quarrylabs/quarry/pkg/scalar"
)

func TestStepJSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		step Step
	}{
		{
			"filter with nested predicate",
			Step{ID: "s1", Name: "keep east", Op: FilterRows{Predicate: And{
				Left:  Compare{Column: "region", Op: OpEq, Value: "East"},
				Right: Or{Left: Compare{Column: "qty", Op: OpGt, Value: 10.0}, Right: Compare{Column: "qty", Op: OpEq, Value: nil}},
			}}},
		},
		{"select", Step{ID: "s2", Op: SelectColumns{Columns: []string{"a", "b"}}}},
		{"rename", Step{ID: "s3", Op: RenameColumns{Renames: map[string]string{"a": "alpha"}}}},
		{"add constant column", Step{ID: "s4", Op: AddColumn{Name: "src", Value: "crm"}}},
		{"sort with options", Step{ID: "s5", Op: Sort{Keys: []SortKey{
			{Column: "ts", Direction: scalar.Descending, Nulls: scalar.NullsLast},
			{Column: "id"},
		}}}},
		{"limit zero survives", Step{ID: "s6", Op: Limit{Count: 0}}},
		{"merge", Step{ID: "s7", Op: Merge{RightQueryID: "dims", JoinType: JoinLeft, LeftKey: "id", RightKey: "dim_id"}}},
		{"append", Step{ID: "s8", Op: Append{QueryIDs: []string{"q2", "q3"}}}},
		{"fill down", Step{ID: "s9", Op: FillDown{Columns: []string{"group"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.step)
			require.NoError(t, err)

			var got Step
			require.NoError(t, json.Unmarshal(raw, &got))
			assert.Equal(t, tt.step, got)
		})
	}
}

func TestStepYAMLUnmarshal(t *testing.T) {
	src := `
id: filter-east
name: Keep east region
operation:
  op: filterRows
  predicate:
    kind: compare
    column: region
    op: eq
    value: East
`
	var step Step
	require.NoError(t, yaml.Unmarshal([]byte(src), &step))
	assert.Equal(t, "filter-east", step.ID)
	require.IsType(t, FilterRows{}, step.Op)
	pred := step.Op.(FilterRows).Predicate
	assert.Equal(t, Compare{Column: "region", Op: OpEq, Value: "East"}, pred)
}

func TestStepYAMLSortDirections(t *testing.T) {
	src := `
id: order
operation:
  op: sort
  keys:
    - column: total
      direction: desc
      nulls: last
    - column: id
`
	var step Step
	require.NoError(t, yaml.Unmarshal([]byte(src), &step))
	op := step.Op.(Sort)
	require.Len(t, op.Keys, 2)
	assert.Equal(t, scalar.Descending, op.Keys[0].Direction)
	assert.Equal(t, scalar.NullsLast, op.Keys[0].Nulls)
	assert.Equal(t, scalar.Ascending, op.Keys[1].Direction)
	assert.Equal(t, scalar.NullsFirst, op.Keys[1].Nulls)
}

func TestStepUnmarshalErrors(t *testing.T) {
	var step Step

	err := json.Unmarshal([]byte(`{"id":"x","operation":{"op":"explode"}}`), &step)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "explode")

	err = json.Unmarshal([]byte(`{"id":"x"}`), &step)
	require.ErrorAs(t, err, &verr)

	err = json.Unmarshal([]byte(`{"id":"x","operation":{"op":"limit"}}`), &step)
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "count")
}
