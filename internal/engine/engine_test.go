package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/cache"
	"github.com/quarrylabs/quarry/pkg/core"
)

type sqlCall struct {
	Connection string
	SQL        string
	Params     []any
}

// recordingConnector returns a canned table and records every round trip.
type recordingConnector struct {
	mu     sync.Mutex
	calls  []sqlCall
	result *core.DataTable
}

func (c *recordingConnector) QuerySQL(_ context.Context, connection, sql string, opts core.SQLOptions) (*core.DataTable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, sqlCall{Connection: connection, SQL: sql, Params: opts.Params})
	return c.result.Clone(), nil
}

func (c *recordingConnector) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func csvQuery(t *testing.T, id, content string, steps ...core.Step) *core.Query {
	t.Helper()
	path := filepath.Join(t.TempDir(), id+".csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return &core.Query{
		ID:     id,
		Source: core.Source{Type: core.SourceCSV, Path: path},
		Steps:  steps,
	}
}

func sourceID(t *testing.T, q *core.Query) core.SourceID {
	t.Helper()
	sid, err := core.DeriveSourceID(q.Source, nil)
	require.NoError(t, err)
	return sid
}

func TestExecuteQueryFolded(t *testing.T) {
	conn := &recordingConnector{result: tbl(t, []string{"region", "qty"}, core.Row{"East", 12.0})}
	var plans []string
	e := New(Config{
		Connectors: map[string]core.Connector{"sqlite": conn},
		Progress: func(ev core.Event) {
			if fe, ok := ev.(core.FoldEvent); ok {
				plans = append(plans, fe.PlanKind)
			}
		},
	})

	q := &core.Query{
		ID: "sales",
		Source: core.Source{
			Type: core.SourceDatabase, Connection: "file:app.db",
			Query: "SELECT * FROM sales", Dialect: "sqlite",
		},
		Steps: []core.Step{
			{ID: "s1", Op: core.FilterRows{Predicate: core.Compare{Column: "region", Op: core.OpEq, Value: "East"}}},
			{ID: "s2", Op: core.SelectColumns{Columns: []string{"region", "qty"}}},
		},
	}

	table, err := e.ExecuteQuery(context.Background(), q, nil, core.ExecOptions{})
	require.NoError(t, err)

	// The whole pipeline ran in one round trip; nothing ran locally.
	require.Equal(t, 1, conn.callCount())
	call := conn.calls[0]
	assert.Equal(t, "file:app.db", call.Connection)
	assert.Contains(t, call.SQL, `WHERE "region" = ?`)
	assert.Equal(t, []any{"East"}, call.Params)

	assert.Equal(t, []string{"folded"}, plans)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "East", table.Rows[0][0])
}

func TestExecuteQueryHybrid(t *testing.T) {
	conn := &recordingConnector{result: tbl(t, []string{"grp", "v"},
		core.Row{"g1", 1.0},
		core.Row{nil, 2.0},
		core.Row{nil, 3.0},
	)}
	e := New(Config{Connectors: map[string]core.Connector{"sqlite": conn}})

	q := &core.Query{
		ID: "q",
		Source: core.Source{
			Type: core.SourceDatabase, Connection: "file:app.db",
			Query: "SELECT * FROM t", Dialect: "sqlite",
		},
		Steps: []core.Step{
			{ID: "s1", Op: core.FilterRows{Predicate: core.Compare{Column: "v", Op: core.OpGe, Value: 0.0}}},
			{ID: "s2", Op: core.FillDown{Columns: []string{"grp"}}},
		},
	}

	table, err := e.ExecuteQuery(context.Background(), q, nil, core.ExecOptions{Limit: 2})
	require.NoError(t, err)

	// Filter folded; fillDown and the execute limit ran locally.
	require.Equal(t, 1, conn.callCount())
	assert.Contains(t, conn.calls[0].SQL, "WHERE")
	assert.NotContains(t, conn.calls[0].SQL, "LIMIT")

	require.Len(t, table.Rows, 2)
	assert.Equal(t, "g1", table.Rows[1][0])
}

func TestExecuteQueryLocalCSV(t *testing.T) {
	e := New(Config{})
	q := csvQuery(t, "inv", "item,qty\nbolt,4\nnut,9\nscrew,1\n",
		core.Step{ID: "s1", Op: core.FilterRows{Predicate: core.Compare{Column: "qty", Op: core.OpGt, Value: 2.0}}},
		core.Step{ID: "s2", Op: core.AddColumn{Name: "src", Value: "warehouse"}},
	)

	table, err := e.ExecuteQuery(context.Background(), q, nil, core.ExecOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"item", "qty", "src"}, table.ColumnNames())
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "warehouse", table.Rows[0][2])
}

func TestExecuteQueryMergeFirewall(t *testing.T) {
	newQueries := func(t *testing.T) (*core.Query, *core.Query, map[string]*core.Query) {
		left := csvQuery(t, "orders", "id,total\n1,10\n2,20\n",
			core.Step{ID: "s1", Op: core.Merge{RightQueryID: "names", JoinType: core.JoinLeft, LeftKey: "id", RightKey: "cust"}},
		)
		right := csvQuery(t, "names", "cust,name\n1,ann\n")
		return left, right, map[string]*core.Query{"orders": left, "names": right}
	}

	t.Run("enforce blocks private against public", func(t *testing.T) {
		left, right, queries := newQueries(t)
		e := New(Config{
			Mode: core.PrivacyEnforce,
			Levels: map[core.SourceID]core.PrivacyLevel{
				sourceID(t, left):  core.Private,
				sourceID(t, right): core.Public,
			},
		})

		_, err := e.ExecuteQuery(context.Background(), left, queries, core.ExecOptions{})
		var fwErr *core.FirewallError
		require.ErrorAs(t, err, &fwErr)
		assert.Equal(t, core.PhaseCombine, fwErr.Event.Phase)
		assert.Equal(t, "merge", fwErr.Event.Operation)
	})

	t.Run("warn allows and emits the event", func(t *testing.T) {
		left, right, queries := newQueries(t)
		var events []core.FirewallEvent
		e := New(Config{
			Mode: core.PrivacyWarn,
			Levels: map[core.SourceID]core.PrivacyLevel{
				sourceID(t, left):  core.Private,
				sourceID(t, right): core.Public,
			},
			Progress: func(ev core.Event) {
				if fe, ok := ev.(core.FirewallEvent); ok {
					events = append(events, fe)
				}
			},
		})

		table, err := e.ExecuteQuery(context.Background(), left, queries, core.ExecOptions{})
		require.NoError(t, err)
		assert.Len(t, table.Rows, 2)
		require.Len(t, events, 1)
		assert.Equal(t, core.ActionWarn, events[0].Action)
	})

	t.Run("organizational and public combine locally", func(t *testing.T) {
		left, right, queries := newQueries(t)
		e := New(Config{
			Mode: core.PrivacyEnforce,
			Levels: map[core.SourceID]core.PrivacyLevel{
				sourceID(t, left):  core.Organizational,
				sourceID(t, right): core.Public,
			},
		})

		table, err := e.ExecuteQuery(context.Background(), left, queries, core.ExecOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"id", "total", "cust", "name"}, table.ColumnNames())
	})

	t.Run("undeclared level fails closed under enforce", func(t *testing.T) {
		left, _, queries := newQueries(t)
		e := New(Config{
			Mode: core.PrivacyEnforce,
			// The right source has no declared level.
			Levels: map[core.SourceID]core.PrivacyLevel{
				sourceID(t, left): core.Public,
			},
		})

		_, err := e.ExecuteQuery(context.Background(), left, queries, core.ExecOptions{})
		var fwErr *core.FirewallError
		require.ErrorAs(t, err, &fwErr)
	})

	t.Run("ignore mode skips the check entirely", func(t *testing.T) {
		left, _, queries := newQueries(t)
		e := New(Config{Mode: core.PrivacyIgnore})

		_, err := e.ExecuteQuery(context.Background(), left, queries, core.ExecOptions{})
		assert.NoError(t, err)
	})
}

func TestExecuteQueryAppend(t *testing.T) {
	q1 := csvQuery(t, "q1", "a,b\n1,x\n",
		core.Step{ID: "s1", Op: core.Append{QueryIDs: []string{"q2"}}},
	)
	q2 := csvQuery(t, "q2", "b,c\ny,true\n")
	queries := map[string]*core.Query{"q1": q1, "q2": q2}

	e := New(Config{
		Mode: core.PrivacyEnforce,
		Levels: map[core.SourceID]core.PrivacyLevel{
			sourceID(t, q1): core.Public,
			sourceID(t, q2): core.Public,
		},
	})

	table, err := e.ExecuteQuery(context.Background(), q1, queries, core.ExecOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, table.ColumnNames())
	require.Len(t, table.Rows, 2)
	assert.Nil(t, table.Rows[1][0])
	assert.Equal(t, "y", table.Rows[1][1])
}

func TestExecuteQueryCache(t *testing.T) {
	conn := &recordingConnector{result: tbl(t, []string{"v"}, core.Row{1.0})}
	e := New(Config{
		Connectors: map[string]core.Connector{"sqlite": conn},
		Cache:      cache.NewMemory(),
	})

	q := &core.Query{
		ID: "q",
		Source: core.Source{
			Type: core.SourceDatabase, Connection: "file:app.db",
			Query: "SELECT * FROM t", Dialect: "sqlite",
		},
	}

	first, err := e.ExecuteQuery(context.Background(), q, nil, core.ExecOptions{})
	require.NoError(t, err)
	second, err := e.ExecuteQuery(context.Background(), q, nil, core.ExecOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, conn.callCount())
	assert.Equal(t, first.Rows, second.Rows)

	// A different execute limit is a different cache entry.
	_, err = e.ExecuteQuery(context.Background(), q, nil, core.ExecOptions{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, conn.callCount())
}

func TestConnectorSelection(t *testing.T) {
	e := New(Config{})

	noDialect := &core.Query{
		ID:     "q",
		Source: core.Source{Type: core.SourceDatabase, Connection: "c", Query: "SELECT 1"},
	}
	_, err := e.ExecuteQuery(context.Background(), noDialect, nil, core.ExecOptions{})
	assert.ErrorContains(t, err, "dialect")

	unmapped := &core.Query{
		ID:     "q",
		Source: core.Source{Type: core.SourceDatabase, Connection: "c", Query: "SELECT 1", Dialect: "postgres"},
	}
	_, err = e.ExecuteQuery(context.Background(), unmapped, nil, core.ExecOptions{})
	assert.ErrorContains(t, err, "no connector")
}

func TestPlanDoesNotExecute(t *testing.T) {
	conn := &recordingConnector{result: tbl(t, []string{"v"})}
	e := New(Config{Connectors: map[string]core.Connector{"sqlite": conn}})

	q := &core.Query{
		ID: "q",
		Source: core.Source{
			Type: core.SourceDatabase, Connection: "file:app.db",
			Query: "SELECT * FROM t", Dialect: "sqlite",
		},
		Steps: []core.Step{
			{ID: "s1", Op: core.FilterRows{Predicate: core.Compare{Column: "v", Op: core.OpGt, Value: 1.0}}},
		},
	}

	plan, err := e.Plan(q, nil, core.ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, "folded", plan.PlanKind())
	assert.Zero(t, conn.callCount())
}

func TestExecuteQueryCycle(t *testing.T) {
	a := csvQuery(t, "a", "k\n1\n", core.Step{ID: "s1", Op: core.Append{QueryIDs: []string{"b"}}})
	b := csvQuery(t, "b", "k\n2\n", core.Step{ID: "s1", Op: core.Append{QueryIDs: []string{"a"}}})
	queries := map[string]*core.Query{"a": a, "b": b}

	e := New(Config{Mode: core.PrivacyIgnore})
	_, err := e.ExecuteQuery(context.Background(), a, queries, core.ExecOptions{})
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "cycle")
}
