package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/pkg/core"
	"github.com/quarrylabs/quarry/pkg/scalar"
)

type fakeDriver struct{ dsnErr error }

func (fakeDriver) Name() string       { return "fake" }
func (fakeDriver) DriverName() string { return "fake" }

func (d fakeDriver) DSN(connection string) (string, error) {
	if d.dsnErr != nil {
		return "", d.dsnErr
	}
	return connection, nil
}

func (fakeDriver) Identity(connection string) (any, bool) {
	return map[string]any{"conn": connection}, true
}

func mockPool(t *testing.T) (*Pool, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPool(fakeDriver{}, nil).WithDB("conn", db), mock
}

func TestPoolQuerySQL(t *testing.T) {
	pool, mock := mockPool(t)
	mock.ExpectQuery(`SELECT "region", "qty" FROM t WHERE "qty" > ?`).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"region", "qty"}).
			AddRow("East", 12.5).
			AddRow([]byte("West"), nil))

	table, err := pool.QuerySQL(context.Background(), "conn",
		`SELECT "region", "qty" FROM t WHERE "qty" > ?`,
		core.SQLOptions{Params: []any{int64(10)}})
	require.NoError(t, err)

	assert.Equal(t, []string{"region", "qty"}, table.ColumnNames())
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "East", table.Rows[0][0])
	assert.Equal(t, 12.5, table.Rows[0][1])
	// Byte-slice cells normalize to strings.
	assert.Equal(t, "West", table.Rows[1][0])
	assert.Nil(t, table.Rows[1][1])
	assert.Equal(t, scalar.Text, table.Columns[0].Type)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolQuerySQLLimit(t *testing.T) {
	pool, mock := mockPool(t)
	mock.ExpectQuery(`SELECT v FROM t`).
		WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow(1).AddRow(2).AddRow(3))

	table, err := pool.QuerySQL(context.Background(), "conn", `SELECT v FROM t`,
		core.SQLOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, table.Rows, 2)
}

func TestPoolQuerySQLError(t *testing.T) {
	pool, mock := mockPool(t)
	mock.ExpectQuery(`SELECT boom`).WillReturnError(errors.New("syntax error"))

	_, err := pool.QuerySQL(context.Background(), "conn", `SELECT boom`, core.SQLOptions{})
	assert.ErrorContains(t, err, "syntax error")
}

func TestPoolDSNError(t *testing.T) {
	pool := NewPool(fakeDriver{dsnErr: errors.New("bad connection string")}, nil)
	_, err := pool.QuerySQL(context.Background(), "conn", `SELECT 1`, core.SQLOptions{})
	assert.ErrorContains(t, err, "bad connection string")
}

func TestPoolConnectionIdentity(t *testing.T) {
	pool := NewPool(fakeDriver{}, nil)
	ident, ok := pool.ConnectionIdentity("c1")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"conn": "c1"}, ident)
}

func TestRegistry(t *testing.T) {
	Register(fakeDriver{})

	d, ok := Get("fake")
	require.True(t, ok)
	assert.Equal(t, "fake", d.Name())
	assert.True(t, IsRegistered("fake"))
	assert.Contains(t, List(), "fake")

	_, err := NewPoolFor("no-such-driver", nil)
	var uerr *UnknownDriverError
	require.ErrorAs(t, err, &uerr)
	assert.Contains(t, uerr.Error(), "no-such-driver")

	pool, err := NewPoolFor("fake", nil)
	require.NoError(t, err)
	assert.NotNil(t, pool)
}
