package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metarecord/internal/core/apperror"
	"metarecord/internal/core/query"
)

func openTestConn(t *testing.T) *Conn {
	t.Helper()
	ctx := context.Background()

	conn, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = conn.DB().ExecContext(ctx, `CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		age INTEGER
	)`)
	require.NoError(t, err)
	return conn
}

func TestConn_InsertReturnsRowID(t *testing.T) {
	conn := openTestConn(t)
	ctx := context.Background()
	b := query.New("users", "id")

	key, err := conn.Insert(ctx, b, map[string]any{"name": "ann", "age": 31}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), key)

	key, err = conn.Insert(ctx, b.Clone().Sequence("users_id_seq"), map[string]any{"name": "bob"}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), key)

	rows, err := conn.Select(ctx, query.New("users", "id").Order("id"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "ann", rows[0]["name"])
	assert.Equal(t, int64(31), rows[0]["age"])
	assert.Nil(t, rows[1]["age"])
}

func TestConn_UpdateDeleteCount(t *testing.T) {
	conn := openTestConn(t)
	ctx := context.Background()
	b := query.New("users", "id")

	for _, name := range []string{"a", "b", "c"} {
		_, err := conn.Insert(ctx, b, map[string]any{"name": name}, false)
		require.NoError(t, err)
	}

	n, err := conn.Update(ctx, query.New("users", "id").Where(squirrel.Eq{"name": "b"}), map[string]any{"age": 5})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = conn.Update(ctx, query.New("users", "id").Field("name"), map[string]any{"age": 9})
	require.NoError(t, err)
	assert.Zero(t, n, "filtered-out payload must not reach storage")

	n, err = conn.Delete(ctx, query.New("users", "id").Where(squirrel.Eq{"name": "c"}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	total, err := conn.Count(ctx, query.New("users", "id"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestConn_Replace(t *testing.T) {
	conn := openTestConn(t)
	ctx := context.Background()

	_, err := conn.Insert(ctx, query.New("users", "id"), map[string]any{"id": 10, "name": "old"}, false)
	require.NoError(t, err)

	_, err = conn.Insert(ctx, query.New("users", "id").Replace(true), map[string]any{"id": 10, "name": "new"}, false)
	require.NoError(t, err)

	rows, err := conn.Select(ctx, query.New("users", "id").Where(squirrel.Eq{"id": 10}))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "new", rows[0]["name"])
}

func TestConn_TransactionRollback(t *testing.T) {
	conn := openTestConn(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := conn.RunInTransaction(ctx, func(ctx context.Context) error {
		_, err := conn.Insert(ctx, query.New("users", "id"), map[string]any{"name": "ghost"}, false)
		require.NoError(t, err)

		// Nested call joins the outer transaction.
		return conn.RunInTransaction(ctx, func(ctx context.Context) error {
			assert.NotNil(t, conn.GetTx(ctx))
			return boom
		})
	})
	require.ErrorIs(t, err, boom)

	total, err := conn.Count(ctx, query.New("users", "id"))
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestConn_FailedCommitRollsBack(t *testing.T) {
	conn := openTestConn(t)
	ctx := context.Background()

	for _, ddl := range []string{
		`CREATE TABLE orgs (id INTEGER PRIMARY KEY)`,
		`CREATE TABLE staff (
			id INTEGER PRIMARY KEY,
			org_id INTEGER REFERENCES orgs(id) DEFERRABLE INITIALLY DEFERRED
		)`,
		`INSERT INTO orgs (id) VALUES (1)`,
		`INSERT INTO staff (id, org_id) VALUES (1, 1)`,
	} {
		_, err := conn.DB().ExecContext(ctx, ddl)
		require.NoError(t, err)
	}
	staff := query.New("staff", "id").Where(squirrel.Eq{"id": 1})

	err := conn.RunInTransaction(ctx, func(ctx context.Context) error {
		_, err := conn.Update(ctx, staff.Clone(), map[string]any{"org_id": 99})
		return err
	})
	require.ErrorContains(t, err, "commit transaction")

	rows, err := conn.Select(ctx, staff.Clone())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0]["org_id"])

	err = conn.RunInTransaction(ctx, func(ctx context.Context) error {
		_, err := conn.Insert(ctx, query.New("users", "id"), map[string]any{"name": "next"}, false)
		return err
	})
	require.NoError(t, err, "the connection must leave the failed transaction")
}

func TestConn_PanicRollsBack(t *testing.T) {
	conn := openTestConn(t)
	ctx := context.Background()

	assert.PanicsWithValue(t, "boom", func() {
		_ = conn.RunInTransaction(ctx, func(ctx context.Context) error {
			_, err := conn.Insert(ctx, query.New("users", "id"), map[string]any{"name": "ghost"}, false)
			require.NoError(t, err)
			panic("boom")
		})
	})

	total, err := conn.Count(ctx, query.New("users", "id"))
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestConn_TableFields(t *testing.T) {
	conn := openTestConn(t)
	ctx := context.Background()

	cols, err := conn.TableFields(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "age"}, cols)

	_, err = conn.TableFields(ctx, "missing")
	assert.True(t, apperror.IsNotFound(err))
}
