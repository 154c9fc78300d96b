package cli

import (
	"context"
	"testing"

	"github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metarecord/internal/config"
	appctx "metarecord/internal/core/context"
	"metarecord/internal/core/query"
	"metarecord/internal/infrastructure/audit"
	"metarecord/pkg/logger"
)

func TestKeyPredicate(t *testing.T) {
	eq, err := keyPredicate([]string{"id"}, "42")
	require.NoError(t, err)
	assert.Equal(t, squirrel.Eq{"id": int64(42)}, eq)

	eq, err = keyPredicate([]string{"id"}, "a,b")
	require.NoError(t, err)
	assert.Equal(t, squirrel.Eq{"id": "a,b"}, eq, "single keys are not split")

	eq, err = keyPredicate([]string{"org_id", "user_id"}, "7,u-1")
	require.NoError(t, err)
	assert.Equal(t, squirrel.Eq{"org_id": int64(7), "user_id": "u-1"}, eq)

	_, err = keyPredicate([]string{"org_id", "user_id"}, "7")
	assert.ErrorContains(t, err, "expected 2 values")
}

func TestKeysPredicate(t *testing.T) {
	where, err := keysPredicate([]string{"id"}, []string{"1", "2"})
	require.NoError(t, err)

	sql, args, err := where.ToSql()
	require.NoError(t, err)
	assert.Equal(t, "(id = ? OR id = ?)", sql)
	assert.Equal(t, []any{int64(1), int64(2)}, args)
}

func TestPrimaryKey(t *testing.T) {
	old := pkFlag
	t.Cleanup(func() { pkFlag = old })

	pkFlag = " org_id, user_id ,"
	assert.Equal(t, []string{"org_id", "user_id"}, primaryKey())
}

func TestOpenConn_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Database.DSN = ":memory:"

	c := &cmdContext{Config: cfg, Log: logger.NewNop()}
	t.Cleanup(c.Close)

	conn, err := c.openConn(ctx)
	require.NoError(t, err)
	require.NoError(t, c.exec(ctx, audit.SQLiteSchema))

	fields, err := conn.TableFields(ctx, audit.DefaultTable)
	require.NoError(t, err)
	assert.Contains(t, fields, "changes_compressed")

	n, err := conn.Count(ctx, query.New(audit.DefaultTable))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCommandContext(t *testing.T) {
	old := userFlag
	t.Cleanup(func() { userFlag = old })

	userFlag = "ops"
	ctx := commandContext()
	assert.Equal(t, "ops", appctx.GetUserID(ctx))
	assert.NotEmpty(t, appctx.GetRequestID(ctx))

	userFlag = ""
	assert.Empty(t, appctx.GetUserID(commandContext()))
}
