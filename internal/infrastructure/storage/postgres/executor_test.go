package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metarecord/internal/core/apperror"
	"metarecord/internal/core/query"
)

func TestInsertStatement(t *testing.T) {
	b := query.New("users", "id")

	sql, args, err := insertStatement(b, map[string]any{"name": "ann", "age": 30}, false)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO users (age,name) VALUES ($1,$2)", sql)
	assert.Equal(t, []any{30, "ann"}, args)
}

func TestInsertStatement_Returning(t *testing.T) {
	b := query.New("users", "id")

	sql, _, err := insertStatement(b, map[string]any{"name": "ann"}, true)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO users (name) VALUES ($1) RETURNING id", sql)
}

func TestInsertStatement_ReplaceUpserts(t *testing.T) {
	b := query.New("users", "id").Replace(true)

	sql, args, err := insertStatement(b, map[string]any{"id": 1, "name": "ann", "age": 3}, false)
	require.NoError(t, err)
	assert.Equal(t,
		"INSERT INTO users (age,id,name) VALUES ($1,$2,$3) ON CONFLICT (id) DO UPDATE SET age = EXCLUDED.age, name = EXCLUDED.name",
		sql)
	assert.Equal(t, []any{3, 1, "ann"}, args)
}

func TestInsertStatement_ReplaceKeyOnly(t *testing.T) {
	b := query.New("tags", "post_id", "tag").Replace(true)

	sql, _, err := insertStatement(b, map[string]any{"post_id": 1, "tag": "go"}, false)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO tags (post_id,tag) VALUES ($1,$2) ON CONFLICT (post_id, tag) DO NOTHING", sql)
}

func TestInsertStatement_AllowList(t *testing.T) {
	b := query.New("users", "id").Field("name")

	sql, args, err := insertStatement(b, map[string]any{"name": "ann", "is_admin": true}, false)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO users (name) VALUES ($1)", sql)
	assert.Equal(t, []any{"ann"}, args)
}

func TestUpdateStatement_SoftDeleteVisibility(t *testing.T) {
	b := query.New("users", "id").
		Where(squirrel.Eq{"id": 7}).
		UseSoftDelete("delete_time", squirrel.Eq{"delete_time": nil})

	sql, args, err := b.ToUpdate(squirrel.Dollar, map[string]any{"name": "bob"}).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "UPDATE users SET name = $1 WHERE id = $2 AND delete_time IS NULL", sql)
	assert.Equal(t, []any{"bob", 7}, args)
}

func TestMapError(t *testing.T) {
	fk := &pgconn.PgError{Code: "23503", ConstraintName: "orders_user_fk"}
	err := mapError("users", fmt.Errorf("exec: %w", fk))
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict))
	assert.True(t, errors.As(err, new(*pgconn.PgError)))

	uniq := &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}
	err = mapError("users", uniq)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeDuplicate, appErr.Code)
	assert.Equal(t, "users_email_key", appErr.Details["constraint"])

	plain := errors.New("connection reset")
	assert.Same(t, plain, mapError("users", plain))
}
