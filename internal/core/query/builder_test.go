package query

import (
	"testing"

	"github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_ToSelect(t *testing.T) {
	tests := []struct {
		name     string
		build    func() *Builder
		wantSQL  string
		wantArgs []any
	}{
		{
			name:    "plain",
			build:   func() *Builder { return New("users", "id") },
			wantSQL: "SELECT * FROM users",
		},
		{
			name: "where with soft delete last",
			build: func() *Builder {
				return New("users", "id").
					UseSoftDelete("delete_time", squirrel.Eq{"delete_time": nil}).
					Where(squirrel.Eq{"name": "a"})
			},
			wantSQL:  "SELECT * FROM users WHERE name = $1 AND delete_time IS NULL",
			wantArgs: []any{"a"},
		},
		{
			name: "soft delete removed",
			build: func() *Builder {
				return New("users", "id").
					UseSoftDelete("delete_time", squirrel.Eq{"delete_time": nil}).
					RemoveSoftDelete().
					Where(squirrel.Eq{"id": 3})
			},
			wantSQL:  "SELECT * FROM users WHERE id = $1",
			wantArgs: []any{3},
		},
		{
			name: "paging",
			build: func() *Builder {
				return New("users", "id").Order("id ASC").Limit(10).Offset(20)
			},
			wantSQL: "SELECT * FROM users ORDER BY id ASC LIMIT 10 OFFSET 20",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := tt.build().ToSelect(squirrel.Dollar).ToSql()
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			if len(tt.wantArgs) == 0 {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tt.wantArgs, args)
			}
		})
	}
}

func TestBuilder_ToInsert_FiltersAllowList(t *testing.T) {
	b := New("users", "id").Field("name", "age")

	sql, args, err := b.ToInsert(squirrel.Question, map[string]any{
		"name":  "a",
		"age":   3,
		"extra": true,
	}).ToSql()
	require.NoError(t, err)

	assert.Equal(t, "INSERT INTO users (age,name) VALUES (?,?)", sql)
	assert.Equal(t, []any{3, "a"}, args)
}

func TestBuilder_ToInsert_Replace(t *testing.T) {
	sql, _, err := New("users", "id").Replace(true).
		ToInsert(squirrel.Question, map[string]any{"id": 1}).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "REPLACE INTO users (id) VALUES (?)", sql)
}

func TestBuilder_ToUpdate(t *testing.T) {
	b := New("users", "id").Where(squirrel.Eq{"id": 7})

	sql, args, err := b.ToUpdate(squirrel.Dollar, map[string]any{"name": "b", "age": 4}).ToSql()
	require.NoError(t, err)

	assert.Equal(t, "UPDATE users SET age = $1, name = $2 WHERE id = $3", sql)
	assert.Equal(t, []any{4, "b", 7}, args)
}

func TestBuilder_ToDelete(t *testing.T) {
	sql, args, err := New("users", "id").Where(squirrel.Eq{"id": 7}).ToDelete(squirrel.Dollar).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM users WHERE id = $1", sql)
	assert.Equal(t, []any{7}, args)
}

func TestBuilder_CloneIsIndependent(t *testing.T) {
	b := New("users", "id").Where(squirrel.Eq{"a": 1}).UseSoftDelete("d", squirrel.Eq{"d": nil})
	c := b.Clone()
	c.Where(squirrel.Eq{"b": 2}).RemoveSoftDelete()

	assert.Len(t, b.Conditions(), 2)
	assert.NotNil(t, b.SoftDelete())
	assert.Len(t, c.Conditions(), 2)
	assert.Nil(t, c.SoftDelete())
}

func TestBuilder_ApplyScopesInOrder(t *testing.T) {
	var seen []string
	b := New("users", "id")
	b.Apply(
		func(b *Builder) { seen = append(seen, "first") },
		nil,
		func(b *Builder) { seen = append(seen, "second") },
	)
	assert.Equal(t, []string{"first", "second"}, seen)
}

func TestConnections(t *testing.T) {
	c := NewConnections(nil)
	_, err := c.Conn("")
	assert.Error(t, err)

	_, err = c.Conn("archive")
	assert.Error(t, err)
}
