package model

import (
	"context"
	"testing"

	"github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "metarecord/internal/core/context"
	"metarecord/internal/core/event"
	"metarecord/internal/core/query"
)

func adults(b *query.Builder) { b.Where(squirrel.GtOrEq{"age": 18}) }

func tenant(id int) query.Scope {
	return func(b *query.Builder) { b.Where(squirrel.Eq{"tenant_id": id}) }
}

func seedPeople(t *testing.T, f *fixture) {
	t.Helper()
	f.seed(t, "users",
		map[string]any{"name": "kid", "age": 10, "tenant_id": 1},
		map[string]any{"name": "ann", "age": 30, "tenant_id": 1},
		map[string]any{"name": "bob", "age": 40, "tenant_id": 2},
		map[string]any{"name": "old", "age": 90, "tenant_id": 1, "delete_time": "2024-01-01 00:00:00"},
	)
}

func names(t *testing.T, recs []*Record) []string {
	t.Helper()
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Get("name").(string))
	}
	return out
}

func TestScope_ModelAndRequestLayers(t *testing.T) {
	f := newFixture(t)
	m := f.users(t, func(d *Definition) {
		d.GlobalScopes = []query.NamedScope{{Name: "adults", Apply: adults}}
	})
	seedPeople(t, f)

	tests := []struct {
		name   string
		finder Finder
		ctx    bool
		want   []string
	}{
		{name: "model scope", finder: m.Scoped(ScopeOptions{}), want: []string{"ann", "bob"}},
		{name: "model and request scopes", finder: m.Scoped(ScopeOptions{}), ctx: true, want: []string{"ann"}},
		{name: "skip model layer", finder: m.Scoped(ScopeOptions{SkipModel: true}), ctx: true, want: []string{"kid", "ann"}},
		{name: "except request scope", finder: m.Scoped(ScopeOptions{Except: []string{"tenant"}}), ctx: true, want: []string{"ann", "bob"}},
		{name: "except both", finder: m.Scoped(ScopeOptions{Except: []string{"tenant", "adults"}}), ctx: true, want: []string{"kid", "ann", "bob"}},
		{name: "scoping off", finder: m.Scoped(ScopeOptions{}).WithoutScope(), ctx: true, want: []string{"kid", "ann", "bob"}},
		{name: "trashed still hidden without scopes", finder: m.Scoped(ScopeOptions{}).WithoutScope(), want: []string{"kid", "ann", "bob"}},
		{name: "with trashed", finder: m.WithTrashed(), want: []string{"ann", "bob", "old"}},
		{name: "only trashed", finder: m.OnlyTrashed().WithoutScope(), want: []string{"old"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := f.ctx
			if tt.ctx {
				ctx = appctx.WithRequestScopes(ctx, true, query.NamedScope{Name: "tenant", Apply: tenant(1)})
			}
			recs, err := tt.finder.List(ctx, nil, "id")
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(t, recs))
		})
	}
}

func TestScope_DisabledRequestScopes(t *testing.T) {
	f := newFixture(t)
	m := f.users(t)
	seedPeople(t, f)

	ctx := appctx.WithRequestScopes(f.ctx, false, query.NamedScope{Name: "tenant", Apply: tenant(2)})
	n, err := m.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestScope_RecordQuery(t *testing.T) {
	f := newFixture(t)
	m := f.users(t, func(d *Definition) {
		d.GlobalScopes = []query.NamedScope{
			{Name: "adults", Apply: adults},
			{Name: "tenant1", Apply: tenant(1)},
		}
	})
	seedPeople(t, f)

	r := m.New(nil)
	b, conn, err := r.Query(f.ctx, ScopeOptions{})
	require.NoError(t, err)
	n, err := conn.Count(f.ctx, b)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	b, conn, err = r.WithoutScope("tenant1").Query(f.ctx, ScopeOptions{})
	require.NoError(t, err)
	n, err = conn.Count(f.ctx, b)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	b, conn, err = r.WithoutScope("adults").Query(f.ctx, ScopeOptions{})
	require.NoError(t, err)
	n, err = conn.Count(f.ctx, b)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "no model scope left turns scoping off")

	b, conn, err = m.Query(f.ctx, ScopeOptions{Except: []string{"tenant1"}})
	require.NoError(t, err)
	n, err = conn.Count(f.ctx, b)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestScope_UpdateIgnoresScopes(t *testing.T) {
	f := newFixture(t)
	m := f.users(t, func(d *Definition) {
		d.GlobalScopes = []query.NamedScope{{Name: "adults", Apply: adults}}
	})
	seedPeople(t, f)

	kid, err := m.Scoped(ScopeOptions{SkipModel: true}).Find(f.ctx, 1)
	require.NoError(t, err)

	ok, err := kid.Save(f.ctx, map[string]any{"name": "teen"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "teen", f.row(t, "users", 1)["name"])
}

func TestFinder_Page(t *testing.T) {
	f := newFixture(t)
	m := f.users(t)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		f.seed(t, "users", map[string]any{"name": name})
	}

	page, err := m.Page(f.ctx, squirrel.NotEq{"name": "e"}, 2, 3, "id")
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total)
	assert.Equal(t, uint64(2), page.Page)
	assert.Equal(t, []string{"d"}, names(t, page.Items))

	_, err = m.Page(f.ctx, nil, 1, 0)
	assert.Error(t, err)
}

func TestFinder_SuffixAndConnection(t *testing.T) {
	f := newFixture(t)
	m := f.users(t)
	_, err := f.db.DB().ExecContext(f.ctx, `CREATE TABLE users_2023 (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	f.seed(t, "users_2023", map[string]any{"id": 5, "name": "archived"})

	r, err := m.Suffix("_2023").Find(f.ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "archived", r.Get("name"))

	_, err = r.Save(f.ctx, map[string]any{"name": "restored"})
	require.NoError(t, err)
	assert.Equal(t, "restored", f.row(t, "users_2023", 5)["name"])

	_, err = m.Connect("replica").Find(f.ctx, 5)
	assert.ErrorContains(t, err, `connection "replica" is not configured`)
}

func TestFinder_AfterReadFires(t *testing.T) {
	f := newFixture(t)
	m := f.users(t)
	seedPeople(t, f)

	reads := 0
	f.reg.On(event.AfterRead, func(_ context.Context, r *Record) error {
		reads++
		return nil
	})

	_, err := m.List(f.ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, reads)
}
