package model

import (
	"context"
	"fmt"
	"slices"

	"github.com/Masterminds/squirrel"

	"metarecord/internal/core/apperror"
	"metarecord/internal/core/event"
	"metarecord/internal/core/query"
)

// Finder reads records of a model. Finders are values: every option method
// returns a modified copy.
type Finder struct {
	m    *Model
	plan queryPlan
}

// Page is one page of a listing.
type Page struct {
	Items   []*Record
	Total   int64
	Page    uint64
	PerPage uint64
}

func (m *Model) finder() Finder {
	return Finder{m: m, plan: queryPlan{
		connection: m.def.Connection,
		useScope:   true,
		scopes:     m.def.GlobalScopes,
	}}
}

// Query returns the scoped select builder of the model and the connection
// to run it on.
func (m *Model) Query(ctx context.Context, opts ScopeOptions) (*query.Builder, query.Conn, error) {
	return m.Scoped(opts).Query(ctx)
}

// Suffix targets the table named by the model table plus suffix.
func (m *Model) Suffix(suffix string) Finder { return m.finder().Suffix(suffix) }

// Connect targets a named connection.
func (m *Model) Connect(name string) Finder { return m.finder().Connect(name) }

// WithTrashed includes soft-deleted rows.
func (m *Model) WithTrashed() Finder { return m.finder().WithTrashed() }

// OnlyTrashed returns soft-deleted rows only.
func (m *Model) OnlyTrashed() Finder { return m.finder().OnlyTrashed() }

// Scoped sets which global scopes to skip.
func (m *Model) Scoped(opts ScopeOptions) Finder { return m.finder().Scoped(opts) }

// Find loads the record with the given key.
func (m *Model) Find(ctx context.Context, key any) (*Record, error) {
	return m.finder().Find(ctx, key)
}

// Select loads the records matched by the query shaped by fn.
func (m *Model) Select(ctx context.Context, fn func(b *query.Builder)) ([]*Record, error) {
	return m.finder().Select(ctx, fn)
}

// List loads the records matching where in the given order.
func (m *Model) List(ctx context.Context, where squirrel.Sqlizer, order ...string) ([]*Record, error) {
	return m.finder().List(ctx, where, order...)
}

// Page loads one page of the records matching where. Pages start at 1.
func (m *Model) Page(ctx context.Context, where squirrel.Sqlizer, page, perPage uint64, order ...string) (*Page, error) {
	return m.finder().Page(ctx, where, page, perPage, order...)
}

// Count counts the records matching where.
func (m *Model) Count(ctx context.Context, where squirrel.Sqlizer) (int64, error) {
	return m.finder().Count(ctx, where)
}

// Suffix targets the table named by the model table plus suffix.
func (f Finder) Suffix(suffix string) Finder {
	f.plan.suffix = suffix
	return f
}

// Connect targets a named connection.
func (f Finder) Connect(name string) Finder {
	f.plan.connection = name
	return f
}

// WithTrashed includes soft-deleted rows.
func (f Finder) WithTrashed() Finder {
	f.plan.trashed = trashedInclude
	return f
}

// OnlyTrashed returns soft-deleted rows only.
func (f Finder) OnlyTrashed() Finder {
	f.plan.trashed = trashedOnly
	return f
}

// Scoped sets which global scopes to skip.
func (f Finder) Scoped(opts ScopeOptions) Finder {
	f.plan.opts = opts
	return f
}

// WithoutScope turns global scoping off entirely.
func (f Finder) WithoutScope() Finder {
	f.plan.useScope = false
	return f
}

// Query returns the query handle of the finder and the connection to run it on.
func (f Finder) Query(ctx context.Context) (*query.Builder, query.Conn, error) {
	return f.m.build(ctx, f.plan)
}

// Find loads the record with the given key. A composite key is passed as a
// map of key column to value.
func (f Finder) Find(ctx context.Context, key any) (*Record, error) {
	pred, err := f.m.keyPredicate(key)
	if err != nil {
		return nil, err
	}
	recs, err := f.Select(ctx, func(b *query.Builder) {
		b.Where(pred).Limit(1)
	})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, apperror.NewNotFound(f.m.def.Name, key)
	}
	return recs[0], nil
}

// Select loads the records matched by the query shaped by fn.
func (f Finder) Select(ctx context.Context, fn func(b *query.Builder)) ([]*Record, error) {
	b, conn, err := f.Query(ctx)
	if err != nil {
		return nil, err
	}
	if fn != nil {
		fn(b)
	}

	rows, err := conn.Select(ctx, b)
	if err != nil {
		return nil, err
	}

	recs := make([]*Record, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, f.instance(ctx, row))
	}
	return recs, nil
}

// List loads the records matching where in the given order.
func (f Finder) List(ctx context.Context, where squirrel.Sqlizer, order ...string) ([]*Record, error) {
	return f.Select(ctx, func(b *query.Builder) {
		b.Where(where).Order(order...)
	})
}

// Page loads one page of the records matching where. Pages start at 1.
func (f Finder) Page(ctx context.Context, where squirrel.Sqlizer, page, perPage uint64, order ...string) (*Page, error) {
	if page == 0 {
		page = 1
	}
	if perPage == 0 {
		return nil, apperror.NewValidation("perPage must be positive")
	}

	total, err := f.Count(ctx, where)
	if err != nil {
		return nil, err
	}

	items, err := f.Select(ctx, func(b *query.Builder) {
		b.Where(where).Order(order...).Limit(perPage).Offset((page - 1) * perPage)
	})
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Total: total, Page: page, PerPage: perPage}, nil
}

// Count counts the records matching where.
func (f Finder) Count(ctx context.Context, where squirrel.Sqlizer) (int64, error) {
	b, conn, err := f.Query(ctx)
	if err != nil {
		return 0, err
	}
	return conn.Count(ctx, b.Where(where))
}

// instance binds a loaded row to a record carrying the finder's table options.
func (f Finder) instance(ctx context.Context, row map[string]any) *Record {
	r := f.m.New(row)
	r.exists = true
	r.suffix = f.plan.suffix
	r.connection = f.plan.connection
	if f.plan.trashed != trashedHide {
		r.trashed = trashedInclude
	}
	r.fireAfter(ctx, event.AfterRead)
	return r
}

// keyPredicate matches the given key value(s).
func (m *Model) keyPredicate(key any) (squirrel.Sqlizer, error) {
	switch k := key.(type) {
	case nil:
		return nil, apperror.NewMissingKey(m.def.Name, m.def.PK)
	case squirrel.Eq:
		return k, nil
	case map[string]any:
		eq := squirrel.Eq{}
		for _, field := range m.def.PK {
			v, ok := k[field]
			if !ok {
				return nil, apperror.NewMissingKey(m.def.Name, m.def.PK)
			}
			eq[field] = v
		}
		return eq, nil
	}

	if len(m.def.PK) != 1 {
		return nil, apperror.NewValidation(
			fmt.Sprintf("%s has a composite key; pass a map of %v", m.def.Name, m.def.PK))
	}
	return squirrel.Eq{m.def.PK[0]: key}, nil
}

// keysPredicate matches any of keys.
func (m *Model) keysPredicate(keys []any) (squirrel.Sqlizer, error) {
	if len(m.def.PK) == 1 {
		return squirrel.Eq{m.def.PK[0]: slices.Clone(keys)}, nil
	}
	or := make(squirrel.Or, 0, len(keys))
	for _, key := range keys {
		pred, err := m.keyPredicate(key)
		if err != nil {
			return nil, err
		}
		or = append(or, pred)
	}
	return or, nil
}
