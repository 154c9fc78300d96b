package model

import (
	"context"
	"slices"

	appctx "metarecord/internal/core/context"
	"metarecord/internal/core/query"
)

// ScopeOptions selects which global scopes a query skips.
//
// Except names scopes of either layer to leave out. SkipModel drops the
// whole model layer while request scopes still apply.
type ScopeOptions struct {
	SkipModel bool
	Except    []string
}

type trashedMode int

const (
	trashedHide trashedMode = iota
	trashedInclude
	trashedOnly
)

// queryPlan is everything that shapes a query built for a model.
type queryPlan struct {
	connection string
	suffix     string
	trashed    trashedMode
	useScope   bool
	scopes     []query.NamedScope
	opts       ScopeOptions
}

// Query returns a query handle on the record's table with soft-delete
// visibility and global scopes applied, and the connection to run it on.
func (r *Record) Query(ctx context.Context, opts ScopeOptions) (*query.Builder, query.Conn, error) {
	return r.model.build(ctx, r.plan(opts))
}

// WithoutScope removes the named model scopes from the record. Without names,
// or once no model scope is left, scoping is turned off for the record.
func (r *Record) WithoutScope(names ...string) *Record {
	if len(names) == 0 {
		r.useScope = false
		return r
	}
	r.scopes = slices.DeleteFunc(r.scopes, func(s query.NamedScope) bool {
		return slices.Contains(names, s.Name)
	})
	if len(r.scopes) == 0 {
		r.useScope = false
	}
	return r
}

func (r *Record) plan(opts ScopeOptions) queryPlan {
	return queryPlan{
		connection: r.connection,
		suffix:     r.suffix,
		trashed:    r.trashed,
		useScope:   r.useScope,
		scopes:     r.scopes,
		opts:       opts,
	}
}

// build resolves the connection and table of p and applies soft-delete
// visibility, then model scopes in definition order, then request scopes.
func (m *Model) build(ctx context.Context, p queryPlan) (*query.Builder, query.Conn, error) {
	conn, err := m.reg.conn(p.connection)
	if err != nil {
		return nil, nil, err
	}

	info, err := m.tableInfo(ctx, p.connection, conn, m.def.Table+p.suffix)
	if err != nil {
		return nil, nil, err
	}

	b := query.New(info.Table, m.def.PK...)
	if info.SoftDelete {
		switch p.trashed {
		case trashedHide:
			b.UseSoftDelete(m.def.DeleteTime, m.visibleCondition())
		case trashedOnly:
			b.UseSoftDelete(m.def.DeleteTime, m.trashedCondition())
		}
	}

	if !p.useScope {
		return b, conn, nil
	}

	if !p.opts.SkipModel {
		for _, s := range p.scopes {
			if !slices.Contains(p.opts.Except, s.Name) {
				b.Apply(s.Apply)
			}
		}
	}

	if rs := appctx.GetRequestScopes(ctx); rs != nil && rs.Enabled {
		for _, s := range rs.Scopes {
			if !slices.Contains(p.opts.Except, s.Name) {
				b.Apply(s.Apply)
			}
		}
	}
	return b, conn, nil
}
