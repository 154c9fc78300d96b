// Package query defines the query-builder handle records use to reach storage
// and the executor contract storage backends implement.
//
// Builder only accumulates intent (table, key, allow-list, predicates, options).
// SQL text is produced by squirrel with the placeholder format of the executor.
package query

import (
	"sort"

	"github.com/Masterminds/squirrel"
)

// Scope transforms an in-flight query.
type Scope func(b *Builder)

// NamedScope is a scope that callers can opt out of by name.
type NamedScope struct {
	Name  string
	Apply Scope
}

// SoftDeleteOption is the removable visibility predicate attached by soft delete.
type SoftDeleteOption struct {
	Column    string
	Condition squirrel.Sqlizer
}

// Builder is a mutable query handle bound to one physical table.
type Builder struct {
	table      string
	pk         []string
	fields     []string
	where      []squirrel.Sqlizer
	order      []string
	limit      uint64
	offset     uint64
	softDelete *SoftDeleteOption
	replace    bool
	sequence   string
}

// New creates a builder for table with the given primary key columns.
func New(table string, pk ...string) *Builder {
	return &Builder{table: table, pk: pk}
}

// Table returns the physical table name.
func (b *Builder) Table() string { return b.table }

// PK returns the primary key columns.
func (b *Builder) PK() []string { return b.pk }

// Where adds a predicate. Predicates are joined with AND. Nil is ignored.
func (b *Builder) Where(pred squirrel.Sqlizer) *Builder {
	if pred != nil {
		b.where = append(b.where, pred)
	}
	return b
}

// HasWhere reports whether an explicit predicate was set.
// The soft-delete option does not count: it never identifies rows on its own.
func (b *Builder) HasWhere() bool {
	return len(b.where) > 0
}

// Field restricts writes to the given columns. Data keys outside the list are
// dropped silently.
func (b *Builder) Field(cols ...string) *Builder {
	b.fields = append([]string(nil), cols...)
	return b
}

// Fields returns the write allow-list (nil means unrestricted).
func (b *Builder) Fields() []string { return b.fields }

// Order appends ORDER BY clauses, e.g. "name ASC".
func (b *Builder) Order(by ...string) *Builder {
	b.order = append(b.order, by...)
	return b
}

// Limit sets LIMIT.
func (b *Builder) Limit(n uint64) *Builder {
	b.limit = n
	return b
}

// Offset sets OFFSET.
func (b *Builder) Offset(n uint64) *Builder {
	b.offset = n
	return b
}

// UseSoftDelete installs the soft-delete visibility predicate, replacing any previous one.
func (b *Builder) UseSoftDelete(column string, cond squirrel.Sqlizer) *Builder {
	b.softDelete = &SoftDeleteOption{Column: column, Condition: cond}
	return b
}

// RemoveSoftDelete drops the soft-delete visibility predicate.
func (b *Builder) RemoveSoftDelete() *Builder {
	b.softDelete = nil
	return b
}

// SoftDelete returns the active soft-delete option or nil.
func (b *Builder) SoftDelete() *SoftDeleteOption { return b.softDelete }

// Replace requests upsert-by-replace semantics on insert.
func (b *Builder) Replace(replace bool) *Builder {
	b.replace = replace
	return b
}

// IsReplace reports whether insert should replace.
func (b *Builder) IsReplace() bool { return b.replace }

// Sequence sets the auto-increment sequence used to read the generated key.
func (b *Builder) Sequence(name string) *Builder {
	b.sequence = name
	return b
}

// SequenceName returns the sequence override.
func (b *Builder) SequenceName() string { return b.sequence }

// Apply runs scopes against the builder in order.
func (b *Builder) Apply(scopes ...Scope) *Builder {
	for _, s := range scopes {
		if s != nil {
			s(b)
		}
	}
	return b
}

// Clone returns an independent copy.
func (b *Builder) Clone() *Builder {
	c := *b
	c.pk = append([]string(nil), b.pk...)
	c.fields = append([]string(nil), b.fields...)
	c.where = append([]squirrel.Sqlizer(nil), b.where...)
	c.order = append([]string(nil), b.order...)
	if b.softDelete != nil {
		sd := *b.softDelete
		c.softDelete = &sd
	}
	return &c
}

// Conditions returns every predicate the statement must carry, soft delete last.
func (b *Builder) Conditions() []squirrel.Sqlizer {
	conds := append([]squirrel.Sqlizer(nil), b.where...)
	if b.softDelete != nil && b.softDelete.Condition != nil {
		conds = append(conds, b.softDelete.Condition)
	}
	return conds
}

// FilterData applies the allow-list to data.
func (b *Builder) FilterData(data map[string]any) map[string]any {
	if b.fields == nil {
		out := make(map[string]any, len(data))
		for k, v := range data {
			out[k] = v
		}
		return out
	}
	allowed := make(map[string]struct{}, len(b.fields))
	for _, f := range b.fields {
		allowed[f] = struct{}{}
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if _, ok := allowed[k]; ok {
			out[k] = v
		}
	}
	return out
}

// --- squirrel compilation ---

func statements(ph squirrel.PlaceholderFormat) squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(ph)
}

// ToSelect compiles a SELECT. Without columns it selects "*".
func (b *Builder) ToSelect(ph squirrel.PlaceholderFormat, cols ...string) squirrel.SelectBuilder {
	if len(cols) == 0 {
		cols = []string{"*"}
	}
	q := statements(ph).Select(cols...).From(b.table)
	for _, c := range b.Conditions() {
		q = q.Where(c)
	}
	if len(b.order) > 0 {
		q = q.OrderBy(b.order...)
	}
	if b.limit > 0 {
		q = q.Limit(b.limit)
	}
	if b.offset > 0 {
		q = q.Offset(b.offset)
	}
	return q
}

// ToCount compiles SELECT COUNT(*) honouring predicates but not paging.
func (b *Builder) ToCount(ph squirrel.PlaceholderFormat) squirrel.SelectBuilder {
	q := statements(ph).Select("COUNT(*)").From(b.table)
	for _, c := range b.Conditions() {
		q = q.Where(c)
	}
	return q
}

// ToInsert compiles INSERT (or REPLACE when requested) for the filtered data.
func (b *Builder) ToInsert(ph squirrel.PlaceholderFormat, data map[string]any) squirrel.InsertBuilder {
	sb := statements(ph)
	var q squirrel.InsertBuilder
	if b.replace {
		q = sb.Replace(b.table)
	} else {
		q = sb.Insert(b.table)
	}
	return q.SetMap(b.FilterData(data))
}

// ToUpdate compiles UPDATE for the filtered data.
func (b *Builder) ToUpdate(ph squirrel.PlaceholderFormat, data map[string]any) squirrel.UpdateBuilder {
	q := statements(ph).Update(b.table).SetMap(b.FilterData(data))
	for _, c := range b.Conditions() {
		q = q.Where(c)
	}
	return q
}

// ToDelete compiles DELETE.
func (b *Builder) ToDelete(ph squirrel.PlaceholderFormat) squirrel.DeleteBuilder {
	q := statements(ph).Delete(b.table)
	for _, c := range b.Conditions() {
		q = q.Where(c)
	}
	return q
}

// SortedKeys returns map keys in a stable order.
func SortedKeys(data map[string]any) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
