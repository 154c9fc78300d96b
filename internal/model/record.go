package model

import (
	"fmt"
	"slices"

	"github.com/Masterminds/squirrel"

	"metarecord/internal/core/entity"
	"metarecord/internal/core/query"
)

// Record is one in-memory row. It is not safe for concurrent use.
type Record struct {
	model *Model
	state *entity.State

	exists      bool
	force       bool
	replace     bool
	lazy        bool
	events      bool
	suffix      string
	connection  string
	sequence    string
	updateWhere squirrel.Sqlizer

	trashed  trashedMode
	useScope bool
	scopes   []query.NamedScope

	fields    []string
	relations map[string][]string
}

// Model returns the model the record belongs to.
func (r *Record) Model() *Model { return r.model }

// Exists reports whether the record is bound to a stored row.
func (r *Record) Exists() bool { return r.exists }

// IsEmpty reports whether the record has no attributes.
func (r *Record) IsEmpty() bool { return r.state.IsEmpty() }

// IsLazy reports whether a deferred save is pending.
func (r *Record) IsLazy() bool { return r.lazy }

// Set assigns field through its mutator, or casts it to the schema type.
func (r *Record) Set(field string, value any) error {
	def := &r.model.def
	if mut, ok := def.Mutators[field]; ok {
		v, err := mut(value, r.state.Data())
		if err != nil {
			return fmt.Errorf("%s.%s: %w", def.Name, field, err)
		}
		value = v
	} else if ft, ok := def.Schema[field]; ok {
		v, err := entity.Cast(ft, value)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", def.Name, field, err)
		}
		value = v
	}
	r.state.Set(field, value)
	return nil
}

// SetMany assigns every field of data. Fields are applied in key order so
// mutators see a deterministic state.
func (r *Record) SetMany(data map[string]any) error {
	for _, k := range query.SortedKeys(data) {
		if err := r.Set(k, data[k]); err != nil {
			return err
		}
	}
	return nil
}

// Fill assigns the db-tagged fields of a struct or struct pointer.
func (r *Record) Fill(v any) error {
	attrs := entity.FromStruct(v)
	if attrs == nil {
		return fmt.Errorf("%s: cannot fill from %T", r.model.def.Name, v)
	}
	return r.SetMany(attrs)
}

// Get returns the value of field through its accessor, if any.
func (r *Record) Get(field string) any {
	raw, _ := r.state.Get(field)
	acc, ok := r.model.def.Accessors[field]
	if !ok {
		return raw
	}
	return r.state.Cached(field, func() any {
		return acc(raw, r.state.Data())
	})
}

// Raw returns the stored value of field, bypassing accessors.
func (r *Record) Raw(field string) (any, bool) {
	return r.state.Get(field)
}

// Data returns a copy of the working data.
func (r *Record) Data() entity.Attributes { return r.state.Data() }

// Origin returns a copy of the last persisted snapshot.
func (r *Record) Origin() entity.Attributes { return r.state.Origin() }

// Changed returns the fields that differ from the snapshot.
func (r *Record) Changed() entity.Attributes { return r.state.Changed() }

// Key returns the working value of a single-column primary key.
func (r *Record) Key() any {
	if len(r.model.def.PK) != 1 {
		return nil
	}
	v, _ := r.state.Get(r.model.def.PK[0])
	return v
}

// Force makes the next Delete physical even when soft delete is enabled.
func (r *Record) Force(force bool) *Record {
	r.force = force
	return r
}

// Replace requests replace semantics for the next insert.
func (r *Record) Replace(replace bool) *Record {
	r.replace = replace
	return r
}

// SetSuffix switches the record to the table named by the model table plus suffix.
func (r *Record) SetSuffix(suffix string) *Record {
	r.suffix = suffix
	return r
}

// SetConnection switches the record to a named connection.
func (r *Record) SetConnection(name string) *Record {
	r.connection = name
	return r
}

// Sequence sets the sequence read for the generated key on insert.
func (r *Record) Sequence(name string) *Record {
	r.sequence = name
	return r
}

// SetUpdateWhere sets the row predicate used when the snapshot holds no key.
func (r *Record) SetUpdateWhere(where squirrel.Sqlizer) *Record {
	r.updateWhere = where
	return r
}

// AllowField replaces the write allow-list.
func (r *Record) AllowField(fields ...string) *Record {
	r.fields = slices.Clone(fields)
	return r
}

// WithEvents enables or disables lifecycle events for this record.
func (r *Record) WithEvents(enabled bool) *Record {
	r.events = enabled
	return r
}

// WithTrashed makes queries built from the record include soft-deleted rows.
func (r *Record) WithTrashed(with bool) *Record {
	if with {
		r.trashed = trashedInclude
	} else {
		r.trashed = trashedHide
	}
	return r
}

// Together declares a relation written by the cascader together with this
// record, and the fields of the record it writes.
func (r *Record) Together(relation string, fields ...string) *Record {
	if r.relations == nil {
		r.relations = make(map[string][]string)
	}
	r.relations[relation] = slices.Clone(fields)
	return r
}

// Relations returns the relation writes of the record.
func (r *Record) Relations() map[string][]string {
	out := make(map[string][]string, len(r.relations))
	for k, v := range r.relations {
		out[k] = slices.Clone(v)
	}
	return out
}

// readonly reports whether field is excluded from updates.
func (r *Record) readonly(field string) bool {
	return slices.Contains(r.model.def.Readonly, field)
}

// relationField reports whether field is written by a relation cascade.
func (r *Record) relationField(field string) bool {
	for _, fields := range r.relations {
		if slices.Contains(fields, field) {
			return true
		}
	}
	return false
}
