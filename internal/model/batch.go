package model

import (
	"context"
	"reflect"

	"github.com/Masterminds/squirrel"

	"metarecord/internal/core/apperror"
	"metarecord/internal/core/query"
)

// CreateOptions tunes Model.Create.
type CreateOptions struct {
	AllowFields []string
	Replace     bool
	Suffix      string
}

// Create saves a new record built from data. A vetoed insert returns the
// unsaved record and no error; check Exists.
func (m *Model) Create(ctx context.Context, data map[string]any, opts CreateOptions) (*Record, error) {
	r := m.New(nil)
	if len(opts.AllowFields) > 0 {
		r.AllowField(opts.AllowFields...)
	}
	r.SetSuffix(opts.Suffix).Replace(opts.Replace)

	if _, err := r.Save(ctx, data); err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateOptions tunes Model.UpdateRow.
type UpdateOptions struct {
	// Where identifies the row; its key column, if present, takes precedence
	// over the key in data.
	Where       squirrel.Eq
	AllowFields []string
	Suffix      string
}

// UpdateRow loads the row identified by the key in opts.Where or data and
// saves data to it.
func (m *Model) UpdateRow(ctx context.Context, data map[string]any, opts UpdateOptions) (*Record, error) {
	key, err := m.rowKey(data, opts.Where)
	if err != nil {
		return nil, err
	}

	r, err := m.Suffix(opts.Suffix).Find(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(opts.AllowFields) > 0 {
		r.AllowField(opts.AllowFields...)
	}
	if len(opts.Where) > 0 {
		r.SetUpdateWhere(opts.Where)
	}

	if _, err := r.Save(ctx, data); err != nil {
		return nil, err
	}
	return r, nil
}

func (m *Model) rowKey(data map[string]any, where squirrel.Eq) (any, error) {
	key := make(map[string]any, len(m.def.PK))
	for _, field := range m.def.PK {
		if v, ok := where[field]; ok && !emptyValue(v) {
			key[field] = v
			continue
		}
		if v, ok := data[field]; ok && !emptyValue(v) {
			key[field] = v
			continue
		}
		return nil, apperror.NewMissingKey(m.def.Name, m.def.PK)
	}
	if len(m.def.PK) == 1 {
		return key[m.def.PK[0]], nil
	}
	return key, nil
}

// SaveAll writes rows in one transaction. With replace, a row carrying every
// key column updates the stored row; any other row is inserted.
func (m *Model) SaveAll(ctx context.Context, rows []map[string]any, replace bool) ([]*Record, error) {
	conn, err := m.reg.conn(m.def.Connection)
	if err != nil {
		return nil, err
	}

	out := make([]*Record, 0, len(rows))
	err = conn.RunInTransaction(ctx, func(ctx context.Context) error {
		for _, row := range rows {
			var (
				r   *Record
				err error
			)
			if replace && m.hasKeys(row) {
				r, err = m.UpdateRow(ctx, row, UpdateOptions{})
			} else {
				r, err = m.Create(ctx, row, CreateOptions{AllowFields: m.def.Fields})
			}
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Model) hasKeys(row map[string]any) bool {
	for _, field := range m.def.PK {
		if v, ok := row[field]; !ok || emptyValue(v) {
			return false
		}
	}
	return true
}

// Destroy deletes the records selected by target in one transaction. target
// is a key, a slice of keys, a squirrel predicate or a func(*query.Builder).
// Soft-deleted rows are selected, and physically removed, only when force is
// set. An empty target deletes nothing and returns false.
func (m *Model) Destroy(ctx context.Context, target any, force bool) (bool, error) {
	if emptyValue(target) {
		return false, nil
	}

	plan := m.finder().plan
	plan.opts = ScopeOptions{SkipModel: true}
	if force {
		plan.trashed = trashedInclude
	}
	f := Finder{m: m, plan: plan}

	shape, err := m.destroyShape(target)
	if err != nil {
		return false, err
	}

	conn, err := m.reg.conn(plan.connection)
	if err != nil {
		return false, err
	}

	err = conn.RunInTransaction(ctx, func(ctx context.Context) error {
		recs, err := f.Select(ctx, shape)
		if err != nil {
			return err
		}
		for _, r := range recs {
			if _, err := r.Force(force).Delete(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *Model) destroyShape(target any) (func(*query.Builder), error) {
	var pred squirrel.Sqlizer
	switch t := target.(type) {
	case func(*query.Builder):
		return t, nil
	case squirrel.Sqlizer:
		pred = t
	case []any:
		p, err := m.keysPredicate(t)
		if err != nil {
			return nil, err
		}
		pred = p
	default:
		if rv := reflect.ValueOf(target); rv.Kind() == reflect.Slice {
			keys := make([]any, rv.Len())
			for i := range keys {
				keys[i] = rv.Index(i).Interface()
			}
			p, err := m.keysPredicate(keys)
			if err != nil {
				return nil, err
			}
			pred = p
		} else {
			p, err := m.keyPredicate(target)
			if err != nil {
				return nil, err
			}
			pred = p
		}
	}
	return func(b *query.Builder) { b.Where(pred) }, nil
}

// emptyValue reports nil, "" and empty collections. Zero numbers are valid keys.
func emptyValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map:
		return rv.Len() == 0
	case reflect.Ptr, reflect.Func, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
