package entity

import (
	"reflect"
	"strings"
	"sync"
)

// Columns extracts column names from the "db" tags of T, descending into
// embedded structs. Called once per type at definition time, so reflection
// cost is acceptable.
//
// Usage:
//
//	cols := entity.Columns[User]()
//	// Returns: ["id", "name", "email", ...]
func Columns[T any]() []string {
	var zero T
	meta := typeMeta(reflect.TypeOf(zero))
	if meta == nil {
		return nil
	}
	cols := make([]string, 0, len(meta.fields))
	for _, f := range meta.fields {
		cols = append(cols, f.column)
	}
	return cols
}

// column binds a db tag to its (possibly nested) field index.
type column struct {
	index  []int
	column string
}

type structMeta struct {
	fields []column
}

// metaCache holds reflection metadata per struct type.
var metaCache sync.Map // map[reflect.Type]*structMeta

func typeMeta(t reflect.Type) *structMeta {
	if t == nil {
		return nil
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	if cached, ok := metaCache.Load(t); ok {
		return cached.(*structMeta)
	}

	meta := &structMeta{}
	collectColumns(t, nil, meta)
	metaCache.Store(t, meta)
	return meta
}

func collectColumns(t reflect.Type, prefix []int, meta *structMeta) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		index := append(append([]int(nil), prefix...), i)

		if field.Anonymous {
			ft := field.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				collectColumns(ft, index, meta)
			}
			continue
		}
		if !field.IsExported() {
			continue
		}

		tag := field.Tag.Get("db")
		name, _, _ := strings.Cut(tag, ",")
		if name == "" || name == "-" {
			continue
		}
		meta.fields = append(meta.fields, column{index: index, column: name})
	}
}

// FromStruct converts a tagged struct (or pointer to one) into Attributes.
// Fields behind nil embedded pointers are skipped.
func FromStruct(v any) Attributes {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	meta := typeMeta(rv.Type())
	if meta == nil {
		return nil
	}

	out := make(Attributes, len(meta.fields))
	for _, f := range meta.fields {
		fv, err := rv.FieldByIndexErr(f.index)
		if err != nil {
			continue
		}
		out[f.column] = fv.Interface()
	}
	return out
}
