// Package entity provides the attribute state of a record: the working data,
// the last-persisted snapshot and the accessor cache.
package entity

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
	"time"

	"github.com/shopspring/decimal"
)

// Attributes is a column->value map with type-safe accessors.
type Attributes map[string]any

// --- Type-safe getters ---

// GetString returns string value or empty string if not found/wrong type.
func (a Attributes) GetString(key string) string {
	switch v := a[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}

// GetStringOr returns string value or default if not found/wrong type.
func (a Attributes) GetStringOr(key, defaultVal string) string {
	if v := a.GetString(key); v != "" {
		return v
	}
	return defaultVal
}

// GetInt returns int64 value, handling json.Number and every integer width.
func (a Attributes) GetInt(key string) int64 {
	if n, ok := toInt64(a[key]); ok {
		return n
	}
	if f, ok := toFloat64(a[key]); ok {
		return int64(f)
	}
	return 0
}

// GetFloat returns float64 value, handling json.Number correctly.
func (a Attributes) GetFloat(key string) float64 {
	if f, ok := toFloat64(a[key]); ok {
		return f
	}
	return 0
}

// GetDecimal returns decimal.Decimal value with full precision.
// This is the preferred method for monetary values.
func (a Attributes) GetDecimal(key string) decimal.Decimal {
	if d, ok := toDecimal(a[key]); ok {
		return d
	}
	return decimal.Zero
}

// GetBool returns boolean value. Integer 0/1 columns are accepted.
func (a Attributes) GetBool(key string) bool {
	switch v := a[key].(type) {
	case bool:
		return v
	case nil:
		return false
	}
	if n, ok := toInt64(a[key]); ok {
		return n != 0
	}
	return false
}

// GetTime returns time.Time value or zero time.
func (a Attributes) GetTime(key string) time.Time {
	if v, ok := a[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

// Has checks if key exists (including nil values).
func (a Attributes) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// Clone creates a shallow copy.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	result := make(Attributes, len(a))
	for k, v := range a {
		result[k] = v
	}
	return result
}

// --- Value equality ---

// Equal compares two attribute values by value. Integers of any width compare
// numerically, times by instant, decimals by value and byte slices by content.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return isNil(a) && isNil(b)
	}

	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case decimal.Decimal:
		bv, ok := toDecimal(b)
		return ok && av.Equal(bv)
	case []byte:
		switch bv := b.(type) {
		case []byte:
			return bytes.Equal(av, bv)
		case string:
			return string(av) == bv
		}
		return false
	case string:
		switch bv := b.(type) {
		case string:
			return av == bv
		case []byte:
			return av == string(bv)
		case decimal.Decimal:
			return Equal(b, a)
		}
		return false
	}
	if _, ok := b.(decimal.Decimal); ok {
		return Equal(b, a)
	}

	if ai, ok := toInt64(a); ok {
		if bi, ok := toInt64(b); ok {
			return ai == bi
		}
	}
	if af, ok := toFloat64(a); ok {
		if bf, ok := toFloat64(b); ok {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case string:
		d, err := decimal.NewFromString(n)
		return d, err == nil
	case []byte:
		d, err := decimal.NewFromString(string(n))
		return d, err == nil
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case float32:
		return decimal.NewFromFloat32(n), true
	case float64:
		return decimal.NewFromFloat(n), true
	}
	if i, ok := toInt64(v); ok {
		return decimal.NewFromInt(i), true
	}
	return decimal.Zero, false
}
