package entity

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FieldType is the declared storage type of a column.
type FieldType string

const (
	TypeInt      FieldType = "int"
	TypeFloat    FieldType = "float"
	TypeString   FieldType = "string"
	TypeBool     FieldType = "bool"
	TypeDecimal  FieldType = "decimal"
	TypeJSON     FieldType = "json"
	TypeDatetime FieldType = "datetime"
)

// Cast converts v to the representation used for ft. nil is kept as nil.
// Unknown types pass v through unchanged.
func Cast(ft FieldType, v any) (any, error) {
	if isNil(v) {
		return nil, nil
	}

	switch ft {
	case TypeInt:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
		switch x := v.(type) {
		case float32, float64, json.Number:
			f, _ := toFloat64(x)
			return int64(f), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cast %q to int: %w", x, err)
			}
			return n, nil
		case bool:
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		}

	case TypeFloat:
		if f, ok := toFloat64(v); ok {
			return f, nil
		}
		if x, ok := v.(string); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, fmt.Errorf("cast %q to float: %w", x, err)
			}
			return f, nil
		}

	case TypeString:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		case fmt.Stringer:
			return x.String(), nil
		}
		return fmt.Sprint(v), nil

	case TypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return nil, fmt.Errorf("cast %q to bool: %w", x, err)
			}
			return b, nil
		}
		if n, ok := toInt64(v); ok {
			return n != 0, nil
		}

	case TypeDecimal:
		if d, ok := toDecimal(v); ok {
			return d, nil
		}
		return nil, fmt.Errorf("cast %T to decimal", v)

	case TypeJSON:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("cast to json: %w", err)
		}
		return string(raw), nil

	case TypeDatetime:
		switch x := v.(type) {
		case time.Time, string:
			return x, nil
		}
		if n, ok := toInt64(v); ok {
			return time.Unix(n, 0).UTC(), nil
		}

	default:
		return v, nil
	}

	return nil, fmt.Errorf("cannot cast %T to %s", v, ft)
}
