// Package model is the active-record persistence pipeline: a Registry of
// model definitions, Model handles that query a table and Records that track
// their own persisted state and insert, update, delete and restore themselves.
package model

import (
	"context"

	"metarecord/internal/core/entity"
	"metarecord/internal/core/id"
	"metarecord/internal/core/query"
)

// TimestampType selects how automatic timestamps are written.
type TimestampType string

const (
	// TimestampDatetime writes a string formatted with the model's date format.
	TimestampDatetime TimestampType = "datetime"
	// TimestampInt writes unix seconds.
	TimestampInt TimestampType = "int"
	// TimestampTime writes a time.Time.
	TimestampTime TimestampType = "time"
)

// DefaultDateFormat is the layout used for TimestampDatetime.
const DefaultDateFormat = "2006-01-02 15:04:05"

// Disabled turns off an optional column such as CreateTime or UpdateTime.
const Disabled = "-"

// Mutator transforms a value before it is stored in the record.
type Mutator func(value any, data entity.Attributes) (any, error)

// Accessor derives the value returned by Record.Get. Results are cached until
// the field changes or the record is re-baselined.
type Accessor func(value any, data entity.Attributes) any

// KeyGenerator produces a primary key value for records inserted without one.
type KeyGenerator func() any

// UUIDKeys generates time-ordered UUID strings.
func UUIDKeys() any { return id.NewString() }

// Rule is a CEL expression evaluated against the record before every write.
// The expression sees `data` (map of current attributes) and `exists` (bool)
// and must evaluate to true for the write to proceed.
type Rule struct {
	Name    string
	Expr    string
	Message string
}

// Definition declares how records of one model are stored.
type Definition struct {
	Name       string
	Table      string // defaults to Name
	Connection string
	PK         []string // defaults to ["id"]

	// Fields is the write allow-list. When empty, the Schema keys are used,
	// and when there is no Schema either, the table's columns.
	Fields   []string
	Schema   map[string]entity.FieldType
	Disuse   []string
	Readonly []string

	// AutoTimestamp nil inherits the registry default.
	AutoTimestamp *bool
	CreateTime    string // defaults to "create_time"; Disabled turns it off
	UpdateTime    string // defaults to "update_time"; Disabled turns it off
	TimestampType TimestampType
	DateFormat    string

	// SoftDelete nil means detect from the presence of DeleteTime in the table.
	SoftDelete        *bool
	DeleteTime        string // defaults to "delete_time"
	DefaultSoftDelete any    // marker value of a live row, nil by default

	GlobalScopes []query.NamedScope

	// RelationWrite maps a relation name to the fields the cascade writes.
	// Those fields never go into the direct update payload.
	RelationWrite map[string][]string
	Cascader      Cascader

	Sequence     string
	KeyGenerator KeyGenerator

	Rules       []Rule
	CheckData   func(ctx context.Context, r *Record) error
	CheckResult func(ctx context.Context, r *Record, affected int64) error

	Mutators  map[string]Mutator
	Accessors map[string]Accessor
}

// Cascader writes related records. Every call runs inside the transaction of
// the primary row write.
type Cascader interface {
	CascadeInsert(ctx context.Context, r *Record) error
	CascadeUpdate(ctx context.Context, r *Record) error
	CascadeDelete(ctx context.Context, r *Record, force bool) error
}

// Bool returns a pointer to b, for the optional flags of Definition.
func Bool(b bool) *bool { return &b }
