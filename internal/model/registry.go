package model

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"metarecord/internal/core/apperror"
	"metarecord/internal/core/event"
	"metarecord/internal/core/query"
	"metarecord/pkg/logger"
)

// Defaults are registry-wide settings a Definition inherits when it leaves
// the corresponding field unset.
type Defaults struct {
	AutoTimestamp bool
	TimestampType TimestampType
	DateFormat    string
	DeleteTime    string
}

// DefaultDefaults returns the settings used when the registry is not configured.
func DefaultDefaults() Defaults {
	return Defaults{
		AutoTimestamp: false,
		TimestampType: TimestampDatetime,
		DateFormat:    DefaultDateFormat,
		DeleteTime:    "delete_time",
	}
}

// Registry owns the model definitions of a process and the collaborators
// their records use. Models are registered at startup and read afterwards.
type Registry struct {
	conns    query.Connector
	gate     *event.Gate
	log      *logger.Logger
	now      func() time.Time
	observer Observer
	cascader Cascader
	defaults Defaults

	mu     sync.RWMutex
	models map[string]*Model
}

// Option configures a Registry.
type Option func(*Registry)

// WithGate shares an existing event gate.
func WithGate(g *event.Gate) Option {
	return func(r *Registry) { r.gate = g }
}

// WithLogger sets the registry logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithClock overrides the time source used for timestamps and soft delete markers.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithObserver installs an operation observer, e.g. a metrics collector.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// WithCascader sets the cascader used by models that declare relation writes
// but no cascader of their own.
func WithCascader(c Cascader) Option {
	return func(r *Registry) { r.cascader = c }
}

// WithDefaults sets the definition defaults.
func WithDefaults(d Defaults) Option {
	return func(r *Registry) { r.defaults = d }
}

// NewRegistry creates a registry resolving connections through conns.
func NewRegistry(conns query.Connector, opts ...Option) *Registry {
	r := &Registry{
		conns:    conns,
		gate:     event.NewGate(),
		now:      time.Now,
		observer: nopObserver{},
		defaults: DefaultDefaults(),
		models:   make(map[string]*Model),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Default()
	}
	r.log = r.log.WithComponent("model")
	return r
}

// Gate returns the event gate shared by every model of the registry.
func (r *Registry) Gate() *event.Gate { return r.gate }

// Register validates def, applies defaults and makes the model available by name.
func (r *Registry) Register(def Definition) (*Model, error) {
	def, err := r.normalize(def)
	if err != nil {
		return nil, err
	}

	rules, err := compileRules(def.Name, def.Rules)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.models[def.Name]; exists {
		return nil, apperror.NewInvalidDefinition(def.Name, "model already registered")
	}

	m := &Model{
		reg:    r,
		def:    def,
		rules:  rules,
		tables: make(map[string]*TableInfo),
	}
	r.models[def.Name] = m
	return m, nil
}

// MustRegister is Register for static definitions; it panics on error.
func (r *Registry) MustRegister(def Definition) *Model {
	m, err := r.Register(def)
	if err != nil {
		panic(err)
	}
	return m
}

// Model returns a registered model.
func (r *Registry) Model(name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// Models returns the registered model names in sorted order.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// On registers a listener for event on every model of the registry.
// Model-specific listeners run first.
func (r *Registry) On(name event.Name, l Listener) {
	r.gate.Listen(globalKey(name), l.handler())
}

func (r *Registry) normalize(def Definition) (Definition, error) {
	if def.Name == "" {
		return def, apperror.NewInvalidDefinition("", "model name is required")
	}
	if def.Table == "" {
		def.Table = def.Name
	}
	if len(def.PK) == 0 {
		def.PK = []string{"id"}
	}
	def.PK = slices.Clone(def.PK)

	if def.AutoTimestamp == nil {
		def.AutoTimestamp = Bool(r.defaults.AutoTimestamp)
	}
	def.CreateTime = columnOrDefault(def.CreateTime, "create_time")
	def.UpdateTime = columnOrDefault(def.UpdateTime, "update_time")

	if def.TimestampType == "" {
		def.TimestampType = r.defaults.TimestampType
	}
	switch def.TimestampType {
	case TimestampDatetime, TimestampInt, TimestampTime:
	case "":
		def.TimestampType = TimestampDatetime
	default:
		return def, apperror.NewInvalidDefinition(def.Name,
			fmt.Sprintf("unknown timestamp type %q", def.TimestampType))
	}
	if def.DateFormat == "" {
		def.DateFormat = r.defaults.DateFormat
	}
	if def.DateFormat == "" {
		def.DateFormat = DefaultDateFormat
	}

	if def.DeleteTime == "" {
		def.DeleteTime = r.defaults.DeleteTime
	}
	if def.DeleteTime == "" {
		def.DeleteTime = "delete_time"
	}

	seen := make(map[string]bool, len(def.GlobalScopes))
	for _, s := range def.GlobalScopes {
		if s.Name == "" || s.Apply == nil {
			return def, apperror.NewInvalidDefinition(def.Name, "global scope needs a name and a function")
		}
		if seen[s.Name] {
			return def, apperror.NewInvalidDefinition(def.Name,
				fmt.Sprintf("duplicate global scope %q", s.Name))
		}
		seen[s.Name] = true
	}
	def.GlobalScopes = slices.Clone(def.GlobalScopes)

	if len(def.RelationWrite) > 0 && def.Cascader == nil {
		if r.cascader == nil {
			return def, apperror.NewInvalidDefinition(def.Name, "relation writes declared without a cascader")
		}
		def.Cascader = r.cascader
	}
	return def, nil
}

func columnOrDefault(col, def string) string {
	switch col {
	case "":
		return def
	case Disabled:
		return ""
	}
	return col
}

func (r *Registry) conn(name string) (query.Conn, error) {
	if r.conns == nil {
		return nil, fmt.Errorf("registry has no connections")
	}
	return r.conns.Conn(name)
}

// Observer receives the outcome of every pipeline operation.
type Observer interface {
	ObserveOperation(ctx context.Context, model, op string, result Result, elapsed time.Duration)
}

// Result classifies a pipeline operation.
type Result string

const (
	ResultOK       Result = "ok"
	ResultDeclined Result = "declined"
	ResultError    Result = "error"
)

type nopObserver struct{}

func (nopObserver) ObserveOperation(context.Context, string, string, Result, time.Duration) {}
