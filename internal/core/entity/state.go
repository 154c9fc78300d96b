package entity

import (
	"github.com/Masterminds/squirrel"
)

// State tracks the working data of a record against its last-persisted snapshot.
//
// origin is only moved by Rebaseline and Reset, which the persistence pipeline
// calls after a committed write or a reload. Setters never touch it.
type State struct {
	current Attributes
	origin  Attributes
	cache   map[string]any
}

// NewState creates a state whose snapshot equals data.
func NewState(data map[string]any) *State {
	cur := Attributes(data).Clone()
	if cur == nil {
		cur = make(Attributes)
	}
	return &State{
		current: cur,
		origin:  cur.Clone(),
		cache:   make(map[string]any),
	}
}

// Set assigns one field and drops its cached accessor value.
func (s *State) Set(field string, value any) {
	s.current[field] = value
	delete(s.cache, field)
}

// SetMany merges fields into the working data.
func (s *State) SetMany(fields map[string]any) {
	for k, v := range fields {
		s.Set(k, v)
	}
}

// Unset removes a field from the working data.
func (s *State) Unset(field string) {
	delete(s.current, field)
	delete(s.cache, field)
}

// Get returns the raw working value.
func (s *State) Get(field string) (any, bool) {
	v, ok := s.current[field]
	return v, ok
}

// Data returns a copy of the working data.
func (s *State) Data() Attributes {
	return s.current.Clone()
}

// Origin returns a copy of the snapshot.
func (s *State) Origin() Attributes {
	return s.origin.Clone()
}

// OriginValue returns a snapshot value.
func (s *State) OriginValue(field string) (any, bool) {
	v, ok := s.origin[field]
	return v, ok
}

// IsEmpty reports whether the working data has no fields.
func (s *State) IsEmpty() bool {
	return len(s.current) == 0
}

// Changed returns the fields whose working value differs from the snapshot.
func (s *State) Changed() Attributes {
	changed := make(Attributes)
	for k, v := range s.current {
		old, ok := s.origin[k]
		if !ok || !Equal(old, v) {
			changed[k] = v
		}
	}
	return changed
}

// IsDirty reports whether field differs from the snapshot.
func (s *State) IsDirty(field string) bool {
	v, ok := s.current[field]
	if !ok {
		return false
	}
	old, had := s.origin[field]
	return !had || !Equal(old, v)
}

// Rebaseline makes the working data the new snapshot and clears accessor results.
func (s *State) Rebaseline() {
	s.origin = s.current.Clone()
	s.cache = make(map[string]any)
}

// Reset replaces both working data and snapshot, e.g. after a reload.
func (s *State) Reset(data map[string]any) {
	s.current = Attributes(data).Clone()
	if s.current == nil {
		s.current = make(Attributes)
	}
	s.Rebaseline()
}

// Cached returns the memoised accessor result for field, computing it once.
func (s *State) Cached(field string, compute func() any) any {
	if v, ok := s.cache[field]; ok {
		return v
	}
	v := compute()
	s.cache[field] = v
	return v
}

// KeyValue returns the snapshot value of a single-column key.
func (s *State) KeyValue(pk string) (any, bool) {
	v, ok := s.origin[pk]
	if !ok || isNil(v) {
		return nil, false
	}
	return v, true
}

// ResolveKey builds the row predicate from the snapshot key values. A composite
// key uses the key fields present in the snapshot. When no key value is known the
// explicit fallback condition is used; ok is false when neither is available.
func (s *State) ResolveKey(pk []string, fallback squirrel.Sqlizer) (pred squirrel.Sqlizer, ok bool) {
	eq := squirrel.Eq{}
	for _, field := range pk {
		if v, ok := s.KeyValue(field); ok {
			eq[field] = v
		}
	}
	if len(eq) > 0 {
		return eq, true
	}
	if fallback != nil {
		return fallback, true
	}
	return nil, false
}

// Sync sets field in both the working data and the snapshot, for a single
// column the pipeline has just written on its own.
func (s *State) Sync(field string, value any) {
	s.current[field] = value
	s.origin[field] = value
	delete(s.cache, field)
}
