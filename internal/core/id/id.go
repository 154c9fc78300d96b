// Package id provides UUIDv7 generation for record keys.
// UUIDv7 is time-ordered, so generated keys sort by creation time and keep
// B-tree inserts local.
package id

import (
	"github.com/google/uuid"
)

// ID is a type alias for UUID.
type ID = uuid.UUID

// New generates a new UUIDv7 (time-ordered UUID).
func New() ID {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to V4 if V7 fails (should never happen)
		return uuid.New()
	}
	return id
}

// NewString returns a new UUIDv7 in its canonical text form.
// Records keep key values as plain strings so they compare equal to values
// read back from any driver.
func NewString() string {
	return New().String()
}
