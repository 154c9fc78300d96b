// Package apperror provides structured error handling for the persistence layer.
// Contract violations (empty payload, missing key, invalid definitions) are AppErrors;
// declined operations (vetoes, no-op deletes) are reported as false results, never as errors.
package apperror

import (
	"errors"
	"fmt"
)

// Error codes
const (
	// Infrastructure errors
	CodeInternal = "INTERNAL_ERROR"
	CodeDatabase = "DATABASE_ERROR"

	// Contract violations
	CodeEmptyData         = "EMPTY_DATA"
	CodeMissingKey        = "MISSING_KEY"
	CodeValidation        = "VALIDATION_ERROR"
	CodeInvalidDefinition = "INVALID_DEFINITION"

	// Lookups
	CodeNotFound = "NOT_FOUND"

	// Conflicts
	CodeConflict  = "CONFLICT"
	CodeDuplicate = "DUPLICATE_ENTRY"

	// Relation cascade
	CodeCascade = "CASCADE_FAILED"
)

// AppError is the standard error type of the module.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (model, table, field...)
	Details map[string]any `json:"details,omitempty"`

	// Err is the underlying error
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code, so sentinels work with errors.Is.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions ---

// New creates an error with an arbitrary code.
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// NewEmptyData is returned when a save is attempted on a record without attributes.
func NewEmptyData(model string) *AppError {
	return &AppError{
		Code:    CodeEmptyData,
		Message: "no data to write",
		Details: map[string]any{"model": model},
	}
}

// NewMissingKey is returned when neither the primary key nor an explicit
// update condition can identify the target row.
func NewMissingKey(model string, pk []string) *AppError {
	return &AppError{
		Code:    CodeMissingKey,
		Message: fmt.Sprintf("%s: cannot resolve row predicate", model),
		Details: map[string]any{"model": model, "pk": pk},
	}
}

// NewValidation creates a validation error
func NewValidation(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

// NewInvalidDefinition reports a model definition that cannot be registered.
func NewInvalidDefinition(model, message string) *AppError {
	return &AppError{
		Code:    CodeInvalidDefinition,
		Message: message,
		Details: map[string]any{"model": model},
	}
}

// NewNotFound creates a not found error
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", entity),
		Details: map[string]any{"entity": entity, "id": id},
	}
}

// NewConflict creates a conflict error
func NewConflict(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
	}
}

// NewDuplicate creates a duplicate entry error
func NewDuplicate(entity, constraint string) *AppError {
	return &AppError{
		Code:    CodeDuplicate,
		Message: fmt.Sprintf("%s violates unique constraint", entity),
		Details: map[string]any{"entity": entity, "constraint": constraint},
	}
}

// NewCascade wraps a relation cascade failure.
func NewCascade(model, op string, err error) *AppError {
	return &AppError{
		Code:    CodeCascade,
		Message: fmt.Sprintf("%s: relation cascade on %s failed", model, op),
		Details: map[string]any{"model": model, "operation": op},
		Err:     err,
	}
}

// NewInternal creates an internal error
func NewInternal(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal error",
		Err:     err,
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	return HasCode(err, CodeNotFound)
}
