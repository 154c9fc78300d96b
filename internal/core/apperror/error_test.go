package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_IsMatchesByCode(t *testing.T) {
	sentinel := New(CodeMissingKey, "missing key")
	err := fmt.Errorf("update: %w", NewMissingKey("user", []string{"id"}))

	assert.True(t, errors.Is(err, sentinel))
	assert.False(t, errors.Is(err, New(CodeEmptyData, "")))
}

func TestAppError_ErrorIncludesCause(t *testing.T) {
	cause := errors.New("boom")
	err := NewCascade("order", "update", cause)

	assert.Contains(t, err.Error(), "CASCADE_FAILED")
	assert.Contains(t, err.Error(), "boom")
	assert.True(t, errors.Is(err, cause))
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewNotFound("user", 7).WithDetail("table", "users"))

	assert.True(t, IsNotFound(err))
	assert.True(t, HasCode(err, CodeNotFound))
	assert.False(t, HasCode(errors.New("plain"), CodeNotFound))

	appErr, ok := AsAppError(err)
	assert.True(t, ok)
	assert.Equal(t, "users", appErr.Details["table"])
}
