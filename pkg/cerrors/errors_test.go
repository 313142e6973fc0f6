package cerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without underlying error",
			err:      New(CodeBackingStoreError, "connection failed"),
			expected: "[BACKING_STORE_ERROR] connection failed",
		},
		{
			name:     "with underlying error",
			err:      Wrap(CodeCheckpointError, "write failed", errors.New("deadlock detected")),
			expected: "[CHECKPOINT_ERROR] write failed: deadlock detected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeEquivalenceViolation, "collapse mismatch", underlying)

	assert.Equal(t, underlying, err.Unwrap())
}

func TestAppError_Is(t *testing.T) {
	err1 := New(CodeBackingStoreError, "error 1")
	err2 := New(CodeBackingStoreError, "error 2")
	err3 := New(CodeCheckpointError, "error 3")

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, err3))
}

func TestIsInconsistentInput(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"inconsistent input", ErrInconsistentInput, true},
		{"wrapped inconsistent input", Wrap(CodeInconsistentInput, "missing predecessor", errors.New("group 7")), true},
		{"other error", ErrCheckpointError, false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsInconsistentInput(tt.err))
		})
	}
}

func TestIsEquivalenceViolation(t *testing.T) {
	assert.True(t, IsEquivalenceViolation(ErrEquivalenceViolation))
	assert.False(t, IsEquivalenceViolation(ErrBackingStoreError))
}

func TestIsBackingStoreError(t *testing.T) {
	assert.True(t, IsBackingStoreError(ErrBackingStoreError))
	assert.False(t, IsBackingStoreError(ErrCheckpointError))
}

func TestIsCheckpointError(t *testing.T) {
	assert.True(t, IsCheckpointError(ErrCheckpointError))
	assert.False(t, IsCheckpointError(ErrBackingStoreError))
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"app error", New(CodeBackingStoreError, "db error"), CodeBackingStoreError},
		{"wrapped app error", Wrap(CodeCheckpointError, "write", errors.New("inner")), CodeCheckpointError},
		{"standard error", errors.New("standard error"), CodeUnknown},
		{"nil error", nil, CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetErrorCode(tt.err))
		})
	}
}

func TestGetErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"app error", New(CodeBackingStoreError, "db connection failed"), "db connection failed"},
		{"standard error", errors.New("standard error"), "standard error"},
		{"nil error", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetErrorMessage(tt.err))
		})
	}
}
