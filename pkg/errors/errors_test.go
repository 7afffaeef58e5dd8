package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorIsMatchesTypeAndCode(t *testing.T) {
	err := ErrBadModelFile.WithDetails("bad magic 0x00000000")
	assert.True(t, errors.Is(err, ErrBadModelFile))
	assert.False(t, errors.Is(err, ErrArchitectureMismatch))

	wrapped := fmt.Errorf("loading model: %w", err)
	assert.True(t, errors.Is(wrapped, ErrBadModelFile))
}

func TestWithDetailsDoesNotMutateSentinel(t *testing.T) {
	_ = ErrArchitectureMismatch.WithDetails("hidden size 16 != 32").WithContext("file", "m.bin")
	assert.Empty(t, ErrArchitectureMismatch.Details)
	assert.Nil(t, ErrArchitectureMismatch.Context)
}

func TestWrapError(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapError(cause, ErrorTypeStorage, CodeWriteFailed, "failed to write sample")

	assert.Equal(t, cause, errors.Unwrap(err))
	assert.Contains(t, err.Error(), "WRITE_FAILED")
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 404, err.HTTPStatus)
	assert.False(t, err.Retryable)
}

func TestRetryable(t *testing.T) {
	err := WrapError(ErrConnectionFailed, ErrorTypeStorage, CodeConnectionFailed, "redis unreachable")
	assert.True(t, err.Retryable)
	assert.True(t, IsRetryable(fmt.Errorf("ctx: %w", err)))
	assert.True(t, NewNetworkError("TIMEOUT", "slow").Retryable)
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestValidationErrors(t *testing.T) {
	ve := NewValidationErrors()
	require.NoError(t, ve.ErrOrNil())

	ve.Add("hidden_size", CodeOutOfRange, "must be positive", 0)
	ve.Add("num_layers", CodeOutOfRange, "must be positive", -1)

	require.Error(t, ve.ErrOrNil())
	assert.True(t, ve.HasErrors())
	assert.Contains(t, ve.Error(), "hidden_size must be positive")
	assert.Contains(t, ve.Error(), "and 1 more")
}
