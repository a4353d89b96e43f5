package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := stderrors.New("disk on fire")

	// When: wrapping it
	err := New(ErrCodeStoreIO, "store put failed", originalErr)

	// Then: unwrapping returns the original
	require.NotNil(t, err)
	assert.Equal(t, originalErr, stderrors.Unwrap(err))
	assert.True(t, stderrors.Is(err, originalErr))
}

func TestError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{"schema", ErrCodeSchemaInvalid, "path is required", "[ERR_407_SCHEMA_INVALID] path is required"},
		{"timeout", ErrCodeNetworkTimeout, "history timed out", "[ERR_301_NETWORK_TIMEOUT] history timed out"},
		{"map", ErrCodeMapFailed, "boom", "[ERR_506_MAP_FAILED] boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, New(tt.code, tt.message, nil).Error())
		})
	}
}

func TestError_Is_MatchesByCode(t *testing.T) {
	// Given: two errors with the same code but different messages
	err1 := TimeoutError("info", nil)
	err2 := TimeoutError("history", nil)

	// Then: they match by code
	assert.True(t, stderrors.Is(err1, err2))
	assert.True(t, IsTimeout(err1))
	assert.False(t, stderrors.Is(err1, ErrSchema))
}

func TestPredicates_WalkWrappedChains(t *testing.T) {
	// Given: domain errors wrapped by fmt.Errorf
	timeout := fmt.Errorf("index dat://a: %w", TimeoutError("read /x", nil))
	mapErr := fmt.Errorf("view v: %w", MapError("dat://a/x.json", stderrors.New("bad json")))

	// Then: predicates see through the wrapping
	assert.True(t, IsTimeout(timeout))
	assert.True(t, IsRetryable(timeout))
	assert.False(t, IsTimeout(mapErr))
	assert.True(t, IsMap(mapErr))
	assert.Equal(t, ErrCodeMapFailed, GetCode(mapErr))
	assert.Equal(t, CategoryInternal, GetCategory(mapErr))
}

func TestError_WithDetailAndSuggestion(t *testing.T) {
	// Given: a base error
	err := New(ErrCodeViewNotFound, "view missing", nil)

	// When: adding context
	err = err.WithDetail("view", "by_author").WithSuggestion("Define the view first")

	// Then: context is available
	assert.Equal(t, "by_author", err.Details["view"])
	assert.Equal(t, "Define the view first", err.Suggestion)
}

func TestError_CategoryAndSeverityFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantCategory Category
		wantSeverity Severity
	}{
		{ErrCodeConfigInvalid, CategoryConfig, SeverityError},
		{ErrCodeStoreIO, CategoryIO, SeverityFatal},
		{ErrCodeKeyNotFound, CategoryIO, SeverityInfo},
		{ErrCodeNetworkTimeout, CategoryNetwork, SeverityWarning},
		{ErrCodeSchemaInvalid, CategoryValidation, SeverityError},
		{ErrCodeUnsupported, CategoryInternal, SeverityError},
		{"BAD", CategoryInternal, SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "x", nil)
			assert.Equal(t, tt.wantCategory, err.Category)
			assert.Equal(t, tt.wantSeverity, err.Severity)
		})
	}
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(StoreError("put", nil)))
	assert.False(t, IsFatal(SchemaError("bad")))
	assert.False(t, IsFatal(stderrors.New("plain")))
	assert.False(t, IsFatal(nil))
}
