package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is the structured error type for mapview.
// It carries enough context for logging, CLI output and MCP responses.
type Error struct {
	// Code is the unique error code (e.g., "ERR_407_SCHEMA_INVALID").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code so sentinel values work with errors.Is.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// New creates a new Error with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an Error from an existing error.
// The error's message becomes the Error message.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is checks. Only the code is compared.
var (
	ErrNotFound    = New(ErrCodeKeyNotFound, "not found", nil)
	ErrTimeout     = New(ErrCodeNetworkTimeout, "timed out", nil)
	ErrSchema      = New(ErrCodeSchemaInvalid, "invalid view definition", nil)
	ErrMap         = New(ErrCodeMapFailed, "map failed", nil)
	ErrStore       = New(ErrCodeStoreIO, "store failure", nil)
	ErrUnsupported = New(ErrCodeUnsupported, "unsupported operation", nil)
	ErrNotOpen     = New(ErrCodeNotOpen, "database is not open", nil)
)

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *Error {
	return New(ErrCodeConfigInvalid, message, cause)
}

// SchemaError reports an invalid view definition.
func SchemaError(message string) *Error {
	return New(ErrCodeSchemaInvalid, message, nil).
		WithSuggestion("A view needs at least one path pattern and a map function")
}

// TimeoutError reports an archive read that did not complete in time.
func TimeoutError(op string, cause error) *Error {
	return New(ErrCodeNetworkTimeout, op+" timed out", cause)
}

// MapError reports a map function failure for one file.
func MapError(file string, cause error) *Error {
	return New(ErrCodeMapFailed, fmt.Sprintf("map failed for %s", file), cause).
		WithDetail("file", file)
}

// StoreError reports an I/O failure in the ordered store.
func StoreError(op string, cause error) *Error {
	return New(ErrCodeStoreIO, fmt.Sprintf("store %s failed", op), cause)
}

// UnsupportedError reports an operation the backing store cannot perform.
func UnsupportedError(message string) *Error {
	return New(ErrCodeUnsupported, message, nil)
}

// NotFoundError reports a missing key or file.
func NotFoundError(message string) *Error {
	return New(ErrCodeKeyNotFound, message, nil)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *Error {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *Error {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if any Error in the chain is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Severity == SeverityFatal
	}
	return false
}

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool { return stderrors.Is(err, ErrTimeout) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return stderrors.Is(err, ErrNotFound) }

// IsSchema reports whether err is a SchemaError, including duplicate and
// unknown view names.
func IsSchema(err error) bool {
	switch GetCode(err) {
	case ErrCodeSchemaInvalid, ErrCodeViewExists, ErrCodeViewNotFound:
		return true
	}
	return false
}

// IsMap reports whether err is a MapError.
func IsMap(err error) bool { return stderrors.Is(err, ErrMap) }

// IsUnsupported reports whether err is an UnsupportedError.
func IsUnsupported(err error) bool { return stderrors.Is(err, ErrUnsupported) }

// GetCode extracts the error code from the first Error in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// GetCategory extracts the category from the first Error in the chain.
func GetCategory(err error) Category {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Category
	}
	return ""
}
