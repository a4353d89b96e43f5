// Package errors provides structured error handling for mapview.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage and archive IO errors
//   - 3XX: Archive reachability errors
//   - 4XX: Validation and schema errors
//   - 5XX: Internal and indexing errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates store and file I/O errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates an archive could not be reached.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input or schema validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates indexing and unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeFileNotFound = "ERR_201_FILE_NOT_FOUND"
	ErrCodeStoreLocked  = "ERR_203_STORE_LOCKED"
	ErrCodeCorruptIndex = "ERR_205_CORRUPT_INDEX"
	ErrCodeKeyNotFound  = "ERR_207_KEY_NOT_FOUND"
	ErrCodeStoreIO      = "ERR_208_STORE_IO"

	// Network errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeArchiveUnavailable = "ERR_302_ARCHIVE_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput  = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidKey    = "ERR_403_INVALID_KEY"
	ErrCodeInvalidPath   = "ERR_406_INVALID_PATH"
	ErrCodeSchemaInvalid = "ERR_407_SCHEMA_INVALID"
	ErrCodeViewExists    = "ERR_408_VIEW_EXISTS"
	ErrCodeViewNotFound  = "ERR_409_VIEW_NOT_FOUND"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeIndexFailed  = "ERR_505_INDEX_FAILED"
	ErrCodeMapFailed    = "ERR_506_MAP_FAILED"
	ErrCodeReduceFailed = "ERR_507_REDUCE_FAILED"
	ErrCodeNotOpen      = "ERR_509_NOT_OPEN"
	ErrCodeUnsupported  = "ERR_510_UNSUPPORTED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "101" from "ERR_101_CONFIG_NOT_FOUND")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeStoreIO:
		return SeverityFatal
	case ErrCodeKeyNotFound:
		return SeverityInfo
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeArchiveUnavailable, ErrCodeStoreLocked:
		return true
	default:
		return false
	}
}
