// Package errors provides structured error types with fix suggestions for CloudTracker.
// These error types wrap config, IAM, and backend failures and provide actionable
// guidance on how to resolve them.
package errors

// TrackerError provides additional context for error handling.
// It wraps underlying errors with error codes and actionable suggestions.
type TrackerError interface {
	error
	Unwrap() error              // Original error
	Code() string               // Error code (e.g., "BACKEND_QUERY_FAILED")
	Suggestion() string         // Actionable fix suggestion
	Context() map[string]string // Additional context (account, query id, etc.)
}

// Config error codes
const (
	ErrCodeConfigUnreadable       = "CONFIG_UNREADABLE"
	ErrCodeConfigUnknownAccount   = "CONFIG_UNKNOWN_ACCOUNT"
	ErrCodeConfigInvalidAccountID = "CONFIG_INVALID_ACCOUNT_ID"
	ErrCodeConfigMissingField     = "CONFIG_MISSING_FIELD"
)

// IAM snapshot error codes
const (
	ErrCodeIamUnreadable      = "IAM_UNREADABLE"
	ErrCodeIamUnknownUser     = "IAM_UNKNOWN_USER"
	ErrCodeIamUnknownRole     = "IAM_UNKNOWN_ROLE"
	ErrCodeIamMalformedPolicy = "IAM_MALFORMED_POLICY"
)

// Backend setup error codes
const (
	ErrCodeBackendSetupFailed    = "BACKEND_SETUP_FAILED"
	ErrCodeBackendEmptyLogs      = "BACKEND_EMPTY_LOGS"
	ErrCodeBackendStaleDateRange = "BACKEND_STALE_DATE_RANGE"
)

// Backend query error codes
const (
	ErrCodeBackendQueryFailed = "BACKEND_QUERY_FAILED"
	ErrCodeBackendTimeout     = "BACKEND_TIMEOUT"
)

// Feature error codes
const (
	ErrCodeUnsupportedFeature = "UNSUPPORTED_FEATURE"
)

// trackerError implements the TrackerError interface.
type trackerError struct {
	code       string
	message    string
	suggestion string
	context    map[string]string
	cause      error
}

// Error implements the error interface.
func (e *trackerError) Error() string {
	return e.message
}

// Unwrap returns the underlying cause error.
func (e *trackerError) Unwrap() error {
	return e.cause
}

// Code returns the error code.
func (e *trackerError) Code() string {
	return e.code
}

// Suggestion returns the actionable fix suggestion.
func (e *trackerError) Suggestion() string {
	return e.suggestion
}

// Context returns additional context about the error.
func (e *trackerError) Context() map[string]string {
	return e.context
}

// New creates a new TrackerError with the given code, message, suggestion, and cause.
func New(code, message, suggestion string, cause error) TrackerError {
	return &trackerError{
		code:       code,
		message:    message,
		suggestion: suggestion,
		context:    make(map[string]string),
		cause:      cause,
	}
}

// WithContext adds context to an error and returns a new TrackerError.
// The original error is not modified.
func WithContext(err TrackerError, key, value string) TrackerError {
	existingCtx := err.Context()
	newCtx := make(map[string]string, len(existingCtx)+1)
	for k, v := range existingCtx {
		newCtx[k] = v
	}
	newCtx[key] = value

	return &trackerError{
		code:       err.Code(),
		message:    err.Error(),
		suggestion: err.Suggestion(),
		context:    newCtx,
		cause:      err.Unwrap(),
	}
}

// IsTrackerError checks if err is a TrackerError and returns it.
// If err is nil or not a TrackerError, returns (nil, false).
func IsTrackerError(err error) (TrackerError, bool) {
	if err == nil {
		return nil, false
	}
	if te, ok := err.(TrackerError); ok {
		return te, true
	}
	return nil, false
}

// GetCode extracts the error code from an error.
// Returns empty string if err is not a TrackerError.
func GetCode(err error) string {
	if te, ok := IsTrackerError(err); ok {
		return te.Code()
	}
	return ""
}
