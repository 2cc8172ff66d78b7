// Defines the structured error type shared by every layer.

package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode defines specific error types for the API.
type ErrorCode string

const (
	// ErrorCodeValidationFailed is returned when input data fails validation
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	// ErrorCodeMissingField is returned when a required field is missing
	ErrorCodeMissingField ErrorCode = "MISSING_FIELD"
	// ErrorCodeNotFound is returned when a resource is not found
	ErrorCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrorCodeConflict is returned when there is a resource conflict
	ErrorCodeConflict ErrorCode = "CONFLICT"
	// ErrorCodeInternal is returned when an unexpected error occurs
	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"
	// ErrorCodeUnauthorized is returned when the local API token is missing or invalid
	ErrorCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// ErrorCodeConfiguration is returned for missing or rejected connection keys
	ErrorCodeConfiguration ErrorCode = "CONFIGURATION_ERROR"
	// ErrorCodeAuthorization is returned when the identity provider rejects a grant
	ErrorCodeAuthorization ErrorCode = "AUTHORIZATION_FAILED"
	// ErrorCodeOriginMismatch is an authorization failure caused by an unregistered origin
	ErrorCodeOriginMismatch ErrorCode = "ORIGIN_MISMATCH"
	// ErrorCodeAccessDenied is returned when the remote table or file listing is not accessible
	ErrorCodeAccessDenied ErrorCode = "ACCESS_DENIED"
	// ErrorCodeParse is returned when a stored row cannot be decoded
	ErrorCodeParse ErrorCode = "PARSE_ERROR"
	// ErrorCodeSyncFailed is returned for any other remote failure
	ErrorCodeSyncFailed ErrorCode = "SYNC_FAILED"
	// ErrorCodeNoSpreadsheet is returned when a table operation runs without a table id
	ErrorCodeNoSpreadsheet ErrorCode = "NO_SPREADSHEET"
	// ErrorCodeNotConnected is returned when an operation requires a finished connection
	ErrorCodeNotConnected ErrorCode = "NOT_CONNECTED"
	// ErrorCodeWrongStep is returned when a wizard transition is not valid from the current step
	ErrorCodeWrongStep ErrorCode = "WRONG_STEP"
)

// ErrorWithStatus is an error that includes an HTTP status code and error code.
type ErrorWithStatus interface {
	Error() string
	StatusCode() int
	Code() ErrorCode
	Details() map[string]any
}

// APIError is a concrete error type with status code, code, and optional details.
type APIError struct {
	statusCode int
	code       ErrorCode
	message    string
	details    map[string]any
	wrappedErr error
}

// NewAPIError creates a new APIError with the given status code and message.
func NewAPIError(statusCode int, code ErrorCode, message string) *APIError {
	return &APIError{
		statusCode: statusCode,
		code:       code,
		message:    message,
		details:    make(map[string]any),
	}
}

// WithDetail adds a single detail to the error.
func (e *APIError) WithDetail(key string, value any) *APIError {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Wrap wraps an underlying error.
func (e *APIError) Wrap(err error) *APIError {
	e.wrappedErr = err
	return e
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrappedErr)
	}
	return e.message
}

// Message returns the user-facing message without the wrapped cause.
func (e *APIError) Message() string {
	return e.message
}

// StatusCode returns the HTTP status code.
func (e *APIError) StatusCode() int {
	return e.statusCode
}

// Code returns the error code.
func (e *APIError) Code() ErrorCode {
	return e.code
}

// Details returns additional error details.
func (e *APIError) Details() map[string]any {
	return e.details
}

// Unwrap returns the wrapped error if any.
func (e *APIError) Unwrap() error {
	return e.wrappedErr
}

// CodeOf returns the code of the first ErrorWithStatus in err's chain, or
// ErrorCodeInternal.
func CodeOf(err error) ErrorCode {
	var ews ErrorWithStatus
	if errors.As(err, &ews) {
		return ews.Code()
	}
	return ErrorCodeInternal
}

// IsCode reports whether err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// Predefined error constructors for common cases

// NotFound creates a 404 Not Found error.
func NotFound(resource string) *APIError {
	return NewAPIError(http.StatusNotFound, ErrorCodeNotFound, fmt.Sprintf("%s not found", resource))
}

// BadRequest creates a 400 Bad Request error.
func BadRequest(message string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodeValidationFailed, message)
}

// MissingField creates a 400 Bad Request error for a missing field.
func MissingField(fieldName string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodeMissingField, fmt.Sprintf("Missing required field: %s", fieldName))
}

// Conflict creates a 409 Conflict error.
func Conflict(message string) *APIError {
	return NewAPIError(http.StatusConflict, ErrorCodeConflict, message)
}

// Unauthorized returns a 401 Unauthorized error.
func Unauthorized() *APIError {
	return NewAPIError(http.StatusUnauthorized, ErrorCodeUnauthorized, "Unauthorized")
}

// Internal returns a 500 Internal Server Error.
func Internal(message string) *APIError {
	return NewAPIError(http.StatusInternalServerError, ErrorCodeInternal, message)
}

// ConfigurationError reports missing or rejected connection keys.
func ConfigurationError(message string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodeConfiguration, message)
}

// AuthorizationError reports a grant rejected by the identity provider.
func AuthorizationError(message string) *APIError {
	return NewAPIError(http.StatusUnauthorized, ErrorCodeAuthorization, message)
}

// OriginMismatch reports a grant rejected because origin is not registered
// with the OAuth client.
func OriginMismatch(origin string) *APIError {
	msg := "Origin mismatch. Register the redirect origin with your OAuth client"
	if origin != "" {
		msg = fmt.Sprintf("Origin mismatch. Did you add %q to your Google Cloud Console?", origin)
	}
	return NewAPIError(http.StatusUnauthorized, ErrorCodeOriginMismatch, msg).WithDetail("origin", origin)
}

// AccessDenied reports a reachable remote resource that refuses access.
func AccessDenied(message string) *APIError {
	return NewAPIError(http.StatusForbidden, ErrorCodeAccessDenied, message)
}

// ParseError reports a stored row that cannot be decoded.
func ParseError(message string) *APIError {
	return NewAPIError(http.StatusUnprocessableEntity, ErrorCodeParse, message)
}

// SyncFailed reports a remote failure during append, fetch or overwrite.
func SyncFailed(operation string) *APIError {
	return NewAPIError(http.StatusBadGateway, ErrorCodeSyncFailed, operation+" failed")
}

// NoSpreadsheet reports a table operation attempted without a table id.
func NoSpreadsheet() *APIError {
	return NewAPIError(http.StatusPreconditionFailed, ErrorCodeNoSpreadsheet, "no spreadsheet configured")
}

// NotConnected reports an operation that requires a finished connection.
func NotConnected() *APIError {
	return NewAPIError(http.StatusPreconditionFailed, ErrorCodeNotConnected, "not connected to a spreadsheet")
}

// WrongStep reports a wizard transition attempted from the wrong step.
func WrongStep(want, got int) *APIError {
	return NewAPIError(http.StatusConflict, ErrorCodeWrongStep, fmt.Sprintf("connection wizard is at step %d, not %d", got, want))
}
