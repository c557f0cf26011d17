package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// Dependency error codes. The names follow the codes surfaced by the AWS
// services the provisioning agents talk to.
const (
	ErrThrottling          ErrorCode = "THROTTLING"
	ErrServiceUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
	ErrTimeout             ErrorCode = "TIMEOUT"
	ErrConnectionReset     ErrorCode = "CONNECTION_RESET"
	ErrNetworkUnreachable  ErrorCode = "NETWORK_UNREACHABLE"
	ErrValidation          ErrorCode = "VALIDATION_ERROR"
	ErrNotFound            ErrorCode = "NOT_FOUND"
	ErrConflict            ErrorCode = "CONFLICT"
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrAccessDenied        ErrorCode = "ACCESS_DENIED"
	ErrAuthentication      ErrorCode = "AUTHENTICATION"
	ErrCertificate         ErrorCode = "CERTIFICATE_ERROR"
	ErrDataCorruption      ErrorCode = "DATA_CORRUPTION"
	ErrOutOfMemory         ErrorCode = "OUT_OF_MEMORY"
	ErrCheckpointFailed    ErrorCode = "CHECKPOINT_FAILED"
	ErrCircuitOpen         ErrorCode = "CIRCUIT_OPEN"
	ErrStackCreationFailed ErrorCode = "STACK_CREATION_FAILED"
	ErrTemplateGeneration  ErrorCode = "TEMPLATE_GENERATION_FAILED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Service    string    `json:"service,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithService sets the name of the dependency that produced the error.
func (e *Error) WithService(service string) *Error {
	e.Service = service
	return e
}

// GetErrorCode extracts the error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether any *Error in the chain carries code.
func IsErrorCode(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}
