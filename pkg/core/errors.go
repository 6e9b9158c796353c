package core

import (
	"fmt"
)

// Error is the canonical error carried across the interview session core.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`

	// Status is the upstream HTTP status for admission failures, 0 otherwise.
	Status int `json:"status,omitempty"`

	// Cause holds the underlying error for wrapping; not serialized.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrAdmission covers credential-exchange failures against the admission service.
	ErrAdmission ErrorType = "admission_error"
	// ErrPermission covers denied or unavailable capture devices.
	ErrPermission ErrorType = "permission_error"
	// ErrConnection covers conferencing transport failures.
	ErrConnection ErrorType = "connection_error"
	// ErrAgent covers voice-agent session failures.
	ErrAgent ErrorType = "agent_error"
	// ErrBridge covers agent-audio republication failures.
	ErrBridge ErrorType = "bridge_error"

	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrNotFound       ErrorType = "not_found_error"
)

// NewAdmissionError creates an admission error carrying the upstream HTTP status.
func NewAdmissionError(message string, status int) *Error {
	return &Error{
		Type:    ErrAdmission,
		Message: message,
		Status:  status,
	}
}

// NewPermissionError creates a permission error.
func NewPermissionError(message string) *Error {
	return &Error{
		Type:    ErrPermission,
		Message: message,
	}
}

// NewConnectionError creates a connection error wrapping the transport failure.
func NewConnectionError(message string, cause error) *Error {
	return &Error{
		Type:    ErrConnection,
		Message: message,
		Cause:   cause,
	}
}

// NewAgentError creates a voice-agent error.
func NewAgentError(message string) *Error {
	return &Error{
		Type:    ErrAgent,
		Message: message,
	}
}

// NewBridgeError creates a bridge error.
func NewBridgeError(message string, cause error) *Error {
	return &Error{
		Type:    ErrBridge,
		Message: message,
		Cause:   cause,
	}
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

// IsFatal reports whether the error must surface to the session error state.
// Permission and bridge failures are absorbed with degraded behavior.
func (e *Error) IsFatal() bool {
	switch e.Type {
	case ErrPermission, ErrBridge:
		return false
	default:
		return true
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}
