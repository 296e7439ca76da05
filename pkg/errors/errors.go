// Package errors defines the typed errors used across the protocol
// execution layer.
package errors

import (
	"fmt"
)

// Error types
const (
	// ErrConfiguration is returned when a credential bag is missing or
	// carries an invalid required field
	ErrConfiguration = "configuration"

	// ErrAuthentication is returned when credentials are rejected, a flow
	// is denied, or a CSRF state check fails
	ErrAuthentication = "authentication"

	// ErrTransport is returned when a network call fails or times out
	ErrTransport = "transport"

	// ErrProtocolFault is returned when the remote endpoint reports a
	// protocol-level fault (e.g. a SOAP <Fault>) despite HTTP success
	ErrProtocolFault = "protocol_fault"

	// ErrTokenExpired is returned when a token is expired and cannot be
	// refreshed without interactive re-authentication
	ErrTokenExpired = "token_expired"

	// ErrNotConfigured is returned when an optional endpoint (revocation,
	// introspection) is required for an operation but not configured
	ErrNotConfigured = "not_configured"

	// ErrInternal is returned when there is an internal error
	ErrInternal = "internal"
)

// Error represents an error in the execution layer.
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigurationError creates a new configuration error
func NewConfigurationError(message string, cause error) *Error {
	return NewError(ErrConfiguration, message, cause)
}

// NewAuthenticationError creates a new authentication error
func NewAuthenticationError(message string, cause error) *Error {
	return NewError(ErrAuthentication, message, cause)
}

// NewTransportError creates a new transport error
func NewTransportError(message string, cause error) *Error {
	return NewError(ErrTransport, message, cause)
}

// NewProtocolFaultError creates a new protocol fault error
func NewProtocolFaultError(message string, cause error) *Error {
	return NewError(ErrProtocolFault, message, cause)
}

// NewTokenExpiredError creates a new token expired error
func NewTokenExpiredError(message string, cause error) *Error {
	return NewError(ErrTokenExpired, message, cause)
}

// NewNotConfiguredError creates a new not configured error
func NewNotConfiguredError(message string, cause error) *Error {
	return NewError(ErrNotConfigured, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

// IsConfiguration checks if the error is a configuration error
func IsConfiguration(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrConfiguration
}

// IsAuthentication checks if the error is an authentication error
func IsAuthentication(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrAuthentication
}

// IsTransport checks if the error is a transport error
func IsTransport(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrTransport
}

// IsProtocolFault checks if the error is a protocol fault error
func IsProtocolFault(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrProtocolFault
}

// IsTokenExpired checks if the error is a token expired error
func IsTokenExpired(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrTokenExpired
}

// IsNotConfigured checks if the error is a not configured error
func IsNotConfigured(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrNotConfigured
}

// IsInternal checks if the error is an internal error
func IsInternal(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrInternal
}
