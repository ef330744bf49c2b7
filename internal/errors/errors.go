// Package errors defines the error taxonomy shared by the recognition client,
// the reconciliation engine and the HTTP console. Each typed error matches a
// sentinel through errors.Is so callers can branch on the kind of failure
// without caring about the concrete type.
package errors

import (
	"errors"
	"fmt"
)

// Re-exported so callers need only one errors import.
var (
	New    = errors.New
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)

var (
	// ErrConfig indicates the recognition capability is not configured.
	ErrConfig = errors.New("not configured")

	// ErrTransport indicates a network or provider failure.
	ErrTransport = errors.New("transport failure")

	// ErrParse indicates a malformed or non-conforming structured response.
	ErrParse = errors.New("malformed response")

	// ErrInvalidInput indicates user input was rejected before any side effect.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates a requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the request conflicts with current state.
	ErrConflict = errors.New("conflict")

	// ErrUnauthorized indicates missing or invalid credentials.
	ErrUnauthorized = errors.New("unauthorized")
)

// ConfigError is returned when the recognition capability has no usable
// credential or backend.
type ConfigError struct {
	Component string
	Message   string
	Err       error
}

func (e *ConfigError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// NewConfigError creates a new ConfigError
func NewConfigError(component, message string, err error) *ConfigError {
	return &ConfigError{Component: component, Message: message, Err: err}
}

// TransportError wraps a network, provider or timeout failure.
type TransportError struct {
	Backend    string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s request failed (status %d): %v", e.Backend, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s request failed: %v", e.Backend, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// NewTransportError creates a new TransportError
func NewTransportError(backend string, statusCode int, err error) *TransportError {
	return &TransportError{Backend: backend, StatusCode: statusCode, Err: err}
}

// ParseError reports a response body that could not be decoded into the
// requested schema. Body holds the offending text, truncated.
type ParseError struct {
	Body string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing structured response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// NewParseError creates a new ParseError, keeping at most 256 bytes of body.
func NewParseError(body string, err error) *ParseError {
	if len(body) > 256 {
		body = body[:256]
	}
	return &ParseError{Body: body, Err: err}
}

// ValidationError represents rejected user input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError represents an error when a resource is not found
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// Message returns the text shown to a user for err. Recognition failures get
// a fixed human-readable cause; validation errors carry their own message.
func Message(err error) string {
	var ve *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return ve.Message
	case errors.Is(err, ErrConfig):
		return "Recognition service is not configured."
	case errors.Is(err, ErrParse):
		return "Could not interpret the recognition response."
	case errors.Is(err, ErrTransport):
		return "Recognition service is unavailable. Try again."
	case errors.Is(err, ErrNotFound):
		return "Not found."
	default:
		return "Unexpected error."
	}
}
