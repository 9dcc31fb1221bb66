package domain

import "fmt"

// NotFoundError indicates an entity was absent where presence was required.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ConflictError indicates a backing system rejected a duplicate create.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// AuthError indicates a credential refresh or authentication failure
// against a dependent backend.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return e.Message }

// ConfigurationError indicates a required backend is not configured or a
// remote configuration object (app, parameter) could not be resolved.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return e.Message }

// ServiceUnavailableError indicates a dependent backend is unreachable or
// not enabled.
type ServiceUnavailableError struct {
	Message string
}

func (e *ServiceUnavailableError) Error() string { return e.Message }

// UpstreamError indicates a non-2xx response from a dependent HTTP backend
// not covered by a more specific error kind.
type UpstreamError struct {
	Message string
	Status  int
}

func (e *UpstreamError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrAuth creates an AuthError with a formatted message.
func ErrAuth(format string, args ...interface{}) *AuthError {
	return &AuthError{Message: fmt.Sprintf(format, args...)}
}

// ErrConfiguration creates a ConfigurationError with a formatted message.
func ErrConfiguration(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// ErrServiceUnavailable creates a ServiceUnavailableError with a formatted message.
func ErrServiceUnavailable(format string, args ...interface{}) *ServiceUnavailableError {
	return &ServiceUnavailableError{Message: fmt.Sprintf(format, args...)}
}

// ErrUpstream creates an UpstreamError carrying the upstream HTTP status.
func ErrUpstream(status int, format string, args ...interface{}) *UpstreamError {
	return &UpstreamError{Message: fmt.Sprintf(format, args...), Status: status}
}
