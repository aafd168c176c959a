package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors. The string value
// doubles as the stable error code surfaced to callers.
type ErrorType string

const (
	ErrTypeConfiguration       ErrorType = "configuration"
	ErrTypeProviderUnavailable ErrorType = "provider_unavailable"
	ErrTypeNoProviderAvailable ErrorType = "no_provider_available"
	ErrTypeProviderExecution   ErrorType = "provider_execution"
	ErrTypeIntegrity           ErrorType = "integrity"
	ErrTypeIndexNotTrusted     ErrorType = "index_not_trusted"
	ErrTypeValidation          ErrorType = "validation"
	ErrTypeInvalidTable        ErrorType = "invalid_table"
	ErrTypeSchemaAccess        ErrorType = "schema_access"
	ErrTypeDatabase            ErrorType = "database"
	ErrTypeNotFound            ErrorType = "not_found"
	ErrTypeInternal            ErrorType = "internal"
)

// Error represents a structured error with type and optional suggestions
type Error struct {
	Type        ErrorType
	Message     string
	Cause       error
	Suggestions []string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithSuggestion adds a suggestion for resolving the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// New creates a new structured error
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new structured error with formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with formatted message
func Wrapf(err error, errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type == errType
	}

	return false
}

// GetType returns the error type if it's a structured error
func GetType(err error) ErrorType {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type
	}

	return ErrTypeInternal
}

// IsSecurity reports whether the error is one of the persistence-safety
// kinds that must never be downgraded to a warning.
func IsSecurity(err error) bool {
	t := GetType(err)
	return t == ErrTypeIntegrity || t == ErrTypeIndexNotTrusted
}

// NewConfigError creates a configuration error with suggestions
func NewConfigError(message, field string) *Error {
	err := New(ErrTypeConfiguration, message)
	if field != "" {
		err.Message = fmt.Sprintf("%s (field: %s)", message, field)
	}

	return err.
		WithSuggestion("Check your configuration file syntax").
		WithSuggestion("Run with --help to see valid configuration options")
}
