package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies engine failures by how the caller should react:
// INPUT and PARSING are per-record and never abort a run, INSUFFICIENT_DATA
// and COMPUTATION degrade a single method to "not applicable", CONFIG fails
// fast before any detection starts.
type ErrorType string

const (
	ErrTypeInput            ErrorType = "INPUT"
	ErrTypeInsufficientData ErrorType = "INSUFFICIENT_DATA"
	ErrTypeConfig           ErrorType = "CONFIG"
	ErrTypeComputation      ErrorType = "COMPUTATION"
	ErrTypeParsing          ErrorType = "PARSING"
)

// AppError represents an engine-specific error
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new engine error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Helper constructors for the engine error taxonomy

// NewInputError reports a malformed or incomplete observation. It is scoped
// to one record: the record is dropped and counted as a data-quality signal.
func NewInputError(message string, cause error) *AppError {
	return NewAppError(ErrTypeInput, message, cause)
}

// NewInsufficientDataError reports that a method cannot run on a cell or
// site because it has fewer points than the method requires.
func NewInsufficientDataError(method string, required, got int) *AppError {
	e := NewAppError(ErrTypeInsufficientData,
		fmt.Sprintf("%s requires at least %d observations, got %d", method, required, got), nil)
	e.Context["method"] = method
	e.Context["required"] = required
	e.Context["got"] = got
	return e
}

// NewConfigError reports an invalid configuration value or weight set
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}

// NewComputationError reports a numeric failure inside one method, such as
// degenerate variance where a method assumes spread.
func NewComputationError(method, message string) *AppError {
	e := NewAppError(ErrTypeComputation, message, nil)
	e.Context["method"] = method
	return e
}

// NewParsingError reports an unreadable input file or row
func NewParsingError(message string, cause error) *AppError {
	return NewAppError(ErrTypeParsing, message, cause)
}

// TypeOf returns the ErrorType of err, or "" when err is not an AppError
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// IsInsufficientData reports whether err is an INSUFFICIENT_DATA error
func IsInsufficientData(err error) bool {
	return TypeOf(err) == ErrTypeInsufficientData
}

// IsComputation reports whether err is a COMPUTATION error
func IsComputation(err error) bool {
	return TypeOf(err) == ErrTypeComputation
}

// IsConfig reports whether err is a CONFIG error
func IsConfig(err error) bool {
	return TypeOf(err) == ErrTypeConfig
}

// IsInput reports whether err is an INPUT error
func IsInput(err error) bool {
	return TypeOf(err) == ErrTypeInput
}
