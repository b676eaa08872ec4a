package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeDiscovery       = "DISCOVERY_ERROR"
	ErrCodeLoad            = "LOAD_ERROR"
	ErrCodeDuplicateAction = "DUPLICATE_ACTION"
	ErrCodeActionNotFound  = "ACTION_NOT_FOUND"
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeExecution       = "EXECUTION_ERROR"
	ErrCodeMiddleware      = "MIDDLEWARE_ERROR"
	ErrCodeStore           = "STORE_ERROR"
)

// ActionError is the structured error type used across the action subsystem.
type ActionError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Path    string         `json:"path,omitempty"`
	Cause   error          `json:"-"`
}

func (e *ActionError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Path, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ActionError) Unwrap() error {
	return e.Cause
}

// NewError creates a new ActionError.
func NewError(code, message string) *ActionError {
	return &ActionError{Code: code, Message: message}
}

// NewErrorf creates a new ActionError with a formatted message.
func NewErrorf(code, format string, args ...any) *ActionError {
	return &ActionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithPath attaches the source path the error relates to.
func (e *ActionError) WithPath(path string) *ActionError {
	e.Path = path
	return e
}

// WithCause attaches an underlying cause.
func (e *ActionError) WithCause(err error) *ActionError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *ActionError) WithDetails(details map[string]any) *ActionError {
	e.Details = details
	return e
}

// IsCode reports whether err (or anything it wraps) is an ActionError with the given code.
func IsCode(err error, code string) bool {
	for err != nil {
		var ae *ActionError
		if !errors.As(err, &ae) {
			return false
		}
		if ae.Code == code {
			return true
		}
		err = ae.Cause
	}
	return false
}

// CodeOf returns the code of the first ActionError in err's chain, or "".
func CodeOf(err error) string {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
