// Package toolerrors provides the structured error type tool failures are
// built from. It preserves causal chains (errors.Is/As) on the error value;
// step.ToolResult.Error is a string holding only the top-level Message, so
// the cause chain does not cross the Runnable-as-Tool boundary or a wire
// encoding of step.ToolResult.
package toolerrors

import (
	"errors"
	"fmt"
)

// ToolError is a structured tool failure with an optional nested cause.
type ToolError struct {
	Message string
	Cause   *ToolError
}

// New constructs a ToolError carrying message alone.
func New(message string) *ToolError {
	if message == "" {
		message = "tool error"
	}
	return &ToolError{Message: message}
}

// NewWithCause wraps an existing error, converting it into a ToolError
// chain reachable through Unwrap. Error() returns only message, so the cause
// is not part of the string stored in ToolResult.Error.
func NewWithCause(message string, cause error) *ToolError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &ToolError{Message: message, Cause: FromError(cause)}
}

// FromError converts an arbitrary error into a ToolError chain.
func FromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{Message: err.Error(), Cause: FromError(errors.Unwrap(err))}
}

// Errorf formats according to a format specifier and returns a ToolError.
func Errorf(format string, args ...any) *ToolError {
	return New(fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap supports errors.Is/As over the cause chain.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
