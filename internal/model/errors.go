package model

import (
	"errors"
	"fmt"
)

// StatusError carries a public StatusCode alongside the underlying cause.
// The execution engine and validation service are the translation points
// that wrap internal errors into StatusErrors; lower layers never do.
type StatusError struct {
	Code StatusCode
	Msg  string
	Err  error
}

// NewStatusError creates a StatusError without an underlying cause.
func NewStatusError(code StatusCode, format string, args ...any) *StatusError {
	return &StatusError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// WrapStatusError creates a StatusError wrapping a cause.
func WrapStatusError(code StatusCode, err error, format string, args ...any) *StatusError {
	return &StatusError{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// CodeOf extracts the StatusCode of an error, or StatusUnknownError when the
// error does not carry one.
func CodeOf(err error) StatusCode {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return StatusUnknownError
}
