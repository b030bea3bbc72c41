package errs

import (
	"errors"
	"fmt"
)

// Code categorizes pipeline errors
type Code string

const (
	// CodeDecode marks unreadable or corrupt audio. Fatal for the
	// recording that raised it; batch drivers skip and report.
	CodeDecode Code = "DECODE_ERROR"

	// CodeInvalidParameter marks a recognized option with an out-of-range
	// value. Fatal at call time, never defaulted.
	CodeInvalidParameter Code = "INVALID_PARAMETER"

	// CodeUnrecognizedParameter marks an option key that no stage knows.
	// Rejected up front so a typo'd key can never produce a false cache hit.
	CodeUnrecognizedParameter Code = "UNRECOGNIZED_PARAMETER"

	// CodeShapeMismatch marks a segment too short to produce a single
	// transform frame. Recoverable: the segment is skipped and counted.
	CodeShapeMismatch Code = "SHAPE_MISMATCH"

	// CodeConsistency marks misaligned row counts between resolved fields.
	// Fatal, surfaced immediately, never auto-repaired.
	CodeConsistency Code = "CONSISTENCY_ERROR"

	// CodeCacheCorruption marks an unreadable or count-mismatched cached
	// artifact. Triggers forced recomputation with a warning.
	CodeCacheCorruption Code = "CACHE_CORRUPTION"
)

// Error is the structured error carried across pipeline stages
type Error struct {
	Code    Code
	Message string
	Cause   error
	Fields  map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a structured error with the given code
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a structured error with a formatted message
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithField annotates the error with a structured field
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// CodeOf extracts the code from an error chain, or "" if none
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// HasCode reports whether any error in the chain carries the given code
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// Is enables errors.Is checks without importing both packages
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As enables errors.As checks
func As[T error](err error) (T, bool) {
	var target T
	ok := errors.As(err, &target)
	return target, ok
}
