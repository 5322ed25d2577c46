// Package errors provides the structured error taxonomy used throughout the
// control plane. Every error carries a Kind describing the retry/handling
// policy a caller should apply, a short machine-readable Code, and the field
// or value that triggered it.
package errors

import (
	"errors"
	"fmt"
)

// Kind is the top-level error category every component surfaces to callers.
type Kind string

const (
	InvalidArgument Kind = "invalid_argument"
	NotFound        Kind = "not_found"
	Conflict        Kind = "conflict"
	Unsupported     Kind = "unsupported"
	Transient       Kind = "transient"
	Downstream      Kind = "downstream"
)

// Error codes. Not exhaustive — components may mint additional codes, but
// these cover the ones named explicitly by the error-kind table.
const (
	CodeNotPrintable      = "not_printable"
	CodeDuplicateKey      = "duplicate_key"
	CodeKeyTooLong        = "key_too_long"
	CodeNoKeyField        = "no_key_field"
	CodeInvalidKey        = "invalid_key"
	CodeTooLongName       = "too_long_name"
	CodeNonUnicodeName    = "non_unicode_name"
	CodeInvalidOption     = "invalid_option"
	CodeColumnMismatch    = "column_mismatch"
	CodeKeyMismatch       = "key_mismatch"
	CodeNoTable           = "no_table"
	CodeUndefined         = "undefined"
	CodeTableExists       = "table_exists"
	CodeTypeNotSupported  = "type_not_supported"
	CodeNotSupportedYet   = "not_supported_yet"
	CodeAborted           = "aborted"
	CodeTopologyTimeout   = "topology_timeout"
	CodeBackendError      = "backend_error"
	CodeWrapperError      = "wrapper_error"
)

// Error is the concrete error type every package in this module returns.
type Error struct {
	Kind    Kind
	Code    string
	Field   string
	Message string
	Cause   error
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	base := fmt.Sprintf("[%s:%s] %s", e.Kind, e.Code, e.Message)
	if e.Field != "" {
		base += fmt.Sprintf(" (field=%q)", e.Field)
	}
	if e.Cause != nil {
		base += fmt.Sprintf(": %v", e.Cause)
	}
	return base
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's kind and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return e.Kind == t.Kind
}

// New creates a new Error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// WithField returns a copy of the error with the offending field/value attached.
func (e *Error) WithField(field string) *Error {
	cp := *e
	cp.Field = field
	return &cp
}

// Retryable reports whether a caller should retry the operation that
// produced this error. Retryability is a fixed property of Kind here, not a
// separately-tracked flag: every kind in the error-kind table has one policy.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == Transient
	}
	return false
}

// KindOf extracts the Kind from an error chain, or "" if it is not ours.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf extracts the Code from an error chain, or "" if it is not ours.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Convenience constructors, one per kind.

func InvalidArgumentf(code, field, format string, args ...any) *Error {
	return &Error{Kind: InvalidArgument, Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(code, field, format string, args ...any) *Error {
	return &Error{Kind: NotFound, Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}

func Conflictf(code, field, format string, args ...any) *Error {
	return &Error{Kind: Conflict, Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}

func Unsupportedf(code, format string, args ...any) *Error {
	return &Error{Kind: Unsupported, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Transientf(code string, cause error, format string, args ...any) *Error {
	return &Error{Kind: Transient, Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Downstreamf(code string, cause error, format string, args ...any) *Error {
	return &Error{Kind: Downstream, Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Aggregate combines multiple validation errors into a single Error whose
// message enumerates each one, the same "collect every violated rule rather
// than stop at the first" shape the reference row validator used.
func Aggregate(kind Kind, code string, errs []*Error) *Error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	msg := fmt.Sprintf("%d errors:", len(errs))
	for _, e := range errs {
		msg += "\n  - " + e.Error()
	}
	return &Error{Kind: kind, Code: code, Message: msg}
}
