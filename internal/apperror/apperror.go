// Package apperror classifies ledger failures so transports and callers can
// react without string matching.
package apperror

import (
	"errors"
	"fmt"
)

// Kind is the failure category.
type Kind string

const (
	Unknown           Kind = ""
	Validation        Kind = "validation"
	NotFound          Kind = "not_found"
	Conflict          Kind = "conflict"
	InsufficientFunds Kind = "insufficient_funds"
	Gateway           Kind = "gateway"
	Invariant         Kind = "invariant"
)

// Error is a sentinel with a stable snake_case code.
type Error struct {
	kind Kind
	code string
}

// New declares a sentinel error of the given kind.
func New(kind Kind, code string) *Error {
	return &Error{kind: kind, code: code}
}

func (e *Error) Error() string { return e.code }

func (e *Error) Kind() Kind { return e.kind }

func (e *Error) Code() string { return e.code }

// OperationError wraps a sentinel with the failing operation and its cause.
type OperationError struct {
	op       string
	sentinel *Error
	err      error
}

func (e *OperationError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %s", e.op, e.sentinel.code)
	}
	return fmt.Sprintf("%s: %s: %v", e.op, e.sentinel.code, e.err)
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *OperationError) Unwrap() []error {
	if e.err == nil {
		return []error{e.sentinel}
	}
	return []error{e.sentinel, e.err}
}

func (e *OperationError) Op() string { return e.op }

// Wrap attaches op and an optional cause to sentinel.
func Wrap(sentinel *Error, op string, err error) error {
	return &OperationError{op: op, sentinel: sentinel, err: err}
}

// Wrapf is Wrap with a formatted cause.
func Wrapf(sentinel *Error, op string, format string, args ...any) error {
	return &OperationError{op: op, sentinel: sentinel, err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.sentinel.kind
	}
	var sentinel *Error
	if errors.As(err, &sentinel) {
		return sentinel.kind
	}
	return Unknown
}

// CodeOf returns the stable code of the first classified error in err's chain.
func CodeOf(err error) string {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.sentinel.code
	}
	var sentinel *Error
	if errors.As(err, &sentinel) {
		return sentinel.code
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
