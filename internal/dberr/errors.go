// Package dberr defines the engine's error taxonomy. Every error surfaced
// to a client or propagated between components carries a Kind so that the
// network layer (out of core scope) and the executor can map it to a
// stable code without string matching.
package dberr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error by how it should be surfaced and handled.
type Kind uint8

const (
	Unknown Kind = iota
	SyntaxError
	SemanticError
	PermissionDenied
	ConstraintViolation
	DivisionByZero
	ArithmeticError
	IOError
	LockTimeout
	Corruption
	NotImplemented
)

func (k Kind) String() string {
	switch k {
	case SyntaxError:
		return "SYNTAX_ERROR"
	case SemanticError:
		return "SEMANTIC_ERROR"
	case PermissionDenied:
		return "PERMISSION_DENIED"
	case ConstraintViolation:
		return "CONSTRAINT_VIOLATION"
	case DivisionByZero:
		return "DIVISION_BY_ZERO"
	case ArithmeticError:
		return "ARITHMETIC_ERROR"
	case IOError:
		return "IO_ERROR"
	case LockTimeout:
		return "LOCK_TIMEOUT"
	case Corruption:
		return "CORRUPTION"
	case NotImplemented:
		return "NOT_IMPLEMENTED"
	default:
		return "UNKNOWN"
	}
}

// Error is a taxonomy-tagged error. Detail is optional extra context
// (e.g. the offending token, or the constraint name).
type Error struct {
	Kind   Kind
	Msg    string
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Msg, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a new tagged error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a new tagged error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WithDetail attaches a detail string (e.g. for client-facing QueryResult.Error).
func (e *Error) WithDetail(detail string) *Error {
	e2 := *e
	e2.Detail = detail
	return &e2
}

// Wrap tags an existing error (typically from the stdlib or an I/O call)
// with a Kind, preserving the chain via github.com/pkg/errors so that
// errors.Is / errors.As (through Unwrap) still reach the original failure.
func Wrap(kind Kind, cause error, msg string) *Error {
	if cause == nil {
		return New(kind, msg)
	}
	return &Error{Kind: kind, Msg: msg, cause: errors.WithMessage(cause, msg)}
}

// Is reports whether err is a dberr.Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or Unknown if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
