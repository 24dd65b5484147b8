// Package toolerr defines the error taxonomy shared by every sandbox component.
//
// Each component converts its failures into an *Error at its own boundary.
// An *Error wraps one of the sentinel errors below, so callers can test the
// class with errors.Is without inspecting the Kind field.
package toolerr

import (
	"errors"
	"fmt"
)

// Kind names one class of tool failure.
type Kind string

const (
	KindValidation    Kind = "validation_error"
	KindPermission    Kind = "permission_denied"
	KindResourceLimit Kind = "resource_limit_exceeded"
	KindTimeout       Kind = "timeout"
	KindExecution     Kind = "execution_error"
	KindInternal      Kind = "internal_error"
)

// Sentinel errors, one per Kind.
var (
	ErrValidation    = errors.New("validation error")
	ErrPermission    = errors.New("permission denied")
	ErrResourceLimit = errors.New("resource limit exceeded")
	ErrTimeout       = errors.New("timeout")
	ErrExecution     = errors.New("execution error")
	ErrInternal      = errors.New("internal error")
)

var sentinels = map[Kind]error{
	KindValidation:    ErrValidation,
	KindPermission:    ErrPermission,
	KindResourceLimit: ErrResourceLimit,
	KindTimeout:       ErrTimeout,
	KindExecution:     ErrExecution,
	KindInternal:      ErrInternal,
}

// Error is a classified tool failure. Message is safe to hand back to the
// orchestrator: it never carries host stack frames or environment data.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	// Line and Column locate syntax errors in submitted source, 1-based.
	Line   int `json:"line,omitempty"`
	Column int `json:"column,omitempty"`
}

func (e *Error) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: %s (line %d, column %d)", e.Kind, e.Message, e.Line, e.Column)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return sentinels[e.Kind]
}

// New builds an *Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func Permission(format string, args ...any) *Error {
	return New(KindPermission, format, args...)
}

func ResourceLimit(format string, args ...any) *Error {
	return New(KindResourceLimit, format, args...)
}

func Timeout(format string, args ...any) *Error {
	return New(KindTimeout, format, args...)
}

func Execution(format string, args ...any) *Error {
	return New(KindExecution, format, args...)
}

func Internal(format string, args ...any) *Error {
	return New(KindInternal, format, args...)
}

// From returns err as an *Error. Unclassified errors become InternalError
// with a generic message; the original text is not propagated because it
// may contain host details.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return Internal("sandbox infrastructure failure")
}

// KindOf reports the Kind of err, or "" for a nil error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return From(err).Kind
}
