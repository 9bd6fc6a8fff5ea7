// Package iriserr defines the error kinds shared across the orchestrator.
//
// Every user-visible failure carries a Kind and a short human message.
// Wrapped causes stay attached for debug logging but are never shown to
// clients directly.
package iriserr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and for the RPC surface.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindTeamNotFound     Kind = "team_not_found"
	KindSessionNotFound  Kind = "session_not_found"
	KindProcessBusy      Kind = "process_busy"
	KindProcessPoolLimit Kind = "process_pool_limit"
	KindInitTimeout      Kind = "init_timeout"
	KindResponseTimeout  Kind = "response_timeout"
	KindProcessCrashed   Kind = "process_crashed"
	KindConfiguration    Kind = "configuration"
	KindTransport        Kind = "transport"
)

// Error is the uniform error type for all components.
type Error struct {
	Kind  Kind
	Field string // set for validation errors
	Msg   string
	Err   error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field: %s)", e.Kind, e.Msg, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two iriserr errors by kind so sentinel comparisons work:
//
//	errors.Is(err, &iriserr.Error{Kind: iriserr.KindProcessBusy})
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind wrapping a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Validation creates a validation error tagged with the offending field.
func Validation(field, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of an error, or empty if it is not an iriserr.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
