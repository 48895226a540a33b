// Package apierr defines the error kinds the core reasons about at its
// boundary (spec §7): InvalidArgument, NotFound, Conflict, Unavailable,
// Internal. Consumers use Is and Permanent below, which look through
// wrapped errors for an *Error's Kind, to decide whether a failure is
// permanent (DLQ) or transient (redeliver).
package apierr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindInvalidArgument
	KindNotFound
	KindConflict
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindUnavailable:
		return "Unavailable"
	default:
		return "Internal"
	}
}

// Error wraps an underlying cause with a Kind the pipeline can branch on.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Invalid(op string, err error) error     { return New(KindInvalidArgument, op, err) }
func NotFound(op string, err error) error    { return New(KindNotFound, op, err) }
func Conflict(op string, err error) error    { return New(KindConflict, op, err) }
func Unavailable(op string, err error) error { return New(KindUnavailable, op, err) }
func Internal(op string, err error) error    { return New(KindInternal, op, err) }

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Permanent reports whether a failure should be DLQ'd rather than retried:
// malformed payloads and references to entities that will never exist are
// permanent; everything else (including plain Internal errors, which may
// be transient programmer-facing bugs surfaced by a flaky dependency) is
// treated as retryable until the caller's own retry budget is exhausted.
func Permanent(err error) bool {
	return Is(err, KindInvalidArgument) || Is(err, KindNotFound)
}
