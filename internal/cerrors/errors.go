// Package cerrors defines COMPASS's error taxonomy. Errors are classified
// by Kind rather than by Go type, so callers branch on behavior
// (retry, fail fast, propagate) instead of on concrete error types.
package cerrors

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies how a caller should react to an error.
type Kind int

const (
	// KindUnknown is the zero value; never constructed intentionally.
	KindUnknown Kind = iota
	// KindBudgetExceeded is fatal and unrecoverable: it propagates to the
	// caller, and the investigation stays in the last status it entered.
	KindBudgetExceeded
	// KindInvalidTransition marks a programmer error. The caller's state
	// was not mutated.
	KindInvalidTransition
	// KindTransport marks a recoverable failure talking to an external
	// backend (metrics/logs/traces/LLM). Safe to retry or circuit-break.
	KindTransport
	// KindValidation marks a caller-supplied input that failed validation.
	KindValidation
	// KindCancellation marks a context cancellation or deadline expiry.
	// Always recoverable by the caller.
	KindCancellation
)

func (k Kind) String() string {
	switch k {
	case KindBudgetExceeded:
		return "budget_exceeded"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindTransport:
		return "transport"
	case KindValidation:
		return "validation"
	case KindCancellation:
		return "cancellation"
	default:
		return "unknown"
	}
}

// CompassError wraps an underlying cause with a Kind so errors.As callers
// can branch on behavior without string matching.
type CompassError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *CompassError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *CompassError) Unwrap() error {
	return e.Err
}

// New constructs a CompassError with no underlying cause.
func New(kind Kind, msg string) error {
	return &CompassError{Kind: kind, Msg: msg}
}

// Wrap attaches a Kind and message to an underlying error.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &CompassError{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err is a *CompassError of the given Kind, also
// recognizing context.Canceled/context.DeadlineExceeded as KindCancellation.
func Is(err error, kind Kind) bool {
	var ce *CompassError
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	if kind == KindCancellation {
		return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	}
	return false
}

// KindOf returns the Kind of err, treating context cancellation/deadline
// errors as KindCancellation and anything else unrecognized as KindUnknown.
func KindOf(err error) Kind {
	var ce *CompassError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancellation
	}
	return KindUnknown
}
