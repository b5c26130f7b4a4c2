// Package apperr defines the error taxonomy shared across the runtime.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the fixed error classes the runtime surfaces to callers.
type Kind string

const (
	NotFound        Kind = "not_found"
	InvalidInput    Kind = "invalid_input"
	Unauthorized    Kind = "unauthorized"
	Conflict        Kind = "conflict"
	TooLarge        Kind = "too_large"
	RateLimited     Kind = "rate_limited"
	Provider        Kind = "provider_error"
	ToolError       Kind = "tool_error"
	BudgetExceeded  Kind = "budget_exceeded"
	ConfidenceGated Kind = "confidence_gated"
	LoopBound       Kind = "loop_bound"
	IO              Kind = "io"
	Internal        Kind = "internal"
)

// Error wraps an underlying cause with a taxonomy Kind. errors.Is compares
// by Kind; errors.As unwraps to the original cause via Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Retryable only applies to Kind == Provider; it records whether the
	// router should retry this provider or fail over immediately.
	Retryable bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, apperr.NotFound) work by comparing against a
// sentinel *Error with only Kind set.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind
	}
	return false
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func WrapProvider(message string, cause error, retryable bool) *Error {
	return &Error{Kind: Provider, Message: message, Cause: cause, Retryable: retryable}
}

// sentinels for errors.Is(err, apperr.NotFound) style comparisons.
var (
	ErrNotFound        = &Error{Kind: NotFound}
	ErrInvalidInput    = &Error{Kind: InvalidInput}
	ErrUnauthorized    = &Error{Kind: Unauthorized}
	ErrConflict        = &Error{Kind: Conflict}
	ErrTooLarge        = &Error{Kind: TooLarge}
	ErrRateLimited     = &Error{Kind: RateLimited}
	ErrToolError       = &Error{Kind: ToolError}
	ErrBudgetExceeded  = &Error{Kind: BudgetExceeded}
	ErrConfidenceGated = &Error{Kind: ConfidenceGated}
	ErrLoopBound       = &Error{Kind: LoopBound}
	ErrIO              = &Error{Kind: IO}
	ErrInternal        = &Error{Kind: Internal}
)

// Of returns the Kind of err if it is (or wraps) an *Error, otherwise Internal.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
