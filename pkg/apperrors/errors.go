// Package apperrors defines the closed error taxonomy shared by the
// datasource adapters, the error analyzer and the query state machine.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure. The set is closed: every error that crosses a
// component boundary carries exactly one of these kinds.
type Kind string

const (
	KindConnection     Kind = "connection_error"
	KindAuth           Kind = "auth_error"
	KindPermission     Kind = "permission_error"
	KindObjectNotFound Kind = "object_not_found"
	KindTypeMismatch   Kind = "type_mismatch"
	KindSyntax         Kind = "syntax_error"
	KindResultTooLarge Kind = "result_too_large"
	KindCancelled      Kind = "cancelled"
	KindTimeout        Kind = "timeout"
	KindBudget         Kind = "budget_exceeded"
	KindProvider       Kind = "provider_error"
	KindOther          Kind = "other"
)

// Error is a structured error with classification. It wraps the underlying
// cause so errors.Is/As keep working through component boundaries.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Cause     error

	// SQL is the statement that triggered the error, when one exists.
	SQL string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	parts = append(parts, string(e.Kind))
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the operation that produced this error may be
// retried. Auth and permission failures are never retryable.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// New creates a structured error.
func New(kind Kind, message string, retryable bool, cause error) *Error {
	return &Error{Kind: kind, Message: message, Retryable: retryable, Cause: cause}
}

// WithSQL attaches the failed statement and returns the error.
func (e *Error) WithSQL(sql string) *Error {
	e.SQL = sql
	return e
}

// KindOf extracts the Kind from an error, or KindOther for unclassified errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	if errors.Is(err, ErrCancelled) {
		return KindCancelled
	}
	return KindOther
}

// IsRetryable reports retryability for any error. Unclassified errors are not
// retryable.
func IsRetryable(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// Sentinel errors for control flow inside the engine.
var (
	ErrCancelled  = errors.New("query cancelled")
	ErrNotFound   = errors.New("not found")
	ErrDisabled   = errors.New("subsystem disabled")
	ErrNoSnapshot = errors.New("no schema snapshot available")
)
