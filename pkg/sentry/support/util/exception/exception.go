// Package exception provides the typed error taxonomy used throughout SENTRY.
// Every component surfaces failures as a SentryError carrying the component name,
// a concise message, the wrapped cause, and a Kind that callers branch on.
package exception

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a SentryError into one of the failure categories the
// query-orchestration engine distinguishes between.
type Kind int

const (
	// KindInternal is an unclassified internal failure.
	KindInternal Kind = iota
	// KindUnknownBatch indicates a batch name that resolved to nothing.
	// User-facing and non-retryable without correction.
	KindUnknownBatch
	// KindValidation indicates a Tier 2 guard rejection. The rejected
	// candidate is never executed.
	KindValidation
	// KindConnectivity indicates an unreachable upstream (catalog or database).
	KindConnectivity
	// KindTimeout indicates a bounded operation exceeded its deadline.
	KindTimeout
	// KindPartialResult indicates one sub-fetch in a multi-fetch flow failed
	// while others succeeded. The partial result is still returned.
	KindPartialResult
)

// String returns a stable name for the Kind.
func (k Kind) String() string {
	switch k {
	case KindUnknownBatch:
		return "UNKNOWN_BATCH"
	case KindValidation:
		return "VALIDATION"
	case KindConnectivity:
		return "CONNECTIVITY"
	case KindTimeout:
		return "TIMEOUT"
	case KindPartialResult:
		return "PARTIAL_RESULT"
	default:
		return "INTERNAL"
	}
}

// SentryError is the error type produced by all SENTRY components.
type SentryError struct {
	// Component indicates where the error occurred (e.g. "catalog", "tools", "guard").
	Component string
	// Message is a concise description of the error.
	Message string
	// Kind classifies the failure.
	Kind Kind
	// Err is the wrapped original error, if any.
	Err error
}

// New creates a new SentryError.
//
// Parameters:
//
//	component: The component where the error occurred.
//	message: The error message.
//	kind: The failure classification.
//	cause: The original error to wrap (may be nil).
func New(component, message string, kind Kind, cause error) *SentryError {
	return &SentryError{
		Component: component,
		Message:   message,
		Kind:      kind,
		Err:       cause,
	}
}

// Newf creates a new SentryError with a formatted message.
// If the final argument is an error, it is extracted and wrapped as the cause.
func Newf(component string, kind Kind, format string, a ...interface{}) *SentryError {
	var cause error
	if len(a) > 0 {
		if err, ok := a[len(a)-1].(error); ok {
			cause = err
			a = a[:len(a)-1]
		}
	}
	return &SentryError{
		Component: component,
		Message:   fmt.Sprintf(format, a...),
		Kind:      kind,
		Err:       cause,
	}
}

// Error implements the error interface.
// It returns the error's component, message, and the string representation of the cause.
func (e *SentryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Component, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Component, e.Message)
}

// Unwrap returns the wrapped cause for errors.Unwrap.
func (e *SentryError) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err. Non-SentryError values (including nil)
// classify as KindInternal.
func KindOf(err error) Kind {
	var se *SentryError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// IsKind reports whether err (or any error in its chain) is a SentryError
// of the given Kind.
func IsKind(err error, kind Kind) bool {
	var se *SentryError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// FromDBError maps a database driver error to a SentryError.
// Deadline expiry and cancellation map to KindTimeout; everything else is
// treated as a connectivity failure. The raw driver error is wrapped, not
// exposed in the message, so connection details never leak to users.
func FromDBError(component, operation string, err error) *SentryError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return New(component, fmt.Sprintf("%s exceeded its deadline", operation), KindTimeout, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline") {
		return New(component, fmt.Sprintf("%s exceeded its deadline", operation), KindTimeout, err)
	}
	return New(component, fmt.Sprintf("%s failed against the operational store", operation), KindConnectivity, err)
}

// UserMessage renders a plain-language summary of err suitable for end users.
// The underlying cause is named generically; connection strings, credentials,
// and stack state are never included.
func UserMessage(err error) string {
	var se *SentryError
	if !errors.As(err, &se) {
		return "An internal error occurred while processing the request."
	}
	switch se.Kind {
	case KindUnknownBatch:
		return se.Message
	case KindValidation:
		return "The generated query was rejected by the safety guard and was not executed."
	case KindConnectivity:
		return "An upstream system is unreachable (connection failure)."
	case KindTimeout:
		return "The operation timed out (connection timeout). Partial data may be shown."
	case KindPartialResult:
		return "Some of the requested data could not be fetched; results are incomplete."
	default:
		return "An internal error occurred while processing the request."
	}
}
