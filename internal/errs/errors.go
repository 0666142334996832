// Package errs defines the shared error taxonomy for the runtime.
// Errors are classified by kind so callers can branch on failure class
// (retry on extraction failures, surface policy denials, and so on)
// without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind categorizes a runtime error.
type Kind string

const (
	// KindInvalidArguments indicates missing or type-mismatched inputs.
	KindInvalidArguments Kind = "invalid_arguments"

	// KindPolicyDenied indicates the policy tier returned deny, or ask
	// without approval.
	KindPolicyDenied Kind = "policy_denied"

	// KindWorkspaceViolation indicates a path escaped the workspace or
	// hit the deny-list.
	KindWorkspaceViolation Kind = "workspace_violation"

	// KindNotFound indicates an unknown tool, schedule, or run.
	KindNotFound Kind = "not_found"

	// KindTimeout indicates a node or tool exceeded its hard timeout.
	KindTimeout Kind = "timeout"

	// KindCanceled indicates a cancel token or marker was observed.
	KindCanceled Kind = "canceled"

	// KindExtractionFailed indicates the output extractor could not
	// coerce the raw text into the declared output type.
	KindExtractionFailed Kind = "extraction_failed"

	// KindValidationFailed indicates the extracted value failed the
	// declared schema check.
	KindValidationFailed Kind = "validation_failed"

	// KindExecutionFailed indicates a user-space handler failure after
	// normalization.
	KindExecutionFailed Kind = "execution_failed"

	// KindStoreError indicates a filesystem read/write failure on
	// critical state.
	KindStoreError Kind = "store_error"
)

// Error is a kinded runtime error.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Message is the human-readable summary.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	default:
		return string(e.Kind)
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a kinded error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a kinded error wrapping a cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the kind of err, or KindExecutionFailed for errors that
// carry no classification. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindExecutionFailed
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the node executor should retry after err.
// Only extraction and validation failures drive retries.
func Retryable(err error) bool {
	k := KindOf(err)
	return k == KindExtractionFailed || k == KindValidationFailed
}
