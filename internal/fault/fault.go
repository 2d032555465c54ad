// Package fault defines the error taxonomy shared by the scan pipeline.
//
// Every failure that crosses a component boundary is a *Fault carrying a
// Kind (the classification), the pipeline Phase it occurred in, a message,
// and an optional wrapped cause. Handlers map Kinds to HTTP status codes;
// the CLI maps them to exit codes; the orchestrator uses them to decide
// whether a phase attempt may be retried.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	KindBadRequest       Kind = "bad_request"
	KindRobotsDenied     Kind = "robots_denied"
	KindUnreachable      Kind = "unreachable"
	KindTimeout          Kind = "timeout"
	KindResourceExceeded Kind = "resource_exceeded"
	KindEmptyCSS         Kind = "empty_css"
	KindParseFailure     Kind = "parse_failure"
	KindStorageConflict  Kind = "storage_conflict"
	KindCanceled         Kind = "canceled"
	KindInternal         Kind = "internal"
)

// Fault is a classified pipeline error.
type Fault struct {
	Kind    Kind
	Phase   string
	Message string
	Cause   error
}

// New creates a Fault without a cause.
func New(kind Kind, phase, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Phase: phase, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a Fault around an underlying error.
func Wrap(kind Kind, phase string, cause error, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Phase: phase, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Error implements error.
func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s [%s/%s]: %v", f.Message, f.Kind, f.Phase, f.Cause)
	}
	return fmt.Sprintf("%s [%s/%s]", f.Message, f.Kind, f.Phase)
}

// Unwrap exposes the cause for errors.Is/As chains.
func (f *Fault) Unwrap() error { return f.Cause }

// KindOf extracts the Kind from any error. Context cancellation and
// deadline errors classify as Canceled and Timeout even when they were
// never wrapped; everything else unclassified is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// From normalizes any error into a *Fault, stamping phase when the error
// was not already classified.
func From(err error, phase string) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return Wrap(KindOf(err), phase, err, "unclassified failure")
}

// Retryable reports whether a phase attempt hitting this kind may be
// retried with backoff. Timeouts are first-class failures, never retries.
func Retryable(kind Kind) bool {
	return kind == KindUnreachable
}

// Terminal reports whether the kind ends the scan regardless of retries.
func Terminal(kind Kind) bool {
	switch kind {
	case KindParseFailure:
		// Partial parse failures degrade to warnings, never terminal alone.
		return false
	default:
		return kind != "" && !Retryable(kind)
	}
}

// HTTPStatus maps a Kind to the status code served at the API boundary.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindRobotsDenied:
		return http.StatusForbidden
	case KindUnreachable:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindResourceExceeded:
		return http.StatusRequestEntityTooLarge
	case KindEmptyCSS:
		return http.StatusUnprocessableEntity
	case KindParseFailure:
		// Partial failures surface as warnings on an otherwise successful result.
		return http.StatusOK
	case KindCanceled:
		// Client closed request; nginx convention.
		return 499
	case KindStorageConflict, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// CLI exit codes for the operator surface.
const (
	ExitOK          = 0
	ExitBadArgument = 2
	ExitOperational = 3
	ExitScanFailed  = 4
)

// ExitCode maps an error to the CLI exit code contract.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case KindBadRequest:
		return ExitBadArgument
	case KindRobotsDenied, KindUnreachable, KindTimeout, KindResourceExceeded,
		KindEmptyCSS, KindCanceled:
		return ExitScanFailed
	default:
		return ExitOperational
	}
}
