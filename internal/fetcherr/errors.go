// Package fetcherr defines the error taxonomy shared by every stage of a fetch:
// request construction, admission, process invocation, output parsing and caching.
package fetcherr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Aslarex/go-curl2/internal/request"
)

// Kind classifies a fetch failure.
type Kind int

const (
	// KindUnknown is the zero value for unclassified errors.
	KindUnknown Kind = iota

	// KindConstruction is raised before any process is spawned: malformed proxy
	// notation, invalid header names or values, unusable URL.
	KindConstruction

	// KindAdmission means the in-flight ceiling was reached. Never queued or retried.
	KindAdmission

	// KindTransport means the transport process exited non-zero.
	KindTransport

	// KindAborted means the caller's context was cancelled. It outranks every other outcome.
	KindAborted

	// KindParse means the transport output had no recognizable response frame.
	KindParse

	// KindCache is a cache store failure. Recovered locally, never returned to callers.
	KindCache

	// KindBodyTooLarge means the response exceeded the configured body ceiling.
	KindBodyTooLarge
)

// String returns the kind's short name.
func (k Kind) String() string {
	switch k {
	case KindConstruction:
		return "construction"
	case KindAdmission:
		return "admission"
	case KindTransport:
		return "transport"
	case KindAborted:
		return "aborted"
	case KindParse:
		return "parse"
	case KindCache:
		return "cache"
	case KindBodyTooLarge:
		return "body_too_large"
	default:
		return "unknown"
	}
}

// HTTPStatus maps a kind to the status code the HTTP service answers with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindConstruction:
		return http.StatusBadRequest
	case KindAdmission:
		return http.StatusTooManyRequests
	case KindTransport, KindParse:
		return http.StatusBadGateway
	case KindAborted:
		return 499
	case KindBodyTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// Error carries enough context to diagnose a failed fetch without re-running it.
type Error struct {
	Kind    Kind
	Message string

	// Request is the request that failed, when known at the failing stage.
	Request *request.Request

	// ExitCode is the transport process exit code (KindTransport only).
	ExitCode int

	// Raw is the offending transport output (KindParse) or stderr tail (KindTransport).
	Raw string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	detail := e.Message
	if e.Err != nil {
		if detail == "" {
			detail = e.Err.Error()
		} else {
			detail += ": " + e.Err.Error()
		}
	}
	msg := e.Kind.String() + ": " + detail
	if e.Kind == KindTransport {
		msg = fmt.Sprintf("%s (exit %d)", msg, e.ExitCode)
	}
	if e.Request != nil && e.Request.URL != "" {
		msg = fmt.Sprintf("%s [%s %s]", msg, e.Request.Method, e.Request.URL)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// StatusCode implements the optional status accessor used by the HTTP service.
func (e *Error) StatusCode() int {
	if e == nil {
		return 0
	}
	return e.Kind.HTTPStatus()
}

// New returns an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind wrapping err.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Aborted returns a KindAborted error wrapping the context's cause, so that
// errors.Is(err, context.Canceled) keeps working for callers.
func Aborted(ctx context.Context) *Error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	return &Error{Kind: KindAborted, Message: "operation aborted", Err: cause}
}

// WithRequest attaches req to err when err is an *Error without one.
// Other errors are returned unchanged.
func WithRequest(err error, req *request.Request) error {
	var fe *Error
	if errors.As(err, &fe) && fe.Request == nil {
		fe.Request = req
	}
	return err
}

// KindOf returns the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsAborted reports whether err is a cancellation.
func IsAborted(err error) bool { return KindOf(err) == KindAborted }

// IsAdmission reports whether err is an admission rejection.
func IsAdmission(err error) bool { return KindOf(err) == KindAdmission }

// IsTransport reports whether err is a transport process failure.
func IsTransport(err error) bool { return KindOf(err) == KindTransport }

// IsParse reports whether err is an unparseable transport output.
func IsParse(err error) bool { return KindOf(err) == KindParse }
