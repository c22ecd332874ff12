package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping and logging.
type Kind string

const (
	// KindBadRequest covers missing or invalid parameters, malformed regexes,
	// unknown projects, and over-limit batches.
	KindBadRequest Kind = "bad_request"

	// KindNotFound covers named entities that do not exist.
	KindNotFound Kind = "not_found"

	// KindConflict covers uniqueness collisions on user-visible names.
	KindConflict Kind = "conflict"

	// KindUnavailable covers a store that cannot be opened or a saturated
	// worker pool. The caller may retry.
	KindUnavailable Kind = "unavailable"

	// KindTimeout covers bounded operations that exceeded their budget.
	KindTimeout Kind = "timeout"

	// KindInternal covers unexpected failures. The message is short and never
	// carries a stack trace.
	KindInternal Kind = "internal"

	// KindCorrupt covers violated invariants in the durable store. The service
	// keeps serving reads but refuses writes until inspection.
	KindCorrupt Kind = "corrupt"
)

// Error is the single error shape crossing component boundaries.
type Error struct {
	Kind       Kind
	Message    string
	Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Underlying
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error. A nil err yields nil.
func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Underlying: err}
}

// BadRequest creates a bad-request error with a formatted message.
func BadRequest(format string, args ...any) *Error {
	return Newf(KindBadRequest, format, args...)
}

// NotFound creates a not-found error with a formatted message.
func NotFound(format string, args ...any) *Error {
	return Newf(KindNotFound, format, args...)
}

// Unavailable wraps err as a retryable availability failure.
func Unavailable(message string, err error) *Error {
	return &Error{Kind: KindUnavailable, Message: message, Underlying: err}
}

// Timeout creates a timeout error with a formatted message.
func Timeout(format string, args ...any) *Error {
	return Newf(KindTimeout, format, args...)
}

// Internal wraps err as an unexpected failure.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Underlying: err}
}

// Corrupt wraps err as a durable-store invariant violation.
func Corrupt(message string, err error) *Error {
	return &Error{Kind: KindCorrupt, Message: message, Underlying: err}
}

// KindOf extracts the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error kind to its transport status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable, KindTimeout:
		return http.StatusServiceUnavailable
	default:
		// Internal and Corrupt both surface as 500. The store logs and flips
		// itself read-only when it raises Corrupt for a constraint violation;
		// Corrupt from decoding a stored blob leaves it writable.
		return http.StatusInternalServerError
	}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
