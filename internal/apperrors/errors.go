// Package apperrors defines the stable error taxonomy for the fraud-rule
// governance service. Every caller-visible failure is one of the kinds below;
// the HTTP layer maps kinds to status codes and serializes the
// {error, message, details} envelope. Details carry machine-readable context
// (path, field_key, operator, ruleset_version_id, ...) so clients can handle
// failures programmatically instead of parsing message strings.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies an error class in the taxonomy.
type Kind string

const (
	ValidationError   Kind = "ValidationError"
	NotFoundError     Kind = "NotFoundError"
	ConflictError     Kind = "ConflictError"
	InvalidStateError Kind = "InvalidStateError"
	ForbiddenError    Kind = "ForbiddenError"
	CompilationError  Kind = "CompilationError"
	PublishingError   Kind = "PublishingError"
	IntegrityError    Kind = "IntegrityError"
	UnavailableError  Kind = "UnavailableError"
)

// Error is a classified domain error with optional structured details.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// WithCause attaches an underlying error and returns the receiver.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// New creates an error of the given kind.
func New(kind Kind, message string, details map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

func Validation(message string, details map[string]any) *Error {
	return New(ValidationError, message, details)
}

func NotFound(message string, details map[string]any) *Error {
	return New(NotFoundError, message, details)
}

func Conflict(message string, details map[string]any) *Error {
	return New(ConflictError, message, details)
}

func InvalidState(message string, details map[string]any) *Error {
	return New(InvalidStateError, message, details)
}

func Forbidden(message string, details map[string]any) *Error {
	return New(ForbiddenError, message, details)
}

func Compilation(message string, details map[string]any) *Error {
	return New(CompilationError, message, details)
}

func Publishing(message string, details map[string]any) *Error {
	return New(PublishingError, message, details)
}

func Integrity(message string, details map[string]any) *Error {
	return New(IntegrityError, message, details)
}

func Unavailable(message string, details map[string]any) *Error {
	return New(UnavailableError, message, details)
}

// KindOf returns the taxonomy kind of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// DetailsOf returns the structured details of a classified error, or nil.
func DetailsOf(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// StatusCode maps an error to the HTTP status the transport layer should use.
// Unclassified errors are treated as internal failures.
func StatusCode(err error) int {
	switch KindOf(err) {
	case ValidationError:
		return http.StatusBadRequest
	case NotFoundError:
		return http.StatusNotFound
	case ConflictError, InvalidStateError:
		return http.StatusConflict
	case ForbiddenError:
		return http.StatusForbidden
	case CompilationError:
		return http.StatusUnprocessableEntity
	case PublishingError, IntegrityError:
		return http.StatusInternalServerError
	case UnavailableError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the wire shape for caller-visible errors.
type Envelope struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ToEnvelope converts err into the serializable error envelope. Unclassified
// errors are reported as internal without leaking the underlying message.
func ToEnvelope(err error) Envelope {
	var e *Error
	if errors.As(err, &e) {
		return Envelope{Error: string(e.Kind), Message: e.Message, Details: e.Details}
	}
	return Envelope{Error: "InternalError", Message: "internal server error"}
}
