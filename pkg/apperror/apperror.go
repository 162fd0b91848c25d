// Package apperror defines the error taxonomy shared by the HTTP surface
// and the live-connection handlers. Services return these; the echo error
// handler maps them to status codes, and fan-out loops downgrade delivery
// failures to logged warnings.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation decisions.
type Kind int

const (
	// KindInternal is an unexpected fault. Surfaces as 500.
	KindInternal Kind = iota
	// KindValidation is malformed or missing input. Surfaces as 400.
	KindValidation
	// KindAuthorization means the caller is not allowed to touch the
	// resource (not a participant, not the message owner). Surfaces as 403.
	KindAuthorization
	// KindNotFound means the conversation, message, or connection is
	// absent. Surfaces as 404.
	KindNotFound
	// KindTransientDelivery is a failed push to a single live connection.
	// Never surfaces to callers; fan-out loops log and continue.
	KindTransientDelivery
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindTransientDelivery:
		return "transient_delivery"
	default:
		return "internal"
	}
}

// Error is the concrete error type carried across layers.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is match on kind when the target is a *Error with no
// message, so sentinel-style comparisons work in tests.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Authorization(format string, args ...interface{}) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func TransientDelivery(msg string, err error) *Error {
	return &Error{Kind: KindTransientDelivery, Message: msg, Err: err}
}

func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf extracts the Kind from any error. Unknown errors are internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to the status code the request boundary returns.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the human-readable reason for 4xx classes and a generic
// string otherwise, so internal details never leak to clients.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind != KindInternal && ae.Kind != KindTransientDelivery {
		return ae.Message
	}
	return "internal server error"
}
