// Package autherr holds the error taxonomy shared by every auth component.
// Handlers map these to HTTP status codes in one place instead of each
// component choosing its own status.
package autherr

import "errors"

// Kind is a one-line discriminator, not a type hierarchy — components
// return *Error and handlers switch on Kind.
type Kind string

const (
	KindBadRequest          Kind = "BadRequest"
	KindUnauthorized        Kind = "Unauthorized"
	KindFailedLogin         Kind = "FailedLogin"
	KindForbidden           Kind = "Forbidden"
	KindNotFound            Kind = "NotFound"
	KindConflict            Kind = "Conflict"
	KindUnprocessableEntity Kind = "UnprocessableEntity"
	KindInternal            Kind = "InternalServerError"
	KindBadGateway          Kind = "BadGateway"
	KindServiceUnavailable  Kind = "ServiceUnavailable"
)

// Status is the HTTP status code normally associated with a Kind.
func (k Kind) Status() int {
	switch k {
	case KindBadRequest:
		return 400
	case KindUnauthorized, KindFailedLogin:
		return 401
	case KindForbidden:
		return 403
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	case KindUnprocessableEntity:
		return 422
	case KindBadGateway:
		return 502
	case KindServiceUnavailable:
		return 503
	default:
		return 500
	}
}

// Error is the error type every public operation in the auth core returns.
// RefID is populated for Internal errors so the response and the log line
// can be correlated without leaking internals to the client.
type Error struct {
	Kind    Kind
	Message string
	RefID   string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// FailedLogin always carries this exact text — password, OTP, and
// unknown-user failures must be indistinguishable to the caller.
func FailedLogin() *Error {
	return &Error{Kind: KindFailedLogin, Message: "Failed Login: login failed."}
}

// As reports whether err is (or wraps) an *Error, mirroring errors.As.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is an *Error, else KindInternal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}
