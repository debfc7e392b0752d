// Package apperr models the §7 error taxonomy as a typed Go error instead
// of scattering http.Error calls through handlers. It is the idiomatic-Go
// analogue of the reference server's ErrorBody/json_error pair.
package apperr

import "net/http"

// Kind classifies an error into one of the HTTP response classes the spec
// defines.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindPaymentRequired
	KindConflict
	KindNotFound
)

// Error carries a Kind, a stable machine-readable code, and a
// human-readable message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Status maps the error's Kind to the HTTP status code the handler layer
// should respond with.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindPaymentRequired:
		return http.StatusPaymentRequired
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Validation(code, message string) *Error       { return New(KindValidation, code, message) }
func Forbidden(code, message string) *Error        { return New(KindForbidden, code, message) }
func PaymentRequired(code, message string) *Error  { return New(KindPaymentRequired, code, message) }
func Conflict(code, message string) *Error         { return New(KindConflict, code, message) }
func NotFound(code, message string) *Error         { return New(KindNotFound, code, message) }
func Internal(code, message string) *Error         { return New(KindInternal, code, message) }

// Banned is the standard 403 returned when a user's banned_at_ms_utc is set.
func Banned() *Error {
	return Forbidden("banned", "user is banned")
}

// QuotaExceeded is the standard 402 returned when a user is already over
// their effective quota before any mutation is attempted.
func QuotaExceeded() *Error {
	return PaymentRequired("quota_exceeded", "user is over their effective quota")
}
