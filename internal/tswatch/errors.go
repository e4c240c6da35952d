package tswatch

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an *Error.
type Kind int

const (
	KindSecurity Kind = iota + 1
	KindValidation
	KindSchema
	KindNetwork
	KindHTTP
)

// Sentinels for errors.Is. Every *Error matches the sentinel of its Kind.
var (
	ErrSecurity   = errors.New("tswatch: security error")
	ErrValidation = errors.New("tswatch: validation error")
	ErrSchema     = errors.New("tswatch: schema error")
	ErrNetwork    = errors.New("tswatch: network error")
	ErrHTTP       = errors.New("tswatch: http error")
)

func (k Kind) sentinel() error {
	switch k {
	case KindSecurity:
		return ErrSecurity
	case KindValidation:
		return ErrValidation
	case KindSchema:
		return ErrSchema
	case KindNetwork:
		return ErrNetwork
	case KindHTTP:
		return ErrHTTP
	default:
		return nil
	}
}

func (k Kind) String() string {
	switch k {
	case KindSecurity:
		return "security"
	case KindValidation:
		return "validation"
	case KindSchema:
		return "schema"
	case KindNetwork:
		return "network"
	case KindHTTP:
		return "http"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every operation in this package.
// Status is an HTTP status code when one applies (400 for security errors).
type Error struct {
	Kind   Kind
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

func securityError(msg string) error {
	return &Error{Kind: KindSecurity, Status: http.StatusBadRequest, Msg: msg}
}

func validationError(msg string, err error) error {
	return &Error{Kind: KindValidation, Msg: msg, Err: err}
}

func schemaError(msg string, err error) error {
	return &Error{Kind: KindSchema, Msg: msg, Err: err}
}

func networkError(msg string, err error) error {
	return &Error{Kind: KindNetwork, Msg: msg, Err: err}
}

func httpError(msg string, status int) error {
	return &Error{Kind: KindHTTP, Status: status, Msg: msg}
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// UserMessage maps an HTTP status to text suitable for showing to a person.
func UserMessage(status int, fallback string) string {
	switch status {
	case http.StatusUnauthorized:
		return "Authentication required. Please log in again."
	case http.StatusForbidden:
		return "You do not have permission to view this notebook."
	case http.StatusNotFound:
		return "The requested notebook page was not found."
	case http.StatusUnprocessableEntity:
		return "Invalid notebook parameters."
	case http.StatusInternalServerError:
		return "Server error. Please try again later."
	default:
		return fallback
	}
}
