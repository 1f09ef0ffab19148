// Package apperrors defines the error taxonomy surfaced at interface
// boundaries. Usecases return an *Error; the HTTP layer maps its code to a
// status, background components log it and move to the next unit of work.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	BadRequest          Code = "bad_request"
	NotFound            Code = "not_found"
	DependencyFailed    Code = "dependency_failed"
	InternalServerError Code = "internal_server_error"
)

// Error carries a machine code plus feedback safe to show to end users.
type Error struct {
	Code         Code   `json:"error_code"`
	UserFeedback string `json:"user_feedback"`
	cause        error
}

func New(code Code, feedback string) *Error {
	return &Error{Code: code, UserFeedback: feedback}
}

// Wrap attaches an underlying cause that is logged but never rendered.
func Wrap(code Code, feedback string, cause error) *Error {
	return &Error{Code: code, UserFeedback: feedback, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.UserFeedback, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.UserFeedback)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches on code so callers can compare against sentinel-style values,
// e.g. errors.Is(err, apperrors.New(apperrors.NotFound, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// CodeOf extracts the taxonomy code, defaulting to InternalServerError for
// untyped failures (DB, Redis, AMQP, serialization).
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return InternalServerError
}

// HTTPStatus maps a taxonomy code to its wire status.
func HTTPStatus(code Code) int {
	switch code {
	case BadRequest:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case DependencyFailed:
		return http.StatusFailedDependency
	default:
		return http.StatusInternalServerError
	}
}

// Feedback returns the user-facing message, hiding internals for untyped errors.
func Feedback(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.UserFeedback
	}
	return "internal server error"
}
