package common

import (
	"errors"
	"fmt"
)

// Wire-level error codes carried by websocket error events and acknowledgments.
const (
	CodeAuthentication = "AUTHENTICATION_ERROR"
	CodeValidation     = "VALIDATION_ERROR"
	CodeUpstream       = "UPSTREAM_ERROR"
	CodePersistence    = "PERSISTENCE_ERROR"
	CodeAuthorization  = "AUTHORIZATION_ERROR"
	CodeRateLimited    = "RATE_LIMITED"
	CodeCanceled       = "CANCELED"
	CodeInternal       = "INTERNAL_ERROR"
)

// Error is an error with a stable code and a message that is safe to show a user.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

func Validation(msg string) *Error { return NewError(CodeValidation, msg, nil) }

func Authentication(msg string, err error) *Error {
	return NewError(CodeAuthentication, msg, err)
}

func Persistence(msg string, err error) *Error { return NewError(CodePersistence, msg, err) }

// AsError maps any error onto the taxonomy; unknown errors become INTERNAL_ERROR.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(CodeInternal, "internal error", err)
}
