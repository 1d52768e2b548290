package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies failures for propagation and presentation.
type Kind string

const (
	KindNotAuthenticated Kind = "NOT_AUTHENTICATED"
	KindEmailNotAllowed  Kind = "EMAIL_NOT_ALLOWED"
	KindNotFound         Kind = "NOT_FOUND"
	KindValidation       Kind = "VALIDATION_ERROR"
	KindStore            Kind = "STORE_ERROR"
)

// Error carries a Kind and a dotted operation code alongside the cause.
type Error struct {
	kind    Kind
	code    string
	message string
	err     error
}

func (e *Error) Error() string {
	switch {
	case e.err == nil && e.message == "":
		return e.code
	case e.err == nil:
		return fmt.Sprintf("%s: %s", e.code, e.message)
	default:
		return fmt.Sprintf("%s: %v", e.code, e.err)
	}
}

func (e *Error) Unwrap() error {
	return e.err
}

// Kind returns the failure classification.
func (e *Error) Kind() Kind {
	return e.kind
}

// Code returns the operation.reason code.
func (e *Error) Code() string {
	return e.code
}

// Message returns the short user-visible message, falling back to the cause.
func (e *Error) Message() string {
	if e.message != "" {
		return e.message
	}
	if e.err != nil {
		return e.err.Error()
	}
	return e.code
}

// New builds an Error with code "<operation>.<reason>".
func New(kind Kind, operation, reason string, cause error) *Error {
	return &Error{
		kind: kind,
		code: fmt.Sprintf("%s.%s", operation, reason),
		err:  cause,
	}
}

// Validation builds a VALIDATION_ERROR with a user-visible message.
func Validation(operation, reason, message string) *Error {
	return &Error{
		kind:    KindValidation,
		code:    fmt.Sprintf("%s.%s", operation, reason),
		message: message,
	}
}

// Store wraps a collaborator failure as STORE_ERROR.
func Store(operation, reason string, cause error) *Error {
	return New(KindStore, operation, reason, cause)
}

// NotFound builds a NOT_FOUND error.
func NotFound(operation, reason string) *Error {
	return &Error{
		kind:    KindNotFound,
		code:    fmt.Sprintf("%s.%s", operation, reason),
		message: "not found",
	}
}

// WithMessage returns a copy of e carrying the given user-visible message.
func (e *Error) WithMessage(message string) *Error {
	clone := *e
	clone.message = message
	return &clone
}

// KindOf reports the Kind of err, treating unclassified errors as STORE_ERROR.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.kind
	}
	return KindStore
}

// CodeOf reports the code of err or an empty string.
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.code
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}
