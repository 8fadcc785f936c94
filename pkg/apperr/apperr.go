// Package apperr defines the error taxonomy shared by the chat engine and its
// HTTP surface. Errors carry a stable string code; transports map codes to
// status codes, internals wrap causes for logs.
package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeValidation       Code = "VALIDATION"
	CodeAccessDenied     Code = "ACCESS_DENIED"
	CodeNotFound         Code = "NOT_FOUND"
	CodeConflict         Code = "CONFLICT"
	CodeDeliveryDegraded Code = "DELIVERY_DEGRADED"
	CodeInternal         Code = "INTERNAL"
)

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func Validation(msg string) error {
	return New(CodeValidation, msg)
}

func AccessDenied(msg string) error {
	return New(CodeAccessDenied, msg)
}

func NotFound(msg string) error {
	return New(CodeNotFound, msg)
}

func Conflict(msg string) error {
	return New(CodeConflict, msg)
}

func Internal(msg string, cause error) error {
	return Wrap(CodeInternal, msg, cause)
}

// CodeOf extracts the code from err, unwrapping as needed.
// Non-taxonomy errors report CodeInternal.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
