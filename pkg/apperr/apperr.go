package apperr

import (
	"errors"
	"fmt"
)

// AppError carries a machine-readable code alongside a human-readable
// message. The message is the primary signal for callers; the code lets
// tests and UI code branch without string matching.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Code extracts the AppError code from err, or "" if err is not an
// AppError.
func Code(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// Is reports whether err is an AppError with the given code.
func Is(err error, code string) bool {
	return Code(err) == code
}

// Error codes
const (
	CodeNotAuthenticated = "NOT_AUTHENTICATED"
	CodeInvalidState     = "INVALID_STATE"
	CodeSelfReference    = "SELF_REFERENCE"
	CodeNotFound         = "NOT_FOUND"
	CodeAlreadyBlocked   = "ALREADY_BLOCKED"
	CodeBlocked          = "BLOCKED"
	CodeTransport        = "TRANSPORT_FAILURE"
	CodeValidation       = "VALIDATION_ERROR"
)
