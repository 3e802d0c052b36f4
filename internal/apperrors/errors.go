// Package apperrors defines the error values that handlers translate into
// HTTP responses.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("not authorized")
)

// NotFoundError carries a resource specific message and matches ErrNotFound.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound builds a NotFoundError such as "Product not found".
func NotFound(resource string) error {
	return &NotFoundError{Message: resource + " not found"}
}

// NotFoundf builds a NotFoundError with a formatted message.
func NotFoundf(format string, args ...interface{}) error {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ForbiddenError carries a message and matches ErrForbidden.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string { return e.Message }

func (e *ForbiddenError) Is(target error) bool { return target == ErrForbidden }

// Forbidden builds a ForbiddenError.
func Forbidden(msg string) error {
	return &ForbiddenError{Message: msg}
}

// UnauthorizedError carries a message and matches ErrUnauthorized.
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string { return e.Message }

func (e *UnauthorizedError) Is(target error) bool { return target == ErrUnauthorized }

// Unauthorized builds an UnauthorizedError.
func Unauthorized(msg string) error {
	return &UnauthorizedError{Message: msg}
}

// FieldError describes a single invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned for client input that cannot be accepted.
type ValidationError struct {
	Message string
	Details []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, d.Field+": "+d.Message)
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

// NewValidationError reports a single invalid field. The field message
// doubles as the top level message.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{
		Message: msg,
		Details: []FieldError{{Field: field, Message: msg}},
	}
}

// BadRequest reports a request level failure that is not tied to a field.
func BadRequest(msg string) *ValidationError {
	return &ValidationError{Message: msg}
}

// Validation wraps a list of field errors under one message.
func Validation(msg string, details []FieldError) *ValidationError {
	return &ValidationError{Message: msg, Details: details}
}

// IsValidation reports whether err is a ValidationError and returns it.
func IsValidation(err error) (*ValidationError, bool) {
	var v *ValidationError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
