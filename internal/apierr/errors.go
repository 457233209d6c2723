// Package apierr defines the typed error taxonomy shared by every
// subsystem. The dispatcher maps each type to a fixed HTTP status; nothing
// upstream of the dispatcher should format HTTP responses directly.
package apierr

import "net/http"

// Typed is implemented by every error in the taxonomy.
type Typed interface {
	error
	Status() int
	Code() string
}

type ValidationError struct {
	Message string
	Details any
}

func (e *ValidationError) Error() string { return e.Message }
func (e *ValidationError) Status() int   { return http.StatusBadRequest }
func (e *ValidationError) Code() string  { return "VALIDATION_ERROR" }

func Validation(msg string) *ValidationError { return &ValidationError{Message: msg} }

func ValidationWithDetails(msg string, details any) *ValidationError {
	return &ValidationError{Message: msg, Details: details}
}

type UnauthorizedError struct{ Message string }

func (e *UnauthorizedError) Error() string { return e.Message }
func (e *UnauthorizedError) Status() int   { return http.StatusUnauthorized }
func (e *UnauthorizedError) Code() string  { return "UNAUTHORIZED" }

func Unauthorized(msg string) *UnauthorizedError { return &UnauthorizedError{Message: msg} }

type ForbiddenError struct{ Message string }

func (e *ForbiddenError) Error() string { return e.Message }
func (e *ForbiddenError) Status() int   { return http.StatusForbidden }
func (e *ForbiddenError) Code() string  { return "FORBIDDEN" }

func Forbidden(msg string) *ForbiddenError { return &ForbiddenError{Message: msg} }

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }
func (e *NotFoundError) Status() int   { return http.StatusNotFound }
func (e *NotFoundError) Code() string  { return "NOT_FOUND" }

func NotFound(msg string) *NotFoundError { return &NotFoundError{Message: msg} }

type ConflictError struct{ Message string }

func (e *ConflictError) Error() string { return e.Message }
func (e *ConflictError) Status() int   { return http.StatusConflict }
func (e *ConflictError) Code() string  { return "CONFLICT" }

func Conflict(msg string) *ConflictError { return &ConflictError{Message: msg} }

type InternalError struct {
	Message string
	Cause   error
}

func (e *InternalError) Error() string { return e.Message }
func (e *InternalError) Status() int   { return http.StatusInternalServerError }
func (e *InternalError) Code() string  { return "INTERNAL_ERROR" }
func (e *InternalError) Unwrap() error { return e.Cause }

func Internal(cause error) *InternalError {
	msg := "internal server error"
	if cause != nil {
		msg = cause.Error()
	}
	return &InternalError{Message: msg, Cause: cause}
}

// AsTyped converts any error into the taxonomy, defaulting unknown errors
// to InternalError. devMode controls whether the InternalError's message
// carries the real cause or a generic string (spec's dev-mode toggle).
func AsTyped(err error, devMode bool) Typed {
	if err == nil {
		return nil
	}
	if t, ok := err.(Typed); ok {
		return t
	}
	if !devMode {
		return &InternalError{Message: "internal server error", Cause: err}
	}
	return &InternalError{Message: err.Error(), Cause: err}
}
