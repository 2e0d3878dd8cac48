package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for common conditions.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation error")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrConflict          = errors.New("conflict")
	ErrInternal          = errors.New("internal error")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Sentinel errors for run outcomes and runner plumbing.
var (
	ErrLaunch         = errors.New("run launch failed")
	ErrExecution      = errors.New("run execution failed")
	ErrIncomplete     = errors.New("run incomplete")
	ErrBinaryNotFound = errors.New("binary not found")
	ErrQueueClosed    = errors.New("event queue closed")
	ErrPoolStopped    = errors.New("worker pool stopped")
	ErrInterrupted    = errors.New("interrupted")
	ErrEmptyOutput    = errors.New("empty output")
)

// AppError is a structured error with an HTTP status code and optional fields.
type AppError struct {
	Err     error
	Message string
	Status  int
	Fields  map[string]string
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(format string, args ...any) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf(format, args...),
		Status:  http.StatusNotFound,
	}
}

// Validation creates a 400 error.
func Validation(format string, args ...any) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: fmt.Sprintf(format, args...),
		Status:  http.StatusBadRequest,
	}
}

// Conflict creates a 409 error.
func Conflict(format string, args ...any) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf(format, args...),
		Status:  http.StatusConflict,
	}
}

// Unavailable creates a 503 error, used while the runner is draining.
func Unavailable(format string, args ...any) *AppError {
	return &AppError{
		Err:     ErrPoolStopped,
		Message: fmt.Sprintf(format, args...),
		Status:  http.StatusServiceUnavailable,
	}
}

// HTTPStatus extracts the HTTP status code from an error, defaulting to 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, ErrBinaryNotFound):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrPoolStopped), errors.Is(err, ErrInterrupted):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
