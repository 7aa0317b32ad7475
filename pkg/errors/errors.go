package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a class of application error.
type ErrorCode string

const (
	ErrInvalidTransition   ErrorCode = "INVALID_TRANSITION"
	ErrResourceUnavailable ErrorCode = "RESOURCE_UNAVAILABLE"
	ErrNoResourceAvailable ErrorCode = "NO_RESOURCE_AVAILABLE"
	ErrTransportFailure    ErrorCode = "TRANSPORT_FAILURE"
	ErrNotFound            ErrorCode = "NOT_FOUND"
	ErrValidation          ErrorCode = "VALIDATION"
	ErrInternal            ErrorCode = "INTERNAL"
)

// AppError represents an application error with a stable code.
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps an error code to the status returned to clients.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrInvalidTransition, ErrValidation:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrResourceUnavailable:
		return http.StatusConflict
	case ErrNoResourceAvailable:
		return http.StatusUnprocessableEntity
	case ErrTransportFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func NewInvalidTransition(from, to string) *AppError {
	return &AppError{
		Code:    ErrInvalidTransition,
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
	}
}

func NewResourceUnavailable(name string) *AppError {
	return &AppError{
		Code:    ErrResourceUnavailable,
		Message: fmt.Sprintf("resource %s is already reserved for an overlapping window", name),
	}
}

func NewNoResourceAvailable() *AppError {
	return &AppError{
		Code:    ErrNoResourceAvailable,
		Message: "no compatible resource available for the requested window",
	}
}

func NewTransportFailure(channel string, err error) *AppError {
	return &AppError{
		Code:    ErrTransportFailure,
		Message: fmt.Sprintf("failed to send via %s", channel),
		Err:     err,
	}
}

func NewNotFound(entity string) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", entity),
	}
}

func NewValidation(message string) *AppError {
	return &AppError{
		Code:    ErrValidation,
		Message: message,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// IsCode reports whether err carries the given application error code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
