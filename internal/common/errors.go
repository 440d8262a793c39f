package common

import (
	"errors"
	"net/http"
)

// Canonical error codes rendered in the error envelope.
const (
	CodeValidation = "VALIDATION_FAILED"
	CodeBadRequest = "BAD_REQUEST"
	CodeNotFound   = "NOT_FOUND"
	CodeConflict   = "CONFLICT"
	CodeInternal   = "INTERNAL"
	CodeForbidden  = "FORBIDDEN"
)

// ErrValidation is the sentinel wrapped by ValidationError.
var ErrValidation = errors.New("validation failed")

// ErrNotFound is the sentinel wrapped by NotFoundError.
var ErrNotFound = errors.New("not found")

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// WithDetails attaches structured details and returns the same error.
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// ValidationError reports malformed or out-of-range input.
func ValidationError(message string) *AppError {
	return NewAppError(CodeValidation, message, http.StatusBadRequest, ErrValidation)
}

// NotFoundError reports a missing resource by kind.
func NotFoundError(resource string) *AppError {
	return NewAppError(CodeNotFound, resource+" not found", http.StatusNotFound, ErrNotFound)
}
