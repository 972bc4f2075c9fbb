// Package apperr defines the typed, HTTP-status-bearing errors carried
// through every layer of the intake pipeline.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Category classifies an error for clients and for retry posture.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryBusiness   Category = "business"
	CategoryNetwork    Category = "network"
	CategoryAuth       Category = "auth"
	CategoryInternal   Category = "internal"
)

// Error codes shared by handlers and middleware.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeInvalidJSON  = "INVALID_JSON"
	CodeRateLimit    = "RATE_LIMIT"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodePersistence  = "PERSISTENCE_ERROR"
	CodeInternal     = "INTERNAL_ERROR"
)

// Error is an application error with a stable code, an HTTP status and a
// category. Err holds the underlying cause, which is never shown to clients.
type Error struct {
	Code     string
	Message  string
	Details  any
	Status   int
	Category Category
	Err      error
}

// New constructs an application error.
func New(code, message string, details any, status int, category Category) *Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if category == "" {
		category = CategoryInternal
	}
	return &Error{
		Code:     code,
		Message:  message,
		Details:  details,
		Status:   status,
		Category: category,
	}
}

// Wrap constructs an application error around cause.
func Wrap(cause error, code, message string, status int, category Category) *Error {
	e := New(code, message, nil, status, category)
	e.Err = cause
	return e
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Validation reports invalid client input; details carries the violations.
func Validation(details any) *Error {
	return New(CodeValidation, "submission failed validation", details, http.StatusBadRequest, CategoryValidation)
}

// InvalidJSON reports an undecodable request body.
func InvalidJSON(cause error) *Error {
	return Wrap(cause, CodeInvalidJSON, "request body must be valid JSON", http.StatusBadRequest, CategoryValidation)
}

// RateLimited reports that the client exceeded its request budget.
func RateLimited(retryAfter time.Duration) *Error {
	details := map[string]int{"retry_after_seconds": int(retryAfter.Round(time.Second) / time.Second)}
	return New(CodeRateLimit, "too many requests, please try again later", details, http.StatusTooManyRequests, CategoryNetwork)
}

// Unauthorized reports missing or invalid credentials.
func Unauthorized(message string) *Error {
	if message == "" {
		message = "unauthorized"
	}
	return New(CodeUnauthorized, message, nil, http.StatusUnauthorized, CategoryAuth)
}

// NotFound reports a missing resource.
func NotFound(message string) *Error {
	return New(CodeNotFound, message, nil, http.StatusNotFound, CategoryBusiness)
}

// Persistence wraps a storage failure. The cause is logged, never returned
// to the client.
func Persistence(cause error) *Error {
	return Wrap(cause, CodePersistence, "unable to save your submission, please try again", http.StatusInternalServerError, CategoryInternal)
}

// Internal wraps an unclassified failure.
func Internal(cause error) *Error {
	return Wrap(cause, CodeInternal, "internal server error", http.StatusInternalServerError, CategoryInternal)
}
