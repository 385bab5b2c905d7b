package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is the closed set of error kinds surfaced to clients.
type ErrorCode string

const (
	CodeUnauthorized  ErrorCode = "UNAUTHORIZED"
	CodeInvalidToken  ErrorCode = "INVALID_TOKEN"
	CodeForbidden     ErrorCode = "FORBIDDEN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeAlreadyQueued ErrorCode = "ALREADY_QUEUED"
	CodeAuthFailed    ErrorCode = "AUTH_FAILED"
	CodeInternal      ErrorCode = "INTERNAL"
)

// HTTPStatus maps the error code to its response status.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case CodeUnauthorized, CodeInvalidToken:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyQueued:
		return http.StatusConflict
	case CodeAuthFailed:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a client-visible code and message through the pipeline.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// E builds an Error with a formatted message.
func E(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts a *Error from err, or wraps err as INTERNAL.
// Internal detail is never leaked into the client message.
func AsError(err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Code: CodeInternal, Message: "an unexpected error occurred"}
}
