// Package api holds the HTTP plumbing shared by every handler: the
// error envelope, JSON helpers, request IDs and per-IP rate limiting.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tacedge/tacgate/pkg/types"
)

// errorBody is the wire shape of every error response:
// {"error": {"code": "...", "message": "..."}}.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
}

// WriteJSON writes a JSON success response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteErrorCode writes the error envelope for a code with an explicit
// message. The HTTP status is derived from the code.
func WriteErrorCode(w http.ResponseWriter, code types.ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Code: code, Message: message}})
}

// WriteError maps any error onto the envelope. Unclassified errors are
// logged and reported as INTERNAL without leaking detail to the client.
func WriteError(w http.ResponseWriter, err error) {
	apiErr := types.AsError(err)
	if apiErr.Code == types.CodeInternal {
		slog.Error("internal server error", "error", err)
		WriteErrorCode(w, types.CodeInternal, "An unexpected error occurred")
		return
	}
	WriteErrorCode(w, apiErr.Code, apiErr.Message)
}

// WriteValidation writes a 400 VALIDATION error.
func WriteValidation(w http.ResponseWriter, message string) {
	WriteErrorCode(w, types.CodeValidation, message)
}

// WriteUnauthorized writes a 401 UNAUTHORIZED error.
func WriteUnauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Authentication required"
	}
	WriteErrorCode(w, types.CodeUnauthorized, message)
}

// WriteInvalidToken writes a 401 INVALID_TOKEN error.
func WriteInvalidToken(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Invalid or expired token"
	}
	WriteErrorCode(w, types.CodeInvalidToken, message)
}

// WriteForbidden writes a 403 FORBIDDEN error.
func WriteForbidden(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Insufficient permissions"
	}
	WriteErrorCode(w, types.CodeForbidden, message)
}

// WriteNotFound writes a 404 NOT_FOUND error.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteErrorCode(w, types.CodeNotFound, message)
}

// WriteTooManyRequests writes a 429 with a Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	if retryAfterSecs < 1 {
		retryAfterSecs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{
		Code:    "RATE_LIMITED",
		Message: "Rate limit exceeded. Retry after the specified interval.",
	}})
}
