package api_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tacedge/tacgate/pkg/api"
	"github.com/tacedge/tacgate/pkg/types"
)

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code, body.Error.Message
}

func TestWriteErrorCode_EnvelopeAndStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	api.WriteErrorCode(rec, types.CodeForbidden, "role operator lacks permission audit:read")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	code, message := decodeErrorBody(t, rec)
	assert.Equal(t, "FORBIDDEN", code)
	assert.Equal(t, "role operator lacks permission audit:read", message)
}

func TestWriteError_TypedErrorPassesThrough(t *testing.T) {
	rec := httptest.NewRecorder()
	api.WriteError(rec, types.E(types.CodeNotFound, "message %s not found", "msg-1"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	code, message := decodeErrorBody(t, rec)
	assert.Equal(t, "NOT_FOUND", code)
	assert.Equal(t, "message msg-1 not found", message)
}

func TestWriteError_UnclassifiedErrorNeverLeaksDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	api.WriteError(rec, errors.New("dial tcp 10.0.0.1:6379: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	code, message := decodeErrorBody(t, rec)
	assert.Equal(t, "INTERNAL", code)
	assert.NotContains(t, message, "10.0.0.1")
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := api.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = api.GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	// Client-supplied ID is reused.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", seen)
}

func TestRateLimiter_BlocksBeyondBurst(t *testing.T) {
	rl := api.NewRateLimiter(1, 2)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.1.1.1:52000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)

	// A different IP has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.1.2:52000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
