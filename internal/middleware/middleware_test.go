package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLogPreservesHandlerResponse(t *testing.T) {
	h := RequestLog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("nope"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chats/c1/messages", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "nope", rec.Body.String())
}

func TestRequestLogDefaultsToOK(t *testing.T) {
	h := RequestLog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoverJSONTurnsPanicIntoJSON500(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestRecoverJSONKeepsAlreadyWrittenStatus(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("after write")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync", nil))
	})

	// Статус уже отправлен клиенту, перезаписывать его нельзя.
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
