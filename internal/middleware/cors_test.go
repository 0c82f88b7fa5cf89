package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func serve(origins []string, method, origin string) *httptest.ResponseRecorder {
	h := CORS(origins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(method, "/api/session", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCORSExplicitOriginGetsCredentials(t *testing.T) {
	rec := serve([]string{"https://promptpot.example"}, http.MethodGet, "https://promptpot.example")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://promptpot.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Promptpot-Session-ID")
}

func TestCORSWildcardHasNoCredentials(t *testing.T) {
	rec := serve([]string{"*"}, http.MethodGet, "https://anywhere.example")
	assert.Equal(t, "https://anywhere.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	rec := serve([]string{"https://promptpot.example"}, http.MethodGet, "https://evil.example")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	rec := serve([]string{"*"}, http.MethodOptions, "https://anywhere.example")
	assert.Equal(t, http.StatusOK, rec.Code)
}
