package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIKeyGate_MissingKeyRejected(t *testing.T) {
	srv, _ := newTestServer(t, Config{APIKey: "secret"})

	req := httptest.NewRequest(http.MethodGet, "/mcp/tools", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPIKeyGate_WrongKeyRejected(t *testing.T) {
	srv, _ := newTestServer(t, Config{APIKey: "secret"})

	req := httptest.NewRequest(http.MethodGet, "/mcp/tools", nil)
	req.Header.Set("X-API-Key", "wrong")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPIKeyGate_ValidHeaderKeyAccepted(t *testing.T) {
	srv, _ := newTestServer(t, Config{APIKey: "secret"})

	req := httptest.NewRequest(http.MethodGet, "/mcp/tools", nil)
	req.Header.Set("X-API-Key", "secret")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyGate_ValidQueryParamKeyAccepted(t *testing.T) {
	srv, _ := newTestServer(t, Config{APIKey: "secret"})

	req := httptest.NewRequest(http.MethodGet, "/mcp/tools?apikey=secret", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyGate_DisabledWhenUnconfigured(t *testing.T) {
	srv, _ := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/mcp/tools", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthAndReadyRoutes_BypassAPIKeyGate(t *testing.T) {
	srv, _ := newTestServer(t, Config{APIKey: "secret"})

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.True(t, strings.Contains(w.Body.String(), "true") || strings.Contains(w.Body.String(), "ok"), path)
	}
}
