package transport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpgateway/gateway/internal/protocol"
)

func TestHandleJSONRPC_InitializeRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"t","version":"1"}}}`

	req := httptest.NewRequest(http.MethodPost, "/mcp/jsonrpc", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get(sessionHeader))

	var resp protocol.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Nil(t, resp.Error)
}

func TestHandleJSONRPC_NotificationReturns204(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	body := `{"jsonrpc":"2.0","method":"notifications/initialized"}`

	req := httptest.NewRequest(http.MethodPost, "/mcp/jsonrpc", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.Bytes())
}

func TestHandleJSONRPC_OversizedBodyIsParseError(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	huge := bytes.Repeat([]byte("a"), protocol.MaxMessageSize+10)

	req := httptest.NewRequest(http.MethodPost, "/mcp/jsonrpc", bytes.NewReader(huge))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp protocol.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeParseError, resp.Error.Code)
}

func TestHandleJSONRPC_ReadOnlyModeRejectsToolsCall(t *testing.T) {
	srv, reg := newTestServer(t, Config{ReadOnlyMode: true})
	require.NoError(t, reg.Load([]*protocol.ToolDefinition{
		{Tool: protocol.Tool{Name: "echo", Description: "d", InputSchema: json.RawMessage(`{}`)}, Enabled: true},
	}))

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{}}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp/jsonrpc", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandleJSONRPC_EchoesClientSuppliedSessionID(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	body := `{"jsonrpc":"2.0","method":"notifications/initialized"}`

	req := httptest.NewRequest(http.MethodPost, "/mcp/jsonrpc", strings.NewReader(body))
	req.Header.Set(sessionHeader, "my-session")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, "my-session", w.Header().Get(sessionHeader))
}
