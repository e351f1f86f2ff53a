package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseRequest(t *testing.T, raw string) *Request {
	t.Helper()
	var req Request
	require.NoError(t, json.Unmarshal([]byte(raw), &req))
	return &req
}

func TestValidateRaw(t *testing.T) {
	assert.NoError(t, ValidateRaw([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)))
	assert.Error(t, ValidateRaw([]byte(``)))
	assert.Error(t, ValidateRaw([]byte(`{not json`)))
}

func TestValidateEnvelope_RequiresID(t *testing.T) {
	req := parseRequest(t, `{"jsonrpc":"2.0","method":"tools/list"}`)
	err := ValidateEnvelope(req, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires an id")
}

func TestValidateEnvelope_NotificationMustNotHaveID(t *testing.T) {
	req := parseRequest(t, `{"jsonrpc":"2.0","id":1,"method":"notifications/initialized"}`)
	err := ValidateEnvelope(req, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not carry an id")
}

func TestValidateEnvelope_StrictRejectsUnknownMethod(t *testing.T) {
	req := parseRequest(t, `{"jsonrpc":"2.0","id":1,"method":"totally/unknown"}`)
	err := ValidateEnvelope(req, true)
	require.Error(t, err)

	req2 := parseRequest(t, `{"jsonrpc":"2.0","id":1,"method":"totally/unknown"}`)
	assert.NoError(t, ValidateEnvelope(req2, false))
}

func TestValidateEnvelope_WrongVersion(t *testing.T) {
	req := parseRequest(t, `{"jsonrpc":"1.0","id":1,"method":"tools/list"}`)
	err := ValidateEnvelope(req, false)
	require.Error(t, err)
}

func TestValidateMethodParams_ToolsCall(t *testing.T) {
	err := ValidateMethodParams("tools/call", json.RawMessage(`{"name":"echo","arguments":{"x":1}}`))
	assert.NoError(t, err)

	err = ValidateMethodParams("tools/call", json.RawMessage(`{"arguments":{}}`))
	assert.Error(t, err)

	err = ValidateMethodParams("tools/call", json.RawMessage(`{"name":"echo","arguments":[1,2]}`))
	assert.Error(t, err)
}

func TestValidateMethodParams_Initialize(t *testing.T) {
	ok := json.RawMessage(`{"clientInfo":{"name":"t","version":"1"}}`)
	assert.NoError(t, ValidateMethodParams("initialize", ok))

	bad := json.RawMessage(`{}`)
	assert.Error(t, ValidateMethodParams("initialize", bad))
}

func TestValidateMethodParams_LoggingSetLevel(t *testing.T) {
	assert.NoError(t, ValidateMethodParams("logging/setLevel", json.RawMessage(`{"level":"debug"}`)))
	assert.Error(t, ValidateMethodParams("logging/setLevel", json.RawMessage(`{"level":"bogus"}`)))
}

func TestValidateMethodParams_CompletionComplete(t *testing.T) {
	assert.NoError(t, ValidateMethodParams("completion/complete", json.RawMessage(`{"ref":{"type":"ref/prompt"}}`)))
	assert.Error(t, ValidateMethodParams("completion/complete", json.RawMessage(`{"ref":{"type":"nope"}}`)))
}

func TestIsSupportedVersion(t *testing.T) {
	assert.True(t, IsSupported("2025-06-18"))
	assert.False(t, IsSupported("1999-01-01"))
}

func TestRequest_Notification(t *testing.T) {
	req := parseRequest(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.True(t, req.IsNotification())
	req2 := parseRequest(t, `{"jsonrpc":"2.0","id":5,"method":"tools/list"}`)
	assert.False(t, req2.IsNotification())
}
