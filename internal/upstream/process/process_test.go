package process

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mcpgateway/gateway/internal/secureenv"
)

// fakeServerScript is a minimal POSIX shell stdio server that replies to any
// framed request carrying an "id" field with a canned initialize result,
// enough to exercise the handshake and request/response correlation without
// a real MCP server binary.
const fakeServerScript = `while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":"\([^"]*\)".*/\1/p')
  if [ -n "$id" ]; then
    printf '{"jsonrpc":"2.0","id":"%s","result":{"protocolVersion":"2025-06-18","capabilities":{"tools":{"listChanged":true}},"serverInfo":{"name":"fake","version":"1"}}}\n' "$id"
  fi
done
`

func newTestProcess(t *testing.T) *Process {
	t.Helper()
	cfg := Config{Name: "fake", Command: "sh", Args: []string{"-c", fakeServerScript}, RequestTimeout: 5 * time.Second}
	return New(zaptest.NewLogger(t), cfg, secureenv.NewBuilder(nil), nil, nil)
}

func TestStart_CompletesHandshakeAndCapturesCapabilities(t *testing.T) {
	p := newTestProcess(t)
	defer func() { _ = p.Stop() }()

	err := p.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReady, p.State())
	require.NotNil(t, p.Capabilities())
	assert.True(t, p.Capabilities().Tools.ListChanged)
}

func TestStart_HandshakeFailureIsLifecycleFailure(t *testing.T) {
	cfg := Config{Name: "nope", Command: "sh", Args: []string{"-c", "exit 1"}, RequestTimeout: 2 * time.Second}
	p := New(zaptest.NewLogger(t), cfg, secureenv.NewBuilder(nil), nil, nil)

	err := p.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateStopped, p.State())
}

func TestCall_ReturnsMatchingResponse(t *testing.T) {
	p := newTestProcess(t)
	defer func() { _ = p.Stop() }()
	require.NoError(t, p.Start(context.Background()))

	resp, err := p.Call(context.Background(), "tools/list", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Nil(t, resp.Error)
}

func TestCall_TimesOutWithoutKillingProcess(t *testing.T) {
	cfg := Config{Name: "slow", Command: "sh", Args: []string{"-c", fakeServerScript}, RequestTimeout: 10 * time.Millisecond}
	p := New(zaptest.NewLogger(t), cfg, secureenv.NewBuilder(nil), nil, nil)
	require.NoError(t, p.Start(context.Background()))
	defer func() { _ = p.Stop() }()

	// the fake server answers every request, so this call may finish or hit
	// its 10ms timeout; a timeout must leave the process Ready, not crash it.
	_, err := p.Call(context.Background(), "tools/list", json.RawMessage(`{}`))
	if err != nil {
		assert.Equal(t, StateReady, p.State())
	}
}

func TestStop_IsIdempotent(t *testing.T) {
	p := newTestProcess(t)
	require.NoError(t, p.Start(context.Background()))

	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())
	assert.Equal(t, StateStopped, p.State())
}
