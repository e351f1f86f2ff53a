package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mcpgateway/gateway/internal/protocol"
)

func newTestManager(t *testing.T, timeout time.Duration) *Manager {
	t.Helper()
	return NewManager(zap.NewNop(), timeout)
}

func TestCreateSession_AtMostOnePerConnection(t *testing.T) {
	m := newTestManager(t, 0)
	s1 := m.CreateSession("conn-1")
	s2 := m.CreateSession("conn-1")
	got, ok := m.Get("conn-1")
	require.True(t, ok)
	assert.Same(t, s2, got)
	assert.NotSame(t, s1, s2)
}

func TestHandleInitialize_NegotiatesSupportedVersion(t *testing.T) {
	m := newTestManager(t, 0)
	s := m.CreateSession("conn-1")

	v, err := m.HandleInitialize(s, protocol.InitializeParams{
		ProtocolVersion: "2025-06-18",
		ClientInfo:      protocol.ClientInfo{Name: "t", Version: "1"},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, protocol.Version("2025-06-18"), v)
	assert.True(t, s.Initialized())
}

func TestHandleInitialize_StrictRejectsUnsupported(t *testing.T) {
	m := newTestManager(t, 0)
	s := m.CreateSession("conn-1")
	_, err := m.HandleInitialize(s, protocol.InitializeParams{ProtocolVersion: "1999-01-01"}, true)
	assert.Error(t, err)
}

func TestHandleInitialize_NonStrictFallsBackToDefault(t *testing.T) {
	m := newTestManager(t, 0)
	s := m.CreateSession("conn-1")
	v, err := m.HandleInitialize(s, protocol.InitializeParams{ProtocolVersion: "1999-01-01"}, false)
	require.NoError(t, err)
	assert.Equal(t, protocol.DefaultVersion, v)
}

func TestHandleInitialize_VersionImmutableAfterInit(t *testing.T) {
	m := newTestManager(t, 0)
	s := m.CreateSession("conn-1")
	_, err := m.HandleInitialize(s, protocol.InitializeParams{ProtocolVersion: "2024-11-05"}, true)
	require.NoError(t, err)

	v, err := m.HandleInitialize(s, protocol.InitializeParams{ProtocolVersion: "2025-06-18"}, true)
	require.NoError(t, err)
	assert.Equal(t, protocol.Version("2024-11-05"), v, "protocol version must stay pinned to the first negotiation")
}

func TestValidateRequestID_RejectsDuplicate(t *testing.T) {
	m := newTestManager(t, 0)
	s := m.CreateSession("conn-1")

	id := protocol.NewNumberID(42)
	require.NoError(t, m.ValidateRequestID(s, id))
	err := m.ValidateRequestID(s, id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Duplicate request ID")
}

func TestValidateRequestID_NullIDNeverDuplicates(t *testing.T) {
	m := newTestManager(t, 0)
	s := m.CreateSession("conn-1")
	var null protocol.ID
	require.NoError(t, json.Unmarshal([]byte("null"), &null))
	require.NoError(t, m.ValidateRequestID(s, null))
	require.NoError(t, m.ValidateRequestID(s, null))
}

func TestCleanupIdle(t *testing.T) {
	m := newTestManager(t, time.Millisecond)
	m.CreateSession("conn-1")
	time.Sleep(5 * time.Millisecond)
	removed := m.CleanupIdle()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, m.Count())
}
