package dispatcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpgateway/gateway/internal/cancellation"
	"github.com/mcpgateway/gateway/internal/notify"
	"github.com/mcpgateway/gateway/internal/progress"
	"github.com/mcpgateway/gateway/internal/prompts"
	"github.com/mcpgateway/gateway/internal/protocol"
	"github.com/mcpgateway/gateway/internal/registry"
	"github.com/mcpgateway/gateway/internal/resources"
	"github.com/mcpgateway/gateway/internal/router"
	"github.com/mcpgateway/gateway/internal/session"
	"github.com/mcpgateway/gateway/internal/toolvalidator"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *registry.Registry) {
	t.Helper()
	logger := zap.NewNop()
	reg := registry.New(logger)
	rt := router.New(logger, nil, nil, reg)
	cancelMgr := cancellation.New(logger)
	t.Cleanup(cancelMgr.Close)

	d := New(Deps{
		Logger:       logger,
		Sessions:     session.NewManager(logger, 0),
		Registry:     reg,
		Router:       rt,
		Validator:    toolvalidator.New(toolvalidator.DefaultLimits()),
		Cancellation: cancelMgr,
		Progress:     progress.New(logger),
		Notify:       notify.New(logger, notify.Capabilities{ToolsListChanged: true}),
		Resources:    resources.New(logger),
		Prompts:      prompts.New(logger),
		Capabilities: notify.Capabilities{ToolsListChanged: true},
	})
	return d, reg
}

func initializeRequest() *protocol.Request {
	params, _ := json.Marshal(protocol.InitializeParams{
		ProtocolVersion: string(protocol.DefaultVersion),
		ClientInfo:      protocol.ClientInfo{Name: "test-client", Version: "1.0"},
	})
	return &protocol.Request{JSONRPC: "2.0", ID: protocol.NewNumberID(1), HasID: true, Method: "initialize", Params: params}
}

func TestHandle_Initialize(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.Handle(context.Background(), "conn1", initializeRequest())
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(*protocol.InitializeResult)
	require.True(t, ok)
	assert.Equal(t, string(protocol.DefaultVersion), result.ProtocolVersion)
	assert.True(t, result.Capabilities.Tools.ListChanged)
}

func TestHandle_UnknownMethodIsMethodNotFound(t *testing.T) {
	d, _ := newTestDispatcher(t)
	req := &protocol.Request{JSONRPC: "2.0", ID: protocol.NewNumberID(1), HasID: true, Method: "nonexistent/method"}
	resp := d.Handle(context.Background(), "conn1", req)
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeMethodNotFound, resp.Error.Code)
}

func TestHandle_NotificationReturnsNilResponse(t *testing.T) {
	d, _ := newTestDispatcher(t)
	req := &protocol.Request{JSONRPC: "2.0", Method: "notifications/initialized"}
	resp := d.Handle(context.Background(), "conn1", req)
	assert.Nil(t, resp)
}

func TestHandle_DuplicateRequestIDRejected(t *testing.T) {
	d, _ := newTestDispatcher(t)
	req1 := &protocol.Request{JSONRPC: "2.0", ID: protocol.NewStringID("dup"), HasID: true, Method: "tools/list"}
	req2 := &protocol.Request{JSONRPC: "2.0", ID: protocol.NewStringID("dup"), HasID: true, Method: "tools/list"}

	resp1 := d.Handle(context.Background(), "conn1", req1)
	require.Nil(t, resp1.Error)

	resp2 := d.Handle(context.Background(), "conn1", req2)
	require.NotNil(t, resp2.Error)
	assert.Equal(t, protocol.CodeInvalidRequest, resp2.Error.Code)
}

func TestHandle_ToolsCallUnknownToolIsResultObjectNotError(t *testing.T) {
	d, _ := newTestDispatcher(t)
	params, _ := json.Marshal(map[string]any{"name": "nope", "arguments": map[string]any{}})
	req := &protocol.Request{JSONRPC: "2.0", ID: protocol.NewNumberID(1), HasID: true, Method: "tools/call", Params: params}
	resp := d.Handle(context.Background(), "conn1", req)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(*protocol.ToolResult)
	require.True(t, ok)
	assert.False(t, result.Success)
	assert.True(t, result.IsError)
	assert.Equal(t, "Tool 'nope' not found", result.Error)
	assert.Equal(t, "tool_not_found", result.Metadata["error_category"])
}

func TestHandle_ToolsCallHTTPSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)

	d, reg := newTestDispatcher(t)
	routingCfg, _ := json.Marshal(map[string]any{"method": "GET", "url": srv.URL})
	require.NoError(t, reg.Load([]*protocol.ToolDefinition{
		{
			Tool:    protocol.Tool{Name: "ping", Description: "pings a server", InputSchema: json.RawMessage(`{}`)},
			Routing: protocol.Routing{Type: protocol.RouteHTTP, Config: routingCfg},
			Enabled: true,
		},
	}))

	params, _ := json.Marshal(map[string]any{"name": "ping", "arguments": map[string]any{}})
	req := &protocol.Request{JSONRPC: "2.0", ID: protocol.NewNumberID(2), HasID: true, Method: "tools/call", Params: params}
	resp := d.Handle(context.Background(), "conn1", req)
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(*protocol.ToolResult)
	require.True(t, ok)
	assert.True(t, result.Success)
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Contains(t, result.Content[0].Text, "\"status\": 200")
}

func TestHandle_ToolsCallDisabledToolRejected(t *testing.T) {
	d, reg := newTestDispatcher(t)
	require.NoError(t, reg.Load([]*protocol.ToolDefinition{
		{Tool: protocol.Tool{Name: "disabled-tool", Description: "d", InputSchema: json.RawMessage(`{}`)}, Enabled: false},
	}))
	params, _ := json.Marshal(map[string]any{"name": "disabled-tool", "arguments": map[string]any{}})
	req := &protocol.Request{JSONRPC: "2.0", ID: protocol.NewNumberID(3), HasID: true, Method: "tools/call", Params: params}
	resp := d.Handle(context.Background(), "conn1", req)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(*protocol.ToolResult)
	require.True(t, ok)
	assert.False(t, result.Success)
	assert.True(t, result.IsError)
	assert.Equal(t, "tool_disabled", result.Metadata["error_category"])
}

func TestCompactNextStep_TruncatesReasoning(t *testing.T) {
	longReason := ""
	for i := 0; i < 200; i++ {
		longReason += "x"
	}
	out := compactNextStep(map[string]any{"suggested_request": "search", "reasoning": longReason})
	assert.Equal(t, "search", out["suggested_request"])
	assert.Len(t, out["reasoning"], nextStepReasoningMaxLen)
}

func TestHandle_ResourcesAndPromptsDefaultEmpty(t *testing.T) {
	d, _ := newTestDispatcher(t)
	req := &protocol.Request{JSONRPC: "2.0", ID: protocol.NewNumberID(4), HasID: true, Method: "resources/list"}
	resp := d.Handle(context.Background(), "conn1", req)
	require.Nil(t, resp.Error)
	m, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	assert.Empty(t, m["resources"])
}

func TestHandle_LoggingSetLevelUnconfiguredIsUnavailable(t *testing.T) {
	d, _ := newTestDispatcher(t)
	params, _ := json.Marshal(map[string]any{"level": "debug"})
	req := &protocol.Request{JSONRPC: "2.0", ID: protocol.NewNumberID(5), HasID: true, Method: "logging/setLevel", Params: params}
	resp := d.Handle(context.Background(), "conn1", req)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeServiceUnavailable, resp.Error.Code)
}

func TestHandle_LoggingSetLevelAppliesToAtomicLevel(t *testing.T) {
	logger := zap.NewNop()
	reg := registry.New(logger)
	rt := router.New(logger, nil, nil, reg)
	atom := zap.NewAtomicLevelAt(zap.InfoLevel)
	cancelMgr := cancellation.New(logger)
	t.Cleanup(cancelMgr.Close)

	d := New(Deps{
		Logger:       logger,
		Sessions:     session.NewManager(logger, 0),
		Registry:     reg,
		Router:       rt,
		Cancellation: cancelMgr,
		Level:        &atom,
	})

	params, _ := json.Marshal(map[string]any{"level": "debug"})
	req := &protocol.Request{JSONRPC: "2.0", ID: protocol.NewNumberID(6), HasID: true, Method: "logging/setLevel", Params: params}
	resp := d.Handle(context.Background(), "conn1", req)
	require.Nil(t, resp.Error)
	assert.Equal(t, zap.DebugLevel, atom.Level())
}

func TestDefaultCompletion_PrefixMatchesPrompts(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.prompts.Register(prompts.Prompt{Name: "summarize-text", Template: "Summarize: {text}"})
	d.prompts.Register(prompts.Prompt{Name: "summarize-code", Template: "Summarize: {code}"})
	d.prompts.Register(prompts.Prompt{Name: "translate", Template: "Translate: {text}"})

	result, err := d.completion.Complete(context.Background(), CompletionRef{Type: "ref/prompt"}, CompletionArgument{Value: "summarize"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.False(t, result.HasMore)
	assert.ElementsMatch(t, []string{"summarize-code", "summarize-text"}, result.Values)
}

func TestForwardRequest_NoSamplingServiceReturnsErrorResponse(t *testing.T) {
	d, _ := newTestDispatcher(t)
	req := &protocol.Request{JSONRPC: "2.0", ID: protocol.NewNumberID(7), HasID: true, Method: "sampling/createMessage"}
	resp, err := d.ForwardRequest(context.Background(), "backend-a", req)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeServiceUnavailable, resp.Error.Code)
}

type fakeSampling struct{ result json.RawMessage }

func (f fakeSampling) CreateMessage(context.Context, json.RawMessage) (json.RawMessage, error) {
	return f.result, nil
}

func TestForwardRequest_DelegatesToSamplingService(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.SetSampling(fakeSampling{result: json.RawMessage(`{"role":"assistant","content":"hi"}`)})

	req := &protocol.Request{JSONRPC: "2.0", ID: protocol.NewNumberID(8), HasID: true, Method: "sampling/createMessage"}
	resp, err := d.ForwardRequest(context.Background(), "backend-a", req)
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	m, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "assistant", m["role"])
}

func TestHandle_ToolsCallRegistersAndCompletesCancellationToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	d, reg := newTestDispatcher(t)
	routingCfg, _ := json.Marshal(map[string]any{"method": "GET", "url": srv.URL})
	require.NoError(t, reg.Load([]*protocol.ToolDefinition{
		{
			Tool:    protocol.Tool{Name: "ping", Description: "pings", InputSchema: json.RawMessage(`{}`)},
			Routing: protocol.Routing{Type: protocol.RouteHTTP, Config: routingCfg},
			Enabled: true,
		},
	}))

	params, _ := json.Marshal(map[string]any{"name": "ping", "arguments": map[string]any{}})
	req := &protocol.Request{JSONRPC: "2.0", ID: protocol.NewNumberID(9), HasID: true, Method: "tools/call", Params: params}
	d.Handle(context.Background(), "conn1", req)

	// The token is removed by Complete() once the call finishes, so a second
	// call with the same id must be able to register a fresh one rather than
	// erroring "already registered".
	time.Sleep(time.Millisecond)
	assert.False(t, d.cancellation.IsCancelled("9"))
	_, err := d.cancellation.Register(context.Background(), "9", 0)
	assert.NoError(t, err)
}
