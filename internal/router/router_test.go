package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mcpgateway/gateway/internal/protocol"
)

func newTestRouter(t *testing.T, ext ExternalMCPExecutor, disc DiscoveryResolver, tools ToolLookup) *Router {
	return New(zaptest.NewLogger(t), ext, disc, tools)
}

func TestRoute_Subprocess_Success(t *testing.T) {
	r := newTestRouter(t, nil, nil, nil)
	td := &protocol.ToolDefinition{
		Tool: protocol.Tool{Name: "echo_tool"},
		Routing: protocol.Routing{
			Type:   protocol.RouteSubprocess,
			Config: json.RawMessage(`{"command":"echo","args":["{message}"]}`),
		},
	}
	call := protocol.ToolCall{Name: "echo_tool", Arguments: map[string]any{"message": "hello"}}

	result, err := r.Route(context.Background(), call, td)
	require.NoError(t, err)
	assert.True(t, result.Success)
	data := result.Data.(map[string]any)
	assert.Contains(t, data["stdout"], "hello")
	assert.Equal(t, "echo_tool", result.Metadata["tool_name"])
	assert.Equal(t, "subprocess", result.Metadata["routing_type"])
}

func TestRoute_Subprocess_NonZeroExit(t *testing.T) {
	r := newTestRouter(t, nil, nil, nil)
	td := &protocol.ToolDefinition{
		Tool:    protocol.Tool{Name: "fail_tool"},
		Routing: protocol.Routing{Type: protocol.RouteSubprocess, Config: json.RawMessage(`{"command":"false"}`)},
	}
	result, err := r.Route(context.Background(), protocol.ToolCall{Name: "fail_tool"}, td)
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestRoute_HTTP_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	r := newTestRouter(t, nil, nil, nil)
	td := &protocol.ToolDefinition{
		Tool:    protocol.Tool{Name: "http_tool"},
		Routing: protocol.Routing{Type: protocol.RouteHTTP, Config: json.RawMessage(`{"method":"GET","url":"` + srv.URL + `"}`)},
	}
	result, err := r.Route(context.Background(), protocol.ToolCall{Name: "http_tool"}, td)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestRoute_HTTP_NonTwoXXFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := newTestRouter(t, nil, nil, nil)
	td := &protocol.ToolDefinition{
		Tool:    protocol.Tool{Name: "http_tool"},
		Routing: protocol.Routing{Type: protocol.RouteHTTP, Config: json.RawMessage(`{"method":"GET","url":"` + srv.URL + `"}`)},
	}
	result, err := r.Route(context.Background(), protocol.ToolCall{Name: "http_tool"}, td)
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestRoute_GraphQL_PreservesErrorsWithoutFailing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":null,"errors":[{"message":"field not found"}]}`))
	}))
	defer srv.Close()

	r := newTestRouter(t, nil, nil, nil)
	td := &protocol.ToolDefinition{
		Tool: protocol.Tool{Name: "gql_tool"},
		Routing: protocol.Routing{
			Type:   protocol.RouteGraphQL,
			Config: json.RawMessage(`{"url":"` + srv.URL + `","query":"{ field }"}`),
		},
	}
	result, err := r.Route(context.Background(), protocol.ToolCall{Name: "gql_tool"}, td)
	require.NoError(t, err)
	assert.True(t, result.Success)
	data := result.Data.(map[string]any)
	assert.NotEmpty(t, data["errors"])
}

type fakeExternalMCP struct {
	calls []string
}

func (f *fakeExternalMCP) ExecuteTool(ctx context.Context, server, tool string, args map[string]any) (*protocol.AgentResult, error) {
	f.calls = append(f.calls, server+":"+tool)
	return &protocol.AgentResult{Success: true, Data: "ok"}, nil
}

func TestRoute_ExternalMCP_DelegatesToManager(t *testing.T) {
	fake := &fakeExternalMCP{}
	r := newTestRouter(t, fake, nil, nil)
	td := &protocol.ToolDefinition{
		Tool:    protocol.Tool{Name: "remote_tool"},
		Routing: protocol.Routing{Type: protocol.RouteExternalMCP, Config: json.RawMessage(`{"server_name":"fs","tool_name":"list"}`)},
	}
	result, err := r.Route(context.Background(), protocol.ToolCall{Name: "remote_tool"}, td)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"fs:list"}, fake.calls)
}

type fakeDiscovery struct {
	resolution DiscoveryResolution
}

func (f *fakeDiscovery) Resolve(ctx context.Context, call protocol.ToolCall) (DiscoveryResolution, error) {
	return f.resolution, nil
}

type fakeTools struct {
	tools map[string]*protocol.ToolDefinition
}

func (f *fakeTools) GetTool(name string) (*protocol.ToolDefinition, bool) {
	td, ok := f.tools[name]
	return td, ok
}

func TestRoute_SmartDiscovery_RecursesIntoDiscoveredTool(t *testing.T) {
	discovered := &protocol.ToolDefinition{
		Tool:    protocol.Tool{Name: "real_tool"},
		Routing: protocol.Routing{Type: protocol.RouteSubprocess, Config: json.RawMessage(`{"command":"echo","args":["hi"]}`)},
	}
	disc := &fakeDiscovery{resolution: DiscoveryResolution{Found: true, ToolName: "real_tool", Arguments: map[string]any{}}}
	tools := &fakeTools{tools: map[string]*protocol.ToolDefinition{"real_tool": discovered}}

	r := newTestRouter(t, nil, disc, tools)
	td := &protocol.ToolDefinition{
		Tool:    protocol.Tool{Name: "smart_tool"},
		Routing: protocol.Routing{Type: protocol.RouteSmartDiscover, Config: json.RawMessage(`{}`)},
	}
	result, err := r.Route(context.Background(), protocol.ToolCall{Name: "smart_tool"}, td)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "smart_discovery", result.Metadata["discovered_via"])
}

func TestRoute_SmartDiscovery_NotFoundSurfacesNextStep(t *testing.T) {
	disc := &fakeDiscovery{resolution: DiscoveryResolution{
		Found:    false,
		NextStep: map[string]any{"suggested_request": "try search_tools first"},
	}}
	r := newTestRouter(t, nil, disc, nil)
	td := &protocol.ToolDefinition{
		Tool:    protocol.Tool{Name: "smart_tool"},
		Routing: protocol.Routing{Type: protocol.RouteSmartDiscover, Config: json.RawMessage(`{}`)},
	}
	result, err := r.Route(context.Background(), protocol.ToolCall{Name: "smart_tool"}, td)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotNil(t, result.Metadata["next_step"])
}

// TestRoute_SmartDiscovery_RejectsSecondIndirection guards the single-step
// recursion budget (spec §9): a tool discovered by smart_discovery that is
// itself smart_discovery-typed must be rejected, not recursed into again.
func TestRoute_SmartDiscovery_RejectsSecondIndirection(t *testing.T) {
	again := &protocol.ToolDefinition{
		Tool:    protocol.Tool{Name: "smart_tool_2"},
		Routing: protocol.Routing{Type: protocol.RouteSmartDiscover, Config: json.RawMessage(`{}`)},
	}
	disc := &fakeDiscovery{resolution: DiscoveryResolution{Found: true, ToolName: "smart_tool_2", Arguments: map[string]any{}}}
	tools := &fakeTools{tools: map[string]*protocol.ToolDefinition{"smart_tool_2": again}}

	r := newTestRouter(t, nil, disc, tools)
	td := &protocol.ToolDefinition{
		Tool:    protocol.Tool{Name: "smart_tool_1"},
		Routing: protocol.Routing{Type: protocol.RouteSmartDiscover, Config: json.RawMessage(`{}`)},
	}
	_, err := r.Route(context.Background(), protocol.ToolCall{Name: "smart_tool_1"}, td)
	assert.Error(t, err)
}

func TestRoute_UnknownRoutingType(t *testing.T) {
	r := newTestRouter(t, nil, nil, nil)
	td := &protocol.ToolDefinition{
		Tool:    protocol.Tool{Name: "weird_tool"},
		Routing: protocol.Routing{Type: protocol.RouteKind("smoke_signal")},
	}
	_, err := r.Route(context.Background(), protocol.ToolCall{Name: "weird_tool"}, td)
	assert.Error(t, err)
}
