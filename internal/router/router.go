// Package router implements the Agent Router (spec §4.D): polymorphic
// dispatch of a tool call to one of ten backend execution strategies.
package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mcpgateway/gateway/internal/gwerr"
	"github.com/mcpgateway/gateway/internal/protocol"
	"github.com/mcpgateway/gateway/internal/substitution"
)

// ExternalMCPExecutor is the collaborator the external_mcp arm delegates to
// (implemented by the upstream Manager, spec §4.G).
type ExternalMCPExecutor interface {
	ExecuteTool(ctx context.Context, server, tool string, args map[string]any) (*protocol.AgentResult, error)
}

// DiscoveryResolution is what a DiscoveryResolver returns for one call.
type DiscoveryResolution struct {
	Found     bool
	ToolName  string
	Arguments map[string]any
	Metadata  map[string]any
	NextStep  map[string]any
}

// DiscoveryResolver is the smart_discovery arm's collaborator (spec §4.D:
// "consult the discovery collaborator to pick a real tool name and argument
// map").
type DiscoveryResolver interface {
	Resolve(ctx context.Context, call protocol.ToolCall) (DiscoveryResolution, error)
}

// ToolLookup resolves a tool name to its definition, used by smart_discovery
// to recurse into Route with the discovered definition.
type ToolLookup interface {
	GetTool(name string) (*protocol.ToolDefinition, bool)
}

// defaultArmTimeout bounds any arm that doesn't specify its own timeout in
// its routing config.
const defaultArmTimeout = 30 * time.Second

// Router dispatches a validated tool call to the backend named by its
// routing configuration.
type Router struct {
	logger     *zap.Logger
	httpClient *http.Client

	externalMCP ExternalMCPExecutor
	discovery   DiscoveryResolver
	tools       ToolLookup
}

// New builds a Router. externalMCP/discovery/tools may be nil if those arms
// are unused (Route returns a routing error instead of panicking).
func New(logger *zap.Logger, externalMCP ExternalMCPExecutor, discovery DiscoveryResolver, tools ToolLookup) *Router {
	return &Router{
		logger:      logger,
		httpClient:  &http.Client{Timeout: defaultArmTimeout},
		externalMCP: externalMCP,
		discovery:   discovery,
		tools:       tools,
	}
}

// maxDiscoveryDepth caps smart_discovery recursion at a single indirection
// (spec §9: "guard with a single-step budget to prevent cycles"). A tool
// discovered by smart_discovery that is itself smart_discovery-typed is
// rejected rather than recursed into again.
const maxDiscoveryDepth = 1

// Route executes call against tool_def's routing configuration and returns a
// normalized AgentResult with execution metadata attached.
func (r *Router) Route(ctx context.Context, call protocol.ToolCall, td *protocol.ToolDefinition) (*protocol.AgentResult, error) {
	return r.route(ctx, call, td, 0)
}

func (r *Router) route(ctx context.Context, call protocol.ToolCall, td *protocol.ToolDefinition, depth int) (*protocol.AgentResult, error) {
	start := time.Now()

	var (
		result *protocol.AgentResult
		err    error
	)

	switch td.Routing.Type {
	case protocol.RouteSubprocess:
		result, err = r.routeSubprocess(ctx, call, td.Routing.Config)
	case protocol.RouteHTTP:
		result, err = r.routeHTTP(ctx, call, td.Routing.Config)
	case protocol.RouteLLM:
		result, err = r.routeLLM(ctx, call, td.Routing.Config)
	case protocol.RouteWebSocket:
		result, err = r.routeWebSocket(ctx, call, td.Routing.Config)
	case protocol.RouteDatabase:
		result, err = r.routeDatabase(ctx, call, td.Routing.Config)
	case protocol.RouteGRPC:
		result, err = r.routeGRPC(ctx, call, td.Routing.Config)
	case protocol.RouteSSE:
		result, err = r.routeSSE(ctx, call, td.Routing.Config)
	case protocol.RouteGraphQL:
		result, err = r.routeGraphQL(ctx, call, td.Routing.Config)
	case protocol.RouteExternalMCP:
		result, err = r.routeExternalMCP(ctx, call, td.Routing.Config)
	case protocol.RouteSmartDiscover:
		return r.routeSmartDiscovery(ctx, call, td.Routing.Config, depth) // attaches its own metadata
	default:
		return nil, gwerr.New(gwerr.KindRouting, "unknown routing type %q", td.Routing.Type)
	}

	if err != nil {
		return nil, err
	}
	attachMetadata(result, call.Name, td.Routing.Type, start)
	return result, nil
}

func attachMetadata(result *protocol.AgentResult, toolName string, kind protocol.RouteKind, start time.Time) {
	if result.Metadata == nil {
		result.Metadata = make(map[string]any)
	}
	result.Metadata["tool_name"] = toolName
	result.Metadata["routing_type"] = string(kind)
	result.Metadata["execution_type"] = string(kind)
	result.Metadata["execution_time_ms"] = time.Since(start).Milliseconds()
}

// armTimeout parses an optional "timeout_seconds" field from a routing
// config, falling back to defaultArmTimeout.
func armTimeout(raw json.RawMessage) time.Duration {
	var cfg struct {
		TimeoutSeconds float64 `json:"timeout_seconds"`
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &cfg)
	}
	if cfg.TimeoutSeconds <= 0 {
		return defaultArmTimeout
	}
	return time.Duration(cfg.TimeoutSeconds * float64(time.Second))
}

func substituteArgs(value map[string]any, call protocol.ToolCall) (map[string]any, error) {
	expanded, err := substitution.SubstituteJSON(map[string]any(value), call.Arguments, nil)
	if err != nil {
		return nil, err
	}
	m, ok := expanded.(map[string]any)
	if !ok {
		return nil, gwerr.New(gwerr.KindRouting, "substitution did not preserve object shape")
	}
	return m, nil
}

func substituteString(s string, call protocol.ToolCall) (string, error) {
	val, err := substitution.SubstituteString(s, call.Arguments, nil)
	if err != nil {
		return "", err
	}
	if str, ok := val.(string); ok {
		return str, nil
	}
	b, err := json.Marshal(val)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
