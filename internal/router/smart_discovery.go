package router

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mcpgateway/gateway/internal/gwerr"
	"github.com/mcpgateway/gateway/internal/protocol"
)

// routeSmartDiscovery consults the discovery collaborator to resolve a real
// tool name and argument map, then recurses into route with the discovered
// definition at depth+1. When discovery fails or finds no mapping, its
// metadata and optional next_step hint are surfaced unchanged; the router
// never guesses a tool (spec §4.D smart_discovery). Recursion is capped at
// maxDiscoveryDepth: a tool discovered by smart_discovery that is itself
// smart_discovery-typed is rejected rather than followed again (spec §9).
func (r *Router) routeSmartDiscovery(ctx context.Context, call protocol.ToolCall, raw json.RawMessage, depth int) (*protocol.AgentResult, error) {
	start := time.Now()
	if depth >= maxDiscoveryDepth {
		return nil, gwerr.New(gwerr.KindRouting, "smart discovery indirection budget exceeded for %q", call.Name)
	}
	if r.discovery == nil {
		return nil, gwerr.New(gwerr.KindUnavailable, "no discovery collaborator configured")
	}

	resolution, err := r.discovery.Resolve(ctx, call)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindRouting, err, "smart discovery failed")
	}

	if !resolution.Found {
		result := &protocol.AgentResult{
			Success:  false,
			Error:    "smart discovery could not resolve a tool for this call",
			Metadata: resolution.Metadata,
		}
		if resolution.NextStep != nil {
			if result.Metadata == nil {
				result.Metadata = make(map[string]any)
			}
			result.Metadata["next_step"] = resolution.NextStep
		}
		attachMetadata(result, call.Name, protocol.RouteSmartDiscover, start)
		return result, nil
	}

	if r.tools == nil {
		return nil, gwerr.New(gwerr.KindUnavailable, "no tool lookup configured for smart discovery recursion")
	}
	td, ok := r.tools.GetTool(resolution.ToolName)
	if !ok {
		return nil, gwerr.New(gwerr.KindToolNotFound, "smart discovery resolved unknown tool %q", resolution.ToolName)
	}

	discoveredCall := protocol.ToolCall{Name: resolution.ToolName, Arguments: resolution.Arguments}
	result, err := r.route(ctx, discoveredCall, td, depth+1)
	if err != nil {
		return nil, err
	}
	if result.Metadata == nil {
		result.Metadata = make(map[string]any)
	}
	result.Metadata["discovered_via"] = "smart_discovery"
	result.Metadata["original_tool_name"] = call.Name
	attachMetadata(result, call.Name, protocol.RouteSmartDiscover, start)
	return result, nil
}
