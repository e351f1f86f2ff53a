package router

import (
	"context"
	"encoding/json"

	"github.com/mcpgateway/gateway/internal/gwerr"
	"github.com/mcpgateway/gateway/internal/protocol"
)

type externalMCPConfig struct {
	ServerName string `json:"server_name"`
	ToolName   string `json:"tool_name"`
}

// routeExternalMCP delegates to the External MCP Manager using the server
// name fixed in routing config — never by scanning connected backends
// (spec §4.D external_mcp, §4.G "Tool-to-server resolution").
func (r *Router) routeExternalMCP(ctx context.Context, call protocol.ToolCall, raw json.RawMessage) (*protocol.AgentResult, error) {
	var cfg externalMCPConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, gwerr.Wrap(gwerr.KindRouting, err, "invalid external_mcp routing config")
	}
	if cfg.ServerName == "" || cfg.ToolName == "" {
		return nil, gwerr.New(gwerr.KindRouting, "external_mcp routing config requires server_name and tool_name")
	}
	if r.externalMCP == nil {
		return nil, gwerr.New(gwerr.KindUnavailable, "no external MCP manager configured")
	}
	return r.externalMCP.ExecuteTool(ctx, cfg.ServerName, cfg.ToolName, call.Arguments)
}
