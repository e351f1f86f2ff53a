package upstream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mcpgateway/gateway/internal/protocol"
)

// capabilitySnapshot is the cached result of one tools/resources/prompts
// discovery sweep against a backend (spec §4.G "initial capability discovery").
type capabilitySnapshot struct {
	tools     []protocol.Tool
	resources []json.RawMessage
	prompts   []json.RawMessage
	fetchedAt time.Time
}

func (s capabilitySnapshot) stale(ttl time.Duration) bool {
	return s.fetchedAt.IsZero() || time.Since(s.fetchedAt) > ttl
}

// discover runs tools/list, resources/list, and prompts/list against conn,
// tolerating a server that doesn't implement resources or prompts.
func discover(ctx context.Context, conn backendConn) (capabilitySnapshot, error) {
	var snap capabilitySnapshot

	resp, err := conn.Call(ctx, "tools/list", json.RawMessage(`{}`))
	if err != nil {
		return snap, err
	}
	if resp.Error != nil {
		return snap, resp.Error
	}
	var toolsResult struct {
		Tools []protocol.Tool `json:"tools"`
	}
	if err := remarshal(resp.Result, &toolsResult); err != nil {
		return snap, err
	}
	snap.tools = toolsResult.Tools

	if resp, err := conn.Call(ctx, "resources/list", json.RawMessage(`{}`)); err == nil && resp.Error == nil {
		var r struct {
			Resources []json.RawMessage `json:"resources"`
		}
		if remarshal(resp.Result, &r) == nil {
			snap.resources = r.Resources
		}
	}

	if resp, err := conn.Call(ctx, "prompts/list", json.RawMessage(`{}`)); err == nil && resp.Error == nil {
		var r struct {
			Prompts []json.RawMessage `json:"prompts"`
		}
		if remarshal(resp.Result, &r) == nil {
			snap.prompts = r.Prompts
		}
	}

	snap.fetchedAt = time.Now()
	return snap, nil
}

func remarshal(src any, dst any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
