package discovery

import (
	"context"
	"fmt"

	"github.com/mcpgateway/gateway/internal/protocol"
	"github.com/mcpgateway/gateway/internal/router"
)

// Thresholds for deciding whether a search result is confident enough to
// resolve automatically rather than asking the caller to refine. There is
// no teacher equivalent (the teacher always returns its top-N hits to an
// LLM caller and lets the model choose); smart_discovery instead must pick
// one tool outright, so these are the resolver's own decision.
const (
	minResolveScore  = 0.5
	ambiguityMargin  = 0.05 // top two scores closer than this counts as ambiguous
)

// Resolve implements router.DiscoveryResolver. call.Arguments is expected to
// carry a "query" string describing the desired action and, optionally, an
// "arguments" map to forward to the resolved tool unchanged.
func (i *Index) Resolve(_ context.Context, call protocol.ToolCall) (router.DiscoveryResolution, error) {
	query, _ := call.Arguments["query"].(string)
	if query == "" {
		return router.DiscoveryResolution{
			Found:    false,
			Metadata: map[string]any{"reason": "smart_discovery requires a non-empty \"query\" argument"},
		}, nil
	}

	hits, err := i.Search(query, defaultSearchLimit)
	if err != nil {
		return router.DiscoveryResolution{}, fmt.Errorf("resolving %q: %w", query, err)
	}

	if len(hits) == 0 {
		return router.DiscoveryResolution{
			Found:    false,
			Metadata: map[string]any{"query": query, "candidates": 0},
			NextStep: map[string]any{
				"suggested_request": "rephrase the request with more specific keywords (tool name, action, or target system)",
				"reasoning":         "no indexed tool matched the query",
			},
		}, nil
	}

	top := hits[0]
	ambiguous := len(hits) > 1 && (top.Score-hits[1].Score) < ambiguityMargin

	if top.Score < minResolveScore || ambiguous {
		candidates := make([]string, 0, len(hits))
		for _, h := range hits {
			candidates = append(candidates, h.ToolName)
		}
		return router.DiscoveryResolution{
			Found: false,
			Metadata: map[string]any{
				"query":      query,
				"candidates": candidates,
			},
			NextStep: map[string]any{
				"suggested_request": fmt.Sprintf("disambiguate between: %v", candidates),
				"reasoning":         "top matches were too close in relevance to pick one automatically",
			},
		}, nil
	}

	args, _ := call.Arguments["arguments"].(map[string]any)
	return router.DiscoveryResolution{
		Found:     true,
		ToolName:  top.ToolName,
		Arguments: args,
		Metadata: map[string]any{
			"query": query,
			"score": top.Score,
		},
	}, nil
}
