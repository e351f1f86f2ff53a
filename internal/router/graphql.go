package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/mcpgateway/gateway/internal/gwerr"
	"github.com/mcpgateway/gateway/internal/protocol"
)

type graphqlConfig struct {
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers"`
	Query          string            `json:"query"`
	OperationName  string            `json:"operation_name"`
	TimeoutSeconds float64           `json:"timeout_seconds"`
}

// routeGraphQL POSTs {query, variables?, operationName?} and passes the
// response through; a non-empty errors array is preserved but does not by
// itself mark the call as failed (spec §4.D graphql).
func (r *Router) routeGraphQL(ctx context.Context, call protocol.ToolCall, raw json.RawMessage) (*protocol.AgentResult, error) {
	var cfg graphqlConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, gwerr.Wrap(gwerr.KindRouting, err, "invalid graphql routing config")
	}
	if cfg.URL == "" || cfg.Query == "" {
		return nil, gwerr.New(gwerr.KindRouting, "graphql routing config requires url and query")
	}

	ctx, cancel := context.WithTimeout(ctx, armTimeout(raw))
	defer cancel()

	url, err := substituteString(cfg.URL, call)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"query":     cfg.Query,
		"variables": call.Arguments,
	}
	if cfg.OperationName != "" {
		payload["operationName"] = cfg.OperationName
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindSerde, err, "marshaling graphql request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindRouting, err, "building graphql request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindHTTP, err, "graphql request to %s failed", url)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindHTTP, err, "reading graphql response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &protocol.AgentResult{Success: false, Error: "graphql endpoint returned a non-2xx status"}, nil
	}

	var parsed struct {
		Data   any   `json:"data"`
		Errors []any `json:"errors"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return &protocol.AgentResult{Success: true, Data: decodeBody(respBody)}, nil
	}

	result := &protocol.AgentResult{
		Success: true,
		Data: map[string]any{
			"data":   parsed.Data,
			"errors": parsed.Errors,
		},
	}
	return result, nil
}
