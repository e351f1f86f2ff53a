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

type llmConfig struct {
	Provider       string            `json:"provider"` // openai | openai-compatible | ollama
	BaseURL        string            `json:"base_url"`
	Model          string            `json:"model"`
	APIKey         string            `json:"api_key"`
	Headers        map[string]string `json:"headers"`
	TimeoutSeconds float64           `json:"timeout_seconds"`
}

var llmDefaultPaths = map[string]string{
	"openai":            "https://api.openai.com/v1/chat/completions",
	"openai-compatible": "/v1/chat/completions",
	"ollama":             "/api/generate",
}

// routeLLM builds a provider-specific request body from
// arguments.{prompt,max_tokens,temperature} and surfaces the raw JSON
// response (spec §4.D llm).
func (r *Router) routeLLM(ctx context.Context, call protocol.ToolCall, raw json.RawMessage) (*protocol.AgentResult, error) {
	var cfg llmConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, gwerr.Wrap(gwerr.KindRouting, err, "invalid llm routing config")
	}
	if cfg.Provider != "openai" && cfg.Provider != "openai-compatible" && cfg.Provider != "ollama" {
		return nil, gwerr.New(gwerr.KindRouting, "unsupported llm provider %q", cfg.Provider)
	}

	ctx, cancel := context.WithTimeout(ctx, armTimeout(raw))
	defer cancel()

	prompt, _ := call.Arguments["prompt"].(string)
	maxTokens := call.Arguments["max_tokens"]
	temperature := call.Arguments["temperature"]

	url := cfg.BaseURL
	if url == "" {
		url = llmDefaultPaths[cfg.Provider]
	}

	var payload map[string]any
	switch cfg.Provider {
	case "ollama":
		payload = map[string]any{
			"model":  cfg.Model,
			"prompt": prompt,
			"stream": false,
		}
	default: // openai / openai-compatible
		payload = map[string]any{
			"model": cfg.Model,
			"messages": []map[string]any{
				{"role": "user", "content": prompt},
			},
		}
		if maxTokens != nil {
			payload["max_tokens"] = maxTokens
		}
		if temperature != nil {
			payload["temperature"] = temperature
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindSerde, err, "marshaling llm request body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindRouting, err, "building llm request")
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindHTTP, err, "llm request to %s failed", url)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindHTTP, err, "reading llm response body")
	}

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	result := &protocol.AgentResult{
		Success: success,
		Data:    decodeBody(respBody),
	}
	if !success {
		result.Error = "llm provider returned a non-2xx status"
	}
	return result, nil
}
