package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/mcpgateway/gateway/internal/gwerr"
	"github.com/mcpgateway/gateway/internal/protocol"
)

type httpConfig struct {
	Method         string            `json:"method"`
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers"`
	TimeoutSeconds float64           `json:"timeout_seconds"`
}

var bodyMethods = map[string]bool{"POST": true, "PUT": true, "PATCH": true}

// routeHTTP substitutes the URL and headers, sends arguments as a JSON body
// for POST/PUT/PATCH, and succeeds iff the response status is 2xx (spec
// §4.D http).
func (r *Router) routeHTTP(ctx context.Context, call protocol.ToolCall, raw json.RawMessage) (*protocol.AgentResult, error) {
	var cfg httpConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, gwerr.Wrap(gwerr.KindRouting, err, "invalid http routing config")
	}
	if cfg.URL == "" {
		return nil, gwerr.New(gwerr.KindRouting, "http routing config missing url")
	}
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	ctx, cancel := context.WithTimeout(ctx, armTimeout(raw))
	defer cancel()

	url, err := substituteString(cfg.URL, call)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if bodyMethods[method] {
		payload, err := json.Marshal(call.Arguments)
		if err != nil {
			return nil, gwerr.Wrap(gwerr.KindSerde, err, "marshaling http request body")
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindRouting, err, "building http request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range cfg.Headers {
		expanded, err := substituteString(v, call)
		if err != nil {
			return nil, err
		}
		req.Header.Set(k, expanded)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindHTTP, err, "http request to %s failed", url)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindHTTP, err, "reading http response body")
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	result := &protocol.AgentResult{
		Success: success,
		Data: map[string]any{
			"status":  resp.StatusCode,
			"headers": headers,
			"body":    decodeBody(respBody),
		},
	}
	if !success {
		result.Error = "http request returned a non-2xx status"
	}
	return result, nil
}

// decodeBody returns parsed JSON when the body looks like it, otherwise the
// raw string, so callers see structured data where available.
func decodeBody(b []byte) any {
	var v any
	if len(b) > 0 && json.Unmarshal(b, &v) == nil {
		return v
	}
	return string(b)
}
