package router

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/mcpgateway/gateway/internal/gwerr"
	"github.com/mcpgateway/gateway/internal/protocol"
)

type websocketConfig struct {
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers"`
	TimeoutSeconds float64           `json:"timeout_seconds"`
}

// routeWebSocket connects, sends one JSON message carrying the tool call,
// and waits for exactly one response frame; binary payloads are base64
// wrapped (spec §4.D websocket).
func (r *Router) routeWebSocket(ctx context.Context, call protocol.ToolCall, raw json.RawMessage) (*protocol.AgentResult, error) {
	var cfg websocketConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, gwerr.Wrap(gwerr.KindRouting, err, "invalid websocket routing config")
	}
	if cfg.URL == "" {
		return nil, gwerr.New(gwerr.KindRouting, "websocket routing config missing url")
	}

	ctx, cancel := context.WithTimeout(ctx, armTimeout(raw))
	defer cancel()

	url, err := substituteString(cfg.URL, call)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	for k, v := range cfg.Headers {
		expanded, err := substituteString(v, call)
		if err != nil {
			return nil, err
		}
		header.Set(k, expanded)
	}

	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindConnection, err, "websocket dial to %s failed", url)
	}
	defer conn.Close()

	payload, err := json.Marshal(map[string]any{
		"name":      call.Name,
		"arguments": call.Arguments,
	})
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindSerde, err, "marshaling websocket tool call")
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return nil, gwerr.Wrap(gwerr.KindConnection, err, "writing websocket message")
	}

	type readResult struct {
		kind int
		data []byte
		err  error
	}
	readCh := make(chan readResult, 1)
	go func() {
		kind, data, err := conn.ReadMessage()
		readCh <- readResult{kind, data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, gwerr.Wrap(gwerr.KindTimeout, ctx.Err(), "websocket response timed out")
	case res := <-readCh:
		if res.err != nil {
			return nil, gwerr.Wrap(gwerr.KindConnection, res.err, "reading websocket response")
		}
		if res.kind == websocket.BinaryMessage {
			return &protocol.AgentResult{
				Success: true,
				Data: map[string]any{
					"binary": base64.StdEncoding.EncodeToString(res.data),
				},
			}, nil
		}
		return &protocol.AgentResult{Success: true, Data: decodeBody(res.data)}, nil
	}
}
