package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const sseHeartbeatInterval = 30 * time.Second

// handleSSE implements the deprecated GET /mcp/stream transport: it opens an
// event stream, advertises the upgrade hint, and sends a periodic heartbeat.
// The response stream is advisory only (spec §4.P SSE (legacy)); a client
// that wants to actually send requests still uses /mcp/jsonrpc or
// /mcp/streamable and treats this stream as a one-way notification channel.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-MCP-Deprecated", "true")
	w.Header().Set("X-MCP-Upgrade-To", "streamable-http")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)

	connID := connectionID(r)
	if err := writeSSEEvent(w, flusher, canFlush, "session", map[string]any{"id": connID}); err != nil {
		return
	}

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if err := writeSSEEvent(w, flusher, canFlush, "ping", map[string]any{"timestamp": time.Now().Unix()}); err != nil {
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, canFlush bool, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	if canFlush {
		flusher.Flush()
	}
	return nil
}
