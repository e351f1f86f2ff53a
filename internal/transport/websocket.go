package transport

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// upgrader allows any origin; the gateway's API key gate (when configured)
// is the access control, not the WebSocket handshake's Origin header.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket implements GET /mcp/ws: one session per connection, each
// text frame is one JSON-RPC message, and the dispatcher's initialize
// negotiates the protocol version on the first frame (spec §4.P WebSocket).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	ctx := r.Context()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug("websocket connection closed", zap.String("connection_id", connID), zap.Error(err))
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		if peekMethod(data) == writeMethod && s.cfg.ReadOnlyMode {
			_ = conn.WriteJSON(map[string]any{"error": "gateway is in read-only mode"})
			continue
		}

		resp := s.dispatcher.HandleRaw(ctx, connID, data)
		if resp == nil {
			continue
		}
		if err := conn.WriteJSON(resp); err != nil {
			s.logger.Debug("websocket write failed", zap.String("connection_id", connID), zap.Error(err))
			return
		}
	}
}
