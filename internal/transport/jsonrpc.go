package transport

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/mcpgateway/gateway/internal/protocol"
)

// handleJSONRPC implements POST /mcp/jsonrpc: one request, one response, no
// streaming (spec §6).
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, protocol.MaxMessageSize+1))
	if err != nil {
		writeParseError(w)
		return
	}
	if len(body) > protocol.MaxMessageSize {
		writeParseError(w)
		return
	}

	if peekMethod(body) == writeMethod && s.rejectIfReadOnly(w) {
		return
	}

	connID := connectionID(r)
	resp := s.dispatcher.HandleRaw(r.Context(), connID, body)

	w.Header().Set(sessionHeader, connID)
	w.Header().Set("Content-Type", "application/json")
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeParseError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	resp := protocol.NewErrorResponse(protocol.ID{}, &protocol.Error{
		Code:    protocol.CodeParseError,
		Message: "request body is not a valid JSON-RPC message or exceeds the size limit",
	})
	_ = json.NewEncoder(w).Encode(resp)
}
