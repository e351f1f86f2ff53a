package transport

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/mcpgateway/gateway/internal/protocol"
)

// The convenience routes (spec §6: "HTTP convenience (non-JSON-RPC)") mirror
// the semantics of the corresponding JSON-RPC method but speak plain JSON
// request/response bodies instead of the JSON-RPC envelope.

func (s *Server) handleConvenienceToolsList(w http.ResponseWriter, r *http.Request) {
	s.callMethod(w, r, "tools/list", nil)
}

func (s *Server) handleConvenienceToolsCall(w http.ResponseWriter, r *http.Request) {
	if s.rejectIfReadOnly(w) {
		return
	}
	s.callMethodFromBody(w, r, "tools/call")
}

func (s *Server) handleConvenienceResourcesList(w http.ResponseWriter, r *http.Request) {
	s.callMethod(w, r, "resources/list", nil)
}

func (s *Server) handleConvenienceResourcesRead(w http.ResponseWriter, r *http.Request) {
	s.callMethodFromBody(w, r, "resources/read")
}

func (s *Server) handleConveniencePromptsList(w http.ResponseWriter, r *http.Request) {
	s.callMethod(w, r, "prompts/list", nil)
}

func (s *Server) handleConveniencePromptsGet(w http.ResponseWriter, r *http.Request) {
	s.callMethodFromBody(w, r, "prompts/get")
}

func (s *Server) handleConvenienceSetLevel(w http.ResponseWriter, r *http.Request) {
	s.callMethodFromBody(w, r, "logging/setLevel")
}

// callMethodFromBody reads the request body as the method's params and
// dispatches it.
func (s *Server) callMethodFromBody(w http.ResponseWriter, r *http.Request, method string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, protocol.MaxMessageSize+1))
	if err != nil || len(body) > protocol.MaxMessageSize {
		writeParseError(w)
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	s.callMethod(w, r, method, json.RawMessage(body))
}

// callMethod builds a synthetic JSON-RPC request for method/params, runs it
// through the dispatcher, and writes the bare result (or error) as JSON —
// the convenience routes drop the JSON-RPC envelope entirely.
func (s *Server) callMethod(w http.ResponseWriter, r *http.Request, method string, params json.RawMessage) {
	connID := connectionID(r)
	req := &protocol.Request{
		JSONRPC: "2.0",
		ID:      protocol.NewStringID(uuid.NewString()),
		HasID:   true,
		Method:  method,
		Params:  params,
	}
	resp := s.dispatcher.Handle(r.Context(), connID, req)

	w.Header().Set(sessionHeader, connID)
	w.Header().Set("Content-Type", "application/json")
	if resp.Error != nil {
		w.WriteHeader(convenienceStatus(resp.Error.Code))
		_ = json.NewEncoder(w).Encode(resp.Error)
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp.Result)
}

func convenienceStatus(code int32) int {
	switch code {
	case protocol.CodeToolNotFound, protocol.CodeResourceNotFound, protocol.CodePromptNotFound, protocol.CodeNotFound:
		return http.StatusNotFound
	case protocol.CodeInvalidParams, protocol.CodeInvalidRequest, protocol.CodeValidationFailed:
		return http.StatusBadRequest
	case protocol.CodeAuthFailed:
		return http.StatusUnauthorized
	case protocol.CodeServiceUnavailable, protocol.CodeToolDisabled:
		return http.StatusServiceUnavailable
	case protocol.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
