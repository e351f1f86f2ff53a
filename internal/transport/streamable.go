package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/mcpgateway/gateway/internal/protocol"
)

const (
	contentTypeJSON   = "application/json"
	contentTypeNDJSON = "application/x-ndjson"
)

// handleStreamable implements POST /mcp/streamable (spec §4.P, §6): a single
// JSON object, a JSON array (batch, capped at cfg.MaxBatchSize), or
// newline-delimited JSON, detected by top-level shape for application/json
// and by content type for NDJSON.
func (s *Server) handleStreamable(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-MCP-Transport", "streamable-http")
	w.Header().Set("X-MCP-Version", string(protocol.DefaultVersion))
	connID := connectionID(r)
	w.Header().Set(sessionHeader, connID)

	contentType := strings.ToLower(strings.TrimSpace(strings.SplitN(r.Header.Get("Content-Type"), ";", 2)[0]))
	if contentType == contentTypeNDJSON {
		s.handleStreamableNDJSON(w, r, connID)
		return
	}
	s.handleStreamableJSON(w, r, connID)
}

func (s *Server) handleStreamableJSON(w http.ResponseWriter, r *http.Request, connID string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, protocol.MaxMessageSize+1))
	if err != nil || len(body) > protocol.MaxMessageSize {
		writeParseError(w)
		return
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		writeParseError(w)
		return
	}

	w.Header().Set("Content-Type", contentTypeJSON)

	if trimmed[0] != '[' {
		if peekMethod(trimmed) == writeMethod && s.rejectIfReadOnly(w) {
			return
		}
		resp := s.dispatcher.HandleRaw(r.Context(), connID, trimmed)
		w.WriteHeader(http.StatusOK)
		if resp != nil {
			_ = json.NewEncoder(w).Encode(resp)
		}
		return
	}

	var messages []json.RawMessage
	if err := json.Unmarshal(trimmed, &messages); err != nil {
		writeParseError(w)
		return
	}
	if len(messages) > s.cfg.MaxBatchSize {
		writeBatchTooLarge(w, s.cfg.MaxBatchSize)
		return
	}
	if s.batchHasWriteMethod(messages) && s.rejectIfReadOnly(w) {
		return
	}

	responses := make([]*protocol.Response, 0, len(messages))
	for _, raw := range messages {
		if resp := s.dispatcher.HandleRaw(r.Context(), connID, raw); resp != nil {
			responses = append(responses, resp)
		}
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(responses)
}

func (s *Server) handleStreamableNDJSON(w http.ResponseWriter, r *http.Request, connID string) {
	w.Header().Set("Content-Type", contentTypeNDJSON)
	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)

	scanner := bufio.NewScanner(io.LimitReader(r.Body, protocol.MaxMessageSize*int64(s.cfg.MaxBatchSize)+1))
	scanner.Buffer(make([]byte, 0, 64*1024), protocol.MaxMessageSize)
	enc := json.NewEncoder(w)
	count := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		count++
		if count > s.cfg.MaxBatchSize {
			break
		}
		if peekMethod(line) == writeMethod && s.cfg.ReadOnlyMode {
			_ = enc.Encode(map[string]any{"error": "gateway is in read-only mode"})
			continue
		}
		resp := s.dispatcher.HandleRaw(r.Context(), connID, line)
		if resp == nil {
			continue
		}
		_ = enc.Encode(resp)
		if canFlush {
			flusher.Flush()
		}
	}
}

func (s *Server) batchHasWriteMethod(messages []json.RawMessage) bool {
	for _, raw := range messages {
		if peekMethod(raw) == writeMethod {
			return true
		}
	}
	return false
}

func writeBatchTooLarge(w http.ResponseWriter, maxBatchSize int) {
	w.WriteHeader(http.StatusRequestEntityTooLarge)
	_ = json.NewEncoder(w).Encode(protocol.NewErrorResponse(protocol.ID{}, &protocol.Error{
		Code:    protocol.CodeInvalidRequest,
		Message: "batch exceeds max_batch_size",
		Data:    map[string]any{"max_batch_size": maxBatchSize},
	}))
}
