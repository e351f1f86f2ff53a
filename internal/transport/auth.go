package transport

import (
	"encoding/json"
	"net/http"
)

// apiKeyMiddleware gates every /mcp/* route behind s.cfg.APIKey when one is
// configured (spec §4.P: "auth-gate read for most methods"). An empty
// configured key disables the gate entirely.
func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !validAPIKey(r, s.cfg.APIKey) {
			writeJSONRPCAuthError(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func validAPIKey(r *http.Request, expected string) bool {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key == expected
	}
	if key := r.URL.Query().Get("apikey"); key != "" {
		return key == expected
	}
	return false
}

func writeJSONRPCAuthError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": "invalid or missing API key"})
}

// rejectIfReadOnly re-gates tools/call (spec §4.P: "re-gate write for
// tools/call"). Returns true if the request was rejected.
func (s *Server) rejectIfReadOnly(w http.ResponseWriter) bool {
	if !s.cfg.ReadOnlyMode {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": "gateway is in read-only mode"})
	return true
}

// peekMethod extracts just the "method" field from a raw JSON-RPC message
// without fully decoding it, so a write-gate decision can be made before
// handing the message to the dispatcher.
func peekMethod(raw []byte) string {
	var p struct {
		Method string `json:"method"`
	}
	if json.Unmarshal(raw, &p) != nil {
		return ""
	}
	return p.Method
}
