// Package transport implements the Transport Adapters (spec §4.P): every
// wire protocol the gateway answers on funnels into the dispatcher (component
// O). A Server owns one chi.Mux carrying the JSON-RPC, WebSocket, SSE, and
// Streamable HTTP endpoints plus a set of non-JSON-RPC convenience routes.
package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mcpgateway/gateway/internal/dispatcher"
	"github.com/mcpgateway/gateway/internal/protocol"
)

// writeMethod is the one JSON-RPC method the spec singles out for a stricter
// auth gate ("re-gate write for tools/call", §4.P HTTP JSON-RPC).
const writeMethod = "tools/call"

// sessionHeader is the header transports use to carry a connection's session
// id across requests, per the Mcp-Session-Id convention MCP clients expect.
const sessionHeader = "Mcp-Session-Id"

// Config controls the Server's auth gate and protocol limits. Every field
// has a safe zero value (no auth, no limit override, no mounted metrics).
type Config struct {
	// APIKey, if set, is required (via X-API-Key header or ?apikey= query
	// param) on every /mcp/* route.
	APIKey string
	// ReadOnlyMode rejects tools/call (and the /mcp/call convenience route)
	// with 403, regardless of APIKey.
	ReadOnlyMode bool
	// MaxBatchSize bounds a Streamable HTTP batch request (spec §5
	// backpressure). Defaults to protocol.MaxBatchSize when zero.
	MaxBatchSize int
	// SSEDeprecated, when true (the default), adds the deprecation headers
	// to GET /mcp/stream responses.
	SSEDeprecated bool
	// DisableSSE removes the GET /mcp/stream route entirely.
	DisableSSE bool
	// MetricsHandler, if set, is mounted at GET /metrics.
	MetricsHandler http.Handler
}

// Server is the gateway's HTTP-facing transport layer.
type Server struct {
	logger     *zap.Logger
	dispatcher *dispatcher.Dispatcher
	cfg        Config
	router     *chi.Mux
}

// NewServer builds a Server and registers every route.
func NewServer(logger *zap.Logger, d *dispatcher.Dispatcher, cfg Config) *Server {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = protocol.MaxBatchSize
	}
	s := &Server{logger: logger, dispatcher: d, cfg: cfg, router: chi.NewRouter()}
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(corsMiddleware)

	s.router.Get("/healthz", s.handleLiveness)
	s.router.Get("/readyz", s.handleReadiness)
	if s.cfg.MetricsHandler != nil {
		s.router.Handle("/metrics", s.cfg.MetricsHandler)
	}

	s.router.Route("/mcp", func(r chi.Router) {
		r.Use(s.apiKeyMiddleware)

		r.Post("/jsonrpc", s.handleJSONRPC)
		r.Get("/ws", s.handleWebSocket)
		if !s.cfg.DisableSSE {
			r.Get("/stream", s.handleSSE)
		}
		r.Post("/streamable", s.handleStreamable)

		r.Get("/tools", s.handleConvenienceToolsList)
		r.Post("/call", s.handleConvenienceToolsCall)
		r.Get("/resources", s.handleConvenienceResourcesList)
		r.Post("/resources/read", s.handleConvenienceResourcesRead)
		r.Get("/prompts", s.handleConveniencePromptsList)
		r.Post("/prompts/get", s.handleConveniencePromptsGet)
		r.Post("/logging/setLevel", s.handleConvenienceSetLevel)
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ready":true}`))
}

// connectionID returns the session id a request should use: whatever the
// client sent in Mcp-Session-Id, or a fresh one. The chosen id is always
// echoed back so a client can pick it up on its first request.
func connectionID(r *http.Request) string {
	if id := r.Header.Get(sessionHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+sessionHeader+", X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
