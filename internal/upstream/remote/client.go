package remote

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mcpgateway/gateway/internal/protocol"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultMaxReconnects  = 10
)

// Transport is the wire transport a Client negotiates for a given URL.
type Transport string

const (
	TransportHTTP Transport = "http"
	TransportSSE  Transport = "sse"
)

// detectTransport auto-selects SSE for URLs that look like the legacy SSE
// endpoint convention, HTTP JSON-RPC otherwise (spec §4.F protocol auto-detect).
func detectTransport(baseURL string) Transport {
	if strings.Contains(baseURL, "/sse") {
		return TransportSSE
	}
	return TransportHTTP
}

// Config describes one external MCP server reached over HTTP or SSE.
type Config struct {
	Name                 string
	BaseURL              string
	Transport            Transport // zero value triggers auto-detect
	Auth                 *Auth
	Headers              map[string]string
	AutoReconnect        bool
	MaxReconnectAttempts int
	RequestTimeout       time.Duration
}

// Client is a connection to one external MCP server over HTTP or SSE.
type Client struct {
	logger *zap.Logger
	cfg    Config
	http   *http.Client
	sm     *stateMachine

	forwarder ForwardRequester
	sink      NotificationSink

	mu        sync.RWMutex
	sse       *sseSession
	postURL   string // SSE "endpoint" event target; equals BaseURL for plain HTTP
}

// ForwardRequester forwards a server-initiated request to the owning client
// session (spec §4.G bidirectional forwarding).
type ForwardRequester interface {
	ForwardRequest(ctx context.Context, serverName string, req *protocol.Request) (*protocol.Response, error)
}

// NotificationSink receives notifications pushed by the remote server.
type NotificationSink interface {
	HandleNotification(serverName string, notification *protocol.Request)
}

// New creates a Client. Call Connect to establish the session.
func New(logger *zap.Logger, cfg Config, forwarder ForwardRequester, sink NotificationSink) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnects
	}
	if cfg.Transport == "" {
		cfg.Transport = detectTransport(cfg.BaseURL)
	}
	return &Client{
		logger:    logger.With(zap.String("server", cfg.Name)),
		cfg:       cfg,
		http:      &http.Client{Timeout: cfg.RequestTimeout},
		sm:        newStateMachine(),
		forwarder: forwarder,
		sink:      sink,
		postURL:   cfg.BaseURL,
	}
}

// State returns a snapshot of the connection's current state.
func (c *Client) State() Info { return c.sm.info() }

// Connect establishes the session: for HTTP this is a no-op beyond marking
// Connected (the transport is inherently stateless), for SSE it opens the
// event stream and waits for the server's initial "endpoint" event.
func (c *Client) Connect(ctx context.Context) error {
	c.sm.transition(StateConnecting)
	if c.cfg.Transport == TransportSSE {
		if err := c.connectSSE(ctx); err != nil {
			c.sm.fail(err)
			if c.cfg.AutoReconnect {
				go c.reconnectLoop()
			}
			return err
		}
	}
	c.sm.transition(StateConnected)
	return nil
}

func (c *Client) reconnectLoop() {
	for {
		info := c.sm.info()
		if info.Attempt > c.cfg.MaxReconnectAttempts {
			c.logger.Warn("giving up reconnecting to external mcp server", zap.Int("attempts", info.Attempt))
			return
		}
		c.sm.transition(StateReconnecting)
		delay := backoff(info.Attempt)
		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
		err := c.connectSSE(ctx)
		cancel()
		if err == nil {
			c.sm.transition(StateConnected)
			return
		}
		c.sm.fail(err)
	}
}

// Close tears down any open SSE stream.
func (c *Client) Close() error {
	c.mu.Lock()
	sse := c.sse
	c.sse = nil
	c.mu.Unlock()
	if sse != nil {
		sse.close()
	}
	c.sm.transition(StateDisconnected)
	return nil
}

// Call sends one JSON-RPC request and waits for its matching response.
func (c *Client) Call(ctx context.Context, method string, params []byte) (*protocol.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	switch c.cfg.Transport {
	case TransportSSE:
		return c.callSSE(ctx, method, params)
	default:
		return c.callHTTP(ctx, method, params)
	}
}

func (c *Client) authAndHeaders(req *http.Request) {
	c.cfg.Auth.apply(req)
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
}

