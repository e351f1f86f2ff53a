package upstream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mcpgateway/gateway/internal/gwerr"
	"github.com/mcpgateway/gateway/internal/metrics"
	"github.com/mcpgateway/gateway/internal/notify"
	"github.com/mcpgateway/gateway/internal/protocol"
	"github.com/mcpgateway/gateway/internal/secureenv"
)

// Forwarder delivers a server-initiated request (sampling/createMessage,
// elicitation/create) to whichever client session owns the conversation.
// Set on the Manager by the dispatcher, which is the only component that
// knows which client is "the" client for a given exchange (spec §4.G
// bidirectional forwarding).
type Forwarder interface {
	ForwardRequest(ctx context.Context, serverName string, req *protocol.Request) (*protocol.Response, error)
}

type backend struct {
	cfg  ServerConfig
	conn backendConn
	start func(context.Context) error

	mu          sync.Mutex
	restarts    int
	lastRestart time.Time
	caps        capabilitySnapshot
}

// Manager supervises the fleet of external MCP server connections.
type Manager struct {
	logger    *zap.Logger
	metrics   *metrics.Registry
	notifier  *notify.Manager
	envBuilder *secureenv.Builder

	mu       sync.RWMutex
	backends map[string]*backend

	fwMu      sync.RWMutex
	forwarder Forwarder
}

// New creates an empty Manager. Servers are added with AddServer.
func New(logger *zap.Logger, metricsRegistry *metrics.Registry, notifier *notify.Manager) *Manager {
	return &Manager{
		logger:     logger,
		metrics:    metricsRegistry,
		notifier:   notifier,
		envBuilder: secureenv.NewBuilder(nil),
		backends:   make(map[string]*backend),
	}
}

// SetForwarder installs the collaborator used to relay server-initiated
// requests to a client session. Must be called once before any backend
// receives a bidirectional request.
func (m *Manager) SetForwarder(f Forwarder) {
	m.fwMu.Lock()
	defer m.fwMu.Unlock()
	m.forwarder = f
}

// ForwardRequest implements process.RequestForwarder and remote.ForwardRequester.
func (m *Manager) ForwardRequest(ctx context.Context, serverName string, req *protocol.Request) (*protocol.Response, error) {
	m.fwMu.RLock()
	fw := m.forwarder
	m.fwMu.RUnlock()
	if fw == nil {
		return nil, gwerr.New(gwerr.KindUnavailable, "no client session available to forward request from %s", serverName)
	}
	return fw.ForwardRequest(ctx, serverName, req)
}

// HandleNotification implements process.NotificationSink and
// remote.NotificationSink: list-changed notifications invalidate the
// capability cache and fan out through the notification manager;
// resources/updated is relayed to the notification manager by URI. Any other
// notification (logging/message included) is only logged at debug level and
// is not forwarded.
func (m *Manager) HandleNotification(serverName string, n *protocol.Request) {
	switch n.Method {
	case "notifications/tools/list_changed":
		m.invalidateCapabilities(serverName)
		if m.notifier != nil {
			m.notifier.NotifyToolsListChanged()
		}
	case "notifications/resources/list_changed":
		m.invalidateCapabilities(serverName)
		if m.notifier != nil {
			m.notifier.NotifyResourcesListChanged()
		}
	case "notifications/prompts/list_changed":
		m.invalidateCapabilities(serverName)
		if m.notifier != nil {
			m.notifier.NotifyPromptsListChanged()
		}
	case "notifications/resources/updated":
		if m.notifier != nil {
			var params struct {
				URI string `json:"uri"`
			}
			_ = json.Unmarshal(n.Params, &params)
			m.notifier.NotifyResourceUpdated(params.URI)
		}
	default:
		m.logger.Debug("notification from external mcp server", zap.String("server", serverName), zap.String("method", n.Method))
	}
}

func (m *Manager) invalidateCapabilities(serverName string) {
	m.mu.RLock()
	b, ok := m.backends[serverName]
	m.mu.RUnlock()
	if !ok {
		return
	}
	b.mu.Lock()
	b.caps = capabilitySnapshot{}
	b.mu.Unlock()
}

// AddServer registers a server configuration without connecting.
func (m *Manager) AddServer(cfg ServerConfig) error {
	cfg.applyDefaults()
	conn, start, err := buildConn(cfg, m.envBuilder, m)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.backends[cfg.Name] = &backend{cfg: cfg, conn: conn, start: start}
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.Backend(cfg.Name)
	}
	return nil
}

// RemoveServer stops and forgets a server.
func (m *Manager) RemoveServer(name string) error {
	m.mu.Lock()
	b, ok := m.backends[name]
	delete(m.backends, name)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if m.metrics != nil {
		m.metrics.RemoveBackend(name)
	}
	return b.conn.Stop()
}

// Start spawns one backend and performs its initial capability discovery.
// A failed start does not panic the manager; the caller (typically StartAll)
// decides whether to retry per the restart policy.
func (m *Manager) Start(ctx context.Context, name string) error {
	m.mu.RLock()
	b, ok := m.backends[name]
	m.mu.RUnlock()
	if !ok {
		return gwerr.New(gwerr.KindNotFound, "unknown external mcp server %q", name)
	}

	if err := b.start(ctx); err != nil {
		if m.metrics != nil {
			m.metrics.Backend(name).RecordRequest(0, false)
		}
		return gwerr.Wrap(gwerr.KindConnection, err, "starting external mcp server %s", name)
	}

	snap, err := discover(ctx, b.conn)
	if err != nil {
		m.logger.Warn("initial capability discovery failed", zap.String("server", name), zap.Error(err))
	} else {
		b.mu.Lock()
		b.caps = snap
		b.mu.Unlock()
	}
	return nil
}

// StartAll starts every registered backend in parallel, mirroring the
// fleet-wide connect sweep pattern.
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.RLock()
	names := make([]string, 0, len(m.backends))
	for name := range m.backends {
		names = append(names, name)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := m.Start(ctx, name); err != nil {
				m.logger.Error("failed to start external mcp server", zap.String("server", name), zap.Error(err))
			}
		}(name)
	}
	wg.Wait()
}

// StopAll stops every registered backend in parallel.
func (m *Manager) StopAll() {
	m.mu.RLock()
	backends := make([]*backend, 0, len(m.backends))
	for _, b := range m.backends {
		backends = append(backends, b)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, b := range backends {
		wg.Add(1)
		go func(b *backend) {
			defer wg.Done()
			_ = b.conn.Stop()
		}(b)
	}
	wg.Wait()
}

// RestartIfDue restarts a crashed backend if it isn't running, hasn't
// exceeded MaxRestartAttempts, and its RestartCooldown has elapsed. Returns
// true if a restart was attempted. Exhausted retries promote the backend's
// health to Down (spec §4.G restart/backoff).
func (m *Manager) RestartIfDue(ctx context.Context, name string) bool {
	m.mu.RLock()
	b, ok := m.backends[name]
	m.mu.RUnlock()
	if !ok || b.conn.Running() {
		return false
	}

	b.mu.Lock()
	if b.restarts >= b.cfg.MaxRestartAttempts {
		b.mu.Unlock()
		if m.metrics != nil {
			m.metrics.Backend(name).MarkDown()
		}
		return false
	}
	if time.Since(b.lastRestart) < b.cfg.RestartCooldown {
		b.mu.Unlock()
		return false
	}
	b.restarts++
	b.lastRestart = time.Now()
	b.mu.Unlock()

	if err := m.Start(ctx, name); err != nil {
		m.logger.Warn("restart attempt failed", zap.String("server", name), zap.Error(err))
		return true
	}
	b.mu.Lock()
	b.restarts = 0
	b.mu.Unlock()
	return true
}

// ExecuteTool implements router.ExternalMCPExecutor: it calls tools/call on
// the named backend and normalizes the response into an AgentResult.
func (m *Manager) ExecuteTool(ctx context.Context, server, tool string, args map[string]any) (*protocol.AgentResult, error) {
	m.mu.RLock()
	b, ok := m.backends[server]
	m.mu.RUnlock()
	if !ok {
		return nil, gwerr.New(gwerr.KindNotFound, "unknown external mcp server %q", server)
	}
	if !b.conn.Running() {
		return nil, gwerr.New(gwerr.KindUnavailable, "external mcp server %q is not running", server)
	}

	params, err := json.Marshal(map[string]any{"name": tool, "arguments": args})
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindSerde, err, "marshaling tool call to %s", server)
	}

	start := time.Now()
	resp, err := b.conn.Call(ctx, "tools/call", params)
	success := err == nil && resp != nil && resp.Error == nil
	if m.metrics != nil {
		m.metrics.RecordToolCall(server, tool, success, time.Since(start))
	}
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindToolExecution, err, "calling %s on %s", tool, server)
	}
	if resp.Error != nil {
		return &protocol.AgentResult{Success: false, Error: resp.Error.Message}, nil
	}
	return &protocol.AgentResult{Success: true, Data: resp.Result}, nil
}

// Tools returns the cached aggregated tool list for a backend, refreshing it
// first if the cache has exceeded CapabilityTTL.
func (m *Manager) Tools(ctx context.Context, server string) ([]protocol.Tool, error) {
	m.mu.RLock()
	b, ok := m.backends[server]
	m.mu.RUnlock()
	if !ok {
		return nil, gwerr.New(gwerr.KindNotFound, "unknown external mcp server %q", server)
	}

	b.mu.Lock()
	stale := b.caps.stale(b.cfg.CapabilityTTL)
	b.mu.Unlock()
	if stale && b.conn.Running() {
		if snap, err := discover(ctx, b.conn); err == nil {
			b.mu.Lock()
			b.caps = snap
			b.mu.Unlock()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.caps.tools, nil
}

// ServerNames returns the names of all registered backends.
func (m *Manager) ServerNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.backends))
	for name := range m.backends {
		names = append(names, name)
	}
	return names
}

// backendProber adapts one backend to metrics.Prober for the active health
// checker (spec §4.H).
type backendProber struct{ b *backend }

func (p backendProber) Ping(ctx context.Context) error {
	resp, err := p.b.conn.Call(ctx, "ping", json.RawMessage(`{}`))
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}

func (p backendProber) ListTools(ctx context.Context) ([]byte, error) {
	resp, err := p.b.conn.Call(ctx, "tools/list", json.RawMessage(`{}`))
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return json.Marshal(resp.Result)
}

func (p backendProber) Running() bool { return p.b.conn.Running() }

// RegisterHealthChecks adds every currently-registered backend to checker's
// active-probe rotation.
func (m *Manager) RegisterHealthChecks(checker *metrics.Checker) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, b := range m.backends {
		checker.Register(name, backendProber{b})
	}
}
