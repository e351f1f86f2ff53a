// Package session implements the per-connection Session Manager (spec §4.I):
// protocol-version negotiation, request-id dedup, and idle cleanup. Sessions
// are owned by the dispatcher, keyed by connection id (spec §3 Ownership).
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mcpgateway/gateway/internal/gwerr"
	"github.com/mcpgateway/gateway/internal/protocol"
)

// ClientInfo mirrors protocol.ClientInfo to avoid a hard dependency edge for
// callers that only need the session shape.
type ClientInfo = protocol.ClientInfo

// Session is one client connection's negotiated state.
type Session struct {
	ID              string
	ClientInfo      ClientInfo
	ProtocolVersion protocol.Version
	CreatedAt       time.Time

	mu             sync.Mutex
	usedRequestIDs map[string]struct{}
	lastActivity   time.Time
	initialized    bool
}

// Touch updates last-activity for idle-cleanup purposes.
func (s *Session) touch() {
	s.lastActivity = time.Now()
}

// Initialized reports whether handle_initialize has completed for this session.
func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Manager owns the set of live sessions. Per spec §4.I invariant, at most one
// session exists per connection id.
type Manager struct {
	logger         *zap.Logger
	sessionTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session // keyed by connection id
}

// NewManager builds a session Manager. sessionTimeout of zero disables idle cleanup.
func NewManager(logger *zap.Logger, sessionTimeout time.Duration) *Manager {
	return &Manager{
		logger:         logger,
		sessionTimeout: sessionTimeout,
		sessions:       make(map[string]*Session),
	}
}

// CreateSession creates a new session for connectionID, replacing any
// existing session for that connection (at most one per connection).
func (m *Manager) CreateSession(connectionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Session{
		ID:              uuid.NewString(),
		ProtocolVersion: protocol.DefaultVersion,
		CreatedAt:       time.Now(),
		usedRequestIDs:  make(map[string]struct{}),
		lastActivity:    time.Now(),
	}
	m.sessions[connectionID] = s
	m.logger.Debug("session created", zap.String("connection_id", connectionID), zap.String("session_id", s.ID))
	return s
}

// Get returns the session for connectionID, if any.
func (m *Manager) Get(connectionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[connectionID]
	return s, ok
}

// Remove deletes the session for connectionID (e.g. on WebSocket close).
func (m *Manager) Remove(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, connectionID)
}

// HandleInitialize negotiates a protocol version and marks the session
// initialized. Once initialized, the version is immutable (spec §3 invariant)
// — a second call is a no-op returning the already-negotiated version.
func (m *Manager) HandleInitialize(s *Session, params protocol.InitializeParams, strictVersion bool) (protocol.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return s.ProtocolVersion, nil
	}

	requested := protocol.Version(params.ProtocolVersion)
	negotiated := requested
	if !protocol.IsSupported(requested) {
		if strictVersion {
			return "", gwerr.New(gwerr.KindInvalidParams,
				"unsupported protocolVersion %q", requested)
		}
		negotiated = protocol.DefaultVersion
		m.logger.Warn("client requested unsupported protocol version, using default",
			zap.String("requested", string(requested)),
			zap.String("negotiated", string(negotiated)))
	}

	s.ClientInfo = params.ClientInfo
	s.ProtocolVersion = negotiated
	s.initialized = true
	s.touch()
	return negotiated, nil
}

// ValidateRequestID checks id against the session's used-id set (spec §8
// invariant 1: no two requests in one session share a non-null id). A
// request with no id (a notification) is never checked.
func (m *Manager) ValidateRequestID(s *Session, id protocol.ID) error {
	if !id.IsSet() || id.IsNull() {
		return nil
	}
	key := id.String()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if _, used := s.usedRequestIDs[key]; used {
		return gwerr.New(gwerr.KindInvalidRequest, "Duplicate request ID %q", key)
	}
	s.usedRequestIDs[key] = struct{}{}
	return nil
}

// CleanupIdle removes sessions whose last activity is older than the
// configured session timeout. Intended to be called periodically.
func (m *Manager) CleanupIdle() int {
	if m.sessionTimeout <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-m.sessionTimeout)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for connID, s := range m.sessions {
		s.mu.Lock()
		idle := s.lastActivity.Before(cutoff)
		s.mu.Unlock()
		if idle {
			delete(m.sessions, connID)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("cleaned up idle sessions", zap.Int("count", removed))
	}
	return removed
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
