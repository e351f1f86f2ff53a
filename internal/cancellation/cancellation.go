// Package cancellation implements the Cancellation Manager (spec §4.K):
// named in-flight operation tokens, graceful-then-force escalation, a
// broadcast event stream, and a periodic sweep of expired tokens.
package cancellation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mcpgateway/gateway/internal/gwerr"
)

// Reason classifies why a token was cancelled.
type Reason string

const (
	ReasonUserCancelled      Reason = "UserCancelled"
	ReasonTimeout            Reason = "Timeout"
	ReasonServerShutdown     Reason = "ServerShutdown"
	ReasonResourceExhausted  Reason = "ResourceExhausted"
	ReasonSecurityViolation  Reason = "SecurityViolation"
	ReasonClientDisconnected Reason = "ClientDisconnected"
	ReasonCompleted          Reason = "Completed"
)

// EventKind is the closed taxonomy of cancellation lifecycle transitions
// (spec §4.K). Every named kind is emitted at a real transition below; a
// token never produces more than one EventOperationCancelled.
type EventKind string

const (
	EventTokenCreated                EventKind = "TokenCreated"
	EventCancellationRequested       EventKind = "CancellationRequested"
	EventGracefulCancellationStarted EventKind = "GracefulCancellationStarted"
	EventForceCancellationInitiated  EventKind = "ForceCancellationInitiated"
	EventOperationCancelled          EventKind = "OperationCancelled"
	EventCancellationFailed          EventKind = "CancellationFailed"
	EventTokenExpired                EventKind = "TokenExpired"
)

// Event is broadcast on every cancellation lifecycle transition.
type Event struct {
	Kind   EventKind
	ID     string
	Reason Reason
	At     time.Time
}

// token tracks one in-flight operation's cancellation state.
type token struct {
	id              string
	ctx             context.Context
	cancel          context.CancelFunc
	createdAt       time.Time
	expiresAt       time.Time
	cancelled       bool
	cancelledAt     time.Time
	lastReason      Reason
	graceTimer      *time.Timer
	opCancelledSent bool
}

// gracePeriod is how long a graceful cancellation waits before the manager
// escalates to a forced cancel, per spec §4.K ("graceful-then-force
// escalation").
const gracePeriod = 5 * time.Second

// sweepInterval is how often the manager reaps expired-but-uncancelled
// tokens, mirroring the teacher's periodic janitor goroutines.
const sweepInterval = 30 * time.Second

// Manager tracks cancellation tokens keyed by an operation id (typically a
// JSON-RPC request id rendered as a string).
type Manager struct {
	logger *zap.Logger

	mu     sync.Mutex
	tokens map[string]*token

	subMu       sync.Mutex
	subscribers map[int]chan Event
	nextSubID   int

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Manager and starts its background sweep goroutine. Call
// Close to stop it.
func New(logger *zap.Logger) *Manager {
	m := &Manager{
		logger:      logger,
		tokens:      make(map[string]*token),
		subscribers: make(map[int]chan Event),
		stop:        make(chan struct{}),
	}
	m.wg.Add(1)
	go m.sweepLoop()
	return m
}

// Close stops the sweep goroutine and cancels every outstanding token.
func (m *Manager) Close() {
	close(m.stop)
	m.wg.Wait()

	m.mu.Lock()
	for _, tk := range m.tokens {
		tk.cancel()
	}
	m.mu.Unlock()
}

// Register creates a new cancellable context for the given operation id,
// with an optional timeout (zero means no deadline beyond context expiry).
func (m *Manager) Register(parent context.Context, id string, timeout time.Duration) (context.Context, error) {
	m.mu.Lock()
	if _, exists := m.tokens[id]; exists {
		m.mu.Unlock()
		return nil, gwerr.New(gwerr.KindValidation, "cancellation token %q already registered", id)
	}

	ctx, cancel := context.WithCancel(parent)
	now := time.Now()
	tk := &token{id: id, ctx: ctx, cancel: cancel, createdAt: now}
	if timeout > 0 {
		tk.expiresAt = now.Add(timeout)
	}
	m.tokens[id] = tk
	m.mu.Unlock()

	m.publish(Event{Kind: EventTokenCreated, ID: id, At: now})
	return ctx, nil
}

// Cancel requests cancellation of id. If graceful is true, the underlying
// context is not cancelled immediately: the operation is expected to
// observe IsCancelled and wind down on its own, with a forced cancel after
// gracePeriod if it hasn't finished (Complete beats the timer in that case).
// A force request (graceful false) against an already-gracefully-cancelling
// token escalates immediately instead of waiting out the timer.
func (m *Manager) Cancel(id string, reason Reason, graceful bool) error {
	m.mu.Lock()
	tk, ok := m.tokens[id]
	if !ok {
		m.mu.Unlock()
		m.publish(Event{Kind: EventCancellationFailed, ID: id, Reason: reason, At: time.Now()})
		return gwerr.New(gwerr.KindNotFound, "no in-flight operation with id %q", id)
	}
	alreadyGraceful := tk.cancelled
	tk.cancelled = true
	tk.cancelledAt = time.Now()
	tk.lastReason = reason
	if alreadyGraceful && tk.graceTimer != nil {
		tk.graceTimer.Stop()
	}
	m.mu.Unlock()

	m.publish(Event{Kind: EventCancellationRequested, ID: id, Reason: reason, At: time.Now()})

	if graceful && !alreadyGraceful {
		m.publish(Event{Kind: EventGracefulCancellationStarted, ID: id, Reason: reason, At: time.Now()})
		m.mu.Lock()
		tk.graceTimer = time.AfterFunc(gracePeriod, func() { m.forceCancel(id, reason) })
		m.mu.Unlock()
		return nil
	}

	m.forceCancel(id, reason)
	return nil
}

// forceCancel cancels id's context immediately and emits the
// ForceCancellationInitiated/OperationCancelled pair, guarding against a
// second OperationCancelled if Complete already won the race.
func (m *Manager) forceCancel(id string, reason Reason) {
	m.mu.Lock()
	tk, ok := m.tokens[id]
	if !ok || tk.opCancelledSent {
		m.mu.Unlock()
		return
	}
	tk.opCancelledSent = true
	tk.cancel()
	m.mu.Unlock()

	m.publish(Event{Kind: EventForceCancellationInitiated, ID: id, Reason: reason, At: time.Now()})
	m.publish(Event{Kind: EventOperationCancelled, ID: id, Reason: reason, At: time.Now()})
}

// Complete removes the token for id, e.g. once its operation has finished.
// Safe to call even if id was never registered. If the token was cancelled
// gracefully and Complete wins the race against the grace timer, this is
// the call that emits OperationCancelled.
func (m *Manager) Complete(id string) {
	m.mu.Lock()
	tk, ok := m.tokens[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	if tk.graceTimer != nil {
		tk.graceTimer.Stop()
	}
	emitCancelled := tk.cancelled && !tk.opCancelledSent
	tk.opCancelledSent = true
	tk.cancel()
	reason := tk.lastReason
	delete(m.tokens, id)
	m.mu.Unlock()

	if emitCancelled {
		m.publish(Event{Kind: EventOperationCancelled, ID: id, Reason: reason, At: time.Now()})
	}
}

// IsCancelled reports whether id has been asked to cancel (gracefully or
// forcefully), without blocking.
func (m *Manager) IsCancelled(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	tk, ok := m.tokens[id]
	return ok && tk.cancelled
}

// Subscribe registers a listener for cancellation events.
func (m *Manager) Subscribe() (int, <-chan Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	ch := make(chan Event, 100)
	m.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a listener.
func (m *Manager) Unsubscribe(id int) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

func (m *Manager) publish(ev Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
			m.logger.Debug("dropping cancellation event for slow subscriber", zap.String("id", ev.ID))
		}
	}
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweepExpired()
		}
	}
}

// sweepExpired reaps tokens whose deadline passed without an explicit
// Cancel/Complete. Unlike Cancel, this is not a cancellation request: it
// skips the CancellationRequested/OperationCancelled pair entirely and
// reports the cleanup as its own TokenExpired event.
func (m *Manager) sweepExpired() {
	now := time.Now()
	var expired []*token
	m.mu.Lock()
	for id, tk := range m.tokens {
		if !tk.expiresAt.IsZero() && now.After(tk.expiresAt) && !tk.cancelled {
			expired = append(expired, tk)
			delete(m.tokens, id)
		}
	}
	m.mu.Unlock()

	for _, tk := range expired {
		tk.cancel()
		m.logger.Debug("swept expired cancellation token", zap.String("id", tk.id))
		m.publish(Event{Kind: EventTokenExpired, ID: tk.id, Reason: ReasonTimeout, At: now})
	}
}
