// Package progress implements the Progress Tracker (spec §4.L): sessions
// with sub-operations, an append-only history per session, terminal-state
// freezing, and stats aggregation.
package progress

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/mcpgateway/gateway/internal/gwerr"
)

// State is the lifecycle of a progress session.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

func (s State) terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Entry is one append-only history record within a session.
type Entry struct {
	Step      string
	Message   string
	Percent   float64
	Timestamp time.Time
}

// Session tracks one long-running operation's progress, identified by a
// time-sortable ULID (spec §8 invariant: "progress history is append-only
// and monotonic per session").
type Session struct {
	ID        string
	ToolName  string
	StartedAt time.Time

	mu        sync.Mutex
	state     State
	history   []Entry
	finishedAt time.Time
}

// Tracker owns all active and recently-finished progress sessions.
type Tracker struct {
	logger *zap.Logger
	entropy *ulid.MonotonicEntropy

	mu       sync.Mutex
	sessions map[string]*Session
}

// New builds a Tracker. Session ids are generated with a monotonic ULID
// source seeded from the current time, giving strictly increasing,
// time-sortable ids even for sessions created within the same millisecond.
func New(logger *zap.Logger) *Tracker {
	return &Tracker{
		logger:   logger,
		entropy:  ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		sessions: make(map[string]*Session),
	}
}

// Start creates a new progress session for toolName and returns its id.
func (t *Tracker) Start(toolName string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), t.entropy).String()
	t.sessions[id] = &Session{
		ID:        id,
		ToolName:  toolName,
		StartedAt: time.Now(),
		state:     StateRunning,
	}
	return id
}

// Update appends a progress entry to a running session. It is a no-op
// (logged) if the session is already in a terminal state, per spec:
// "terminal-state freezing — no further updates after completion".
func (t *Tracker) Update(id, step, message string, percent float64) error {
	sess, err := t.get(id)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.state.terminal() {
		t.logger.Debug("ignoring progress update on terminal session", zap.String("id", id), zap.String("state", string(sess.state)))
		return nil
	}
	sess.history = append(sess.history, Entry{Step: step, Message: message, Percent: percent, Timestamp: time.Now()})
	return nil
}

// Finish transitions a session to a terminal state and freezes it.
func (t *Tracker) Finish(id string, state State, message string) error {
	if !state.terminal() {
		return gwerr.New(gwerr.KindValidation, "Finish requires a terminal state, got %q", state)
	}
	sess, err := t.get(id)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.state.terminal() {
		return nil
	}
	sess.state = state
	sess.finishedAt = time.Now()
	sess.history = append(sess.history, Entry{Step: "finish", Message: message, Percent: 100, Timestamp: sess.finishedAt})
	return nil
}

// Snapshot is a read-only view of a session's current state and history.
type Snapshot struct {
	ID        string
	ToolName  string
	State     State
	StartedAt time.Time
	History   []Entry
}

// Get returns a point-in-time snapshot of a session.
func (t *Tracker) Get(id string) (Snapshot, error) {
	sess, err := t.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	hist := make([]Entry, len(sess.history))
	copy(hist, sess.history)
	return Snapshot{
		ID:        sess.ID,
		ToolName:  sess.ToolName,
		State:     sess.state,
		StartedAt: sess.StartedAt,
		History:   hist,
	}, nil
}

func (t *Tracker) get(id string) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sess, ok := t.sessions[id]
	if !ok {
		return nil, gwerr.New(gwerr.KindNotFound, "no progress session %q", id)
	}
	return sess, nil
}

// Stats aggregates counts by state across every tracked session, for an
// operator-facing summary endpoint.
type Stats struct {
	Running   int
	Completed int
	Failed    int
	Cancelled int
}

// Stats computes the current aggregate counts.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s Stats
	for _, sess := range t.sessions {
		sess.mu.Lock()
		switch sess.state {
		case StateRunning:
			s.Running++
		case StateCompleted:
			s.Completed++
		case StateFailed:
			s.Failed++
		case StateCancelled:
			s.Cancelled++
		}
		sess.mu.Unlock()
	}
	return s
}

// Prune removes finished sessions older than maxAge, bounding memory for
// long-running gateway processes.
func (t *Tracker) Prune(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, sess := range t.sessions {
		sess.mu.Lock()
		stale := sess.state.terminal() && sess.finishedAt.Before(cutoff)
		sess.mu.Unlock()
		if stale {
			delete(t.sessions, id)
			removed++
		}
	}
	return removed
}
