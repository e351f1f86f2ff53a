// Package notify implements the Notification Manager (spec §4.N):
// capability flags, resource subscriptions, and listChanged/updated
// broadcast to every subscribed client.
package notify

import (
	"sync"

	"go.uber.org/zap"
)

// Kind identifies a notification's wire method.
type Kind string

const (
	KindToolsListChanged     Kind = "notifications/tools/list_changed"
	KindResourcesListChanged Kind = "notifications/resources/list_changed"
	KindPromptsListChanged   Kind = "notifications/prompts/list_changed"
	KindResourceUpdated      Kind = "notifications/resources/updated"
)

// Event is one notification to deliver to a subscriber.
type Event struct {
	Kind Kind
	URI  string // set only for KindResourceUpdated
}

// eventBufferSize bounds the broadcast channel per spec §5 ("fixed buffer
// ~1000"); subscribers that fall behind drop events rather than block
// producers.
const eventBufferSize = 1000

// Capabilities are the four flags from spec §4.N.
type Capabilities struct {
	ResourcesListChanged  bool
	PromptsListChanged    bool
	ToolsListChanged      bool
	ResourceSubscriptions bool
}

// Manager fans notification events out to subscribers and tracks resource
// subscriptions.
type Manager struct {
	logger *zap.Logger
	caps   Capabilities

	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
	resourceSub map[string]map[int]struct{} // uri -> subscriber ids
}

// New builds a Manager with the given capability flags.
func New(logger *zap.Logger, caps Capabilities) *Manager {
	return &Manager{
		logger:      logger,
		caps:        caps,
		subscribers: make(map[int]chan Event),
		resourceSub: make(map[string]map[int]struct{}),
	}
}

// Subscribe registers a new listener and returns its id plus a receive-only
// channel of events. Callers must eventually call Unsubscribe.
func (m *Manager) Subscribe() (int, <-chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	ch := make(chan Event, eventBufferSize)
	m.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (m *Manager) Unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
	for uri, subs := range m.resourceSub {
		delete(subs, id)
		if len(subs) == 0 {
			delete(m.resourceSub, uri)
		}
	}
}

// SubscribeResource records interest in a specific resource URI's updates.
func (m *Manager) SubscribeResource(subscriberID int, uri string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resourceSub[uri] == nil {
		m.resourceSub[uri] = make(map[int]struct{})
	}
	m.resourceSub[uri][subscriberID] = struct{}{}
}

// UnsubscribeResource removes interest in a specific resource URI.
func (m *Manager) UnsubscribeResource(subscriberID int, uri string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.resourceSub[uri]; ok {
		delete(subs, subscriberID)
		if len(subs) == 0 {
			delete(m.resourceSub, uri)
		}
	}
}

// NotifyToolsListChanged broadcasts to all subscribers. A no-op (debug
// logged) when the capability flag is false, per spec: "allowed when the
// corresponding capability is false but become no-ops".
func (m *Manager) NotifyToolsListChanged() {
	if !m.caps.ToolsListChanged {
		m.logger.Debug("tools list_changed notification suppressed: capability disabled")
		return
	}
	m.broadcast(Event{Kind: KindToolsListChanged})
}

// NotifyResourcesListChanged broadcasts to all subscribers.
func (m *Manager) NotifyResourcesListChanged() {
	if !m.caps.ResourcesListChanged {
		m.logger.Debug("resources list_changed notification suppressed: capability disabled")
		return
	}
	m.broadcast(Event{Kind: KindResourcesListChanged})
}

// NotifyPromptsListChanged broadcasts to all subscribers.
func (m *Manager) NotifyPromptsListChanged() {
	if !m.caps.PromptsListChanged {
		m.logger.Debug("prompts list_changed notification suppressed: capability disabled")
		return
	}
	m.broadcast(Event{Kind: KindPromptsListChanged})
}

// NotifyResourceUpdated broadcasts only to subscribers of uri, and is a
// no-op if resource subscriptions aren't enabled.
func (m *Manager) NotifyResourceUpdated(uri string) {
	if !m.caps.ResourceSubscriptions {
		m.logger.Debug("resource updated notification suppressed: capability disabled")
		return
	}
	m.mu.Lock()
	subs := m.resourceSub[uri]
	targets := make([]chan Event, 0, len(subs))
	for id := range subs {
		if ch, ok := m.subscribers[id]; ok {
			targets = append(targets, ch)
		}
	}
	m.mu.Unlock()

	ev := Event{Kind: KindResourceUpdated, URI: uri}
	for _, ch := range targets {
		m.send(ch, ev)
	}
}

func (m *Manager) broadcast(ev Event) {
	m.mu.Lock()
	targets := make([]chan Event, 0, len(m.subscribers))
	for _, ch := range m.subscribers {
		targets = append(targets, ch)
	}
	m.mu.Unlock()

	for _, ch := range targets {
		m.send(ch, ev)
	}
}

func (m *Manager) send(ch chan Event, ev Event) {
	select {
	case ch <- ev:
	default:
		m.logger.Debug("dropping notification for slow subscriber", zap.String("kind", string(ev.Kind)))
	}
}
