// Package resources implements the resource_manager collaborator the
// dispatcher's resources/list and resources/read methods delegate to (spec
// §4.O). Unlike the tool registry, resources are registered programmatically
// (there is no capability-file format for them) and served from memory.
package resources

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/mcpgateway/gateway/internal/gwerr"
)

// Resource is one entry advertised by resources/list.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// Content is the body returned by resources/read for one URI. Exactly one of
// Text/Blob is set, mirroring the MCP wire contract.
type Content struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     []byte `json:"blob,omitempty"`
}

// Manager owns the in-memory resource catalog.
type Manager struct {
	logger *zap.Logger

	mu       sync.RWMutex
	resource map[string]Resource
	content  map[string]Content
}

// New builds an empty Manager.
func New(logger *zap.Logger) *Manager {
	return &Manager{
		logger:   logger,
		resource: make(map[string]Resource),
		content:  make(map[string]Content),
	}
}

// Register adds or replaces a resource and its content.
func (m *Manager) Register(r Resource, c Content) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resource[r.URI] = r
	m.content[r.URI] = c
	m.logger.Debug("resource registered", zap.String("uri", r.URI))
}

// Unregister removes a resource by URI.
func (m *Manager) Unregister(uri string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resource, uri)
	delete(m.content, uri)
}

// List returns every registered resource, sorted by URI for a stable wire
// order.
func (m *Manager) List() []Resource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Resource, 0, len(m.resource))
	for _, r := range m.resource {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// Read returns the content registered for uri.
func (m *Manager) Read(uri string) (Content, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.content[uri]
	if !ok {
		return Content{}, gwerr.New(gwerr.KindResourceError, "no resource registered for uri %q", uri)
	}
	return c, nil
}
