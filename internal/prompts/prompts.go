// Package prompts implements the prompt_manager collaborator the
// dispatcher's prompts/list and prompts/get methods delegate to (spec
// §4.O). Rendering reuses the same {name}/{{name}} placeholder language as
// tool parameter substitution (spec §4.C) rather than inventing a second
// template syntax.
package prompts

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/mcpgateway/gateway/internal/gwerr"
	"github.com/mcpgateway/gateway/internal/substitution"
)

// Argument describes one named input a prompt template accepts.
type Argument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Prompt is a registered prompt template.
type Prompt struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Arguments   []Argument `json:"arguments,omitempty"`
	Template    string     `json:"-"`
}

// Message is one rendered turn in a prompt's message sequence.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Manager owns the in-memory prompt catalog.
type Manager struct {
	logger *zap.Logger

	mu     sync.RWMutex
	prompt map[string]Prompt
}

// New builds an empty Manager.
func New(logger *zap.Logger) *Manager {
	return &Manager{logger: logger, prompt: make(map[string]Prompt)}
}

// Register adds or replaces a prompt template.
func (m *Manager) Register(p Prompt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompt[p.Name] = p
	m.logger.Debug("prompt registered", zap.String("name", p.Name))
}

// Unregister removes a prompt by name.
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.prompt, name)
}

// List returns every registered prompt, sorted by name for a stable wire order.
func (m *Manager) List() []Prompt {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Prompt, 0, len(m.prompt))
	for _, p := range m.prompt {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Render expands name's template against args, after checking every
// Required argument is present.
func (m *Manager) Render(name string, args map[string]any) ([]Message, error) {
	m.mu.RLock()
	p, ok := m.prompt[name]
	m.mu.RUnlock()
	if !ok {
		return nil, gwerr.New(gwerr.KindPromptError, "no prompt registered with name %q", name)
	}

	for _, a := range p.Arguments {
		if !a.Required {
			continue
		}
		if _, present := args[a.Name]; !present {
			return nil, gwerr.New(gwerr.KindPromptError, "prompt %q is missing required argument %q", name, a.Name)
		}
	}

	val, err := substitution.SubstituteString(p.Template, args, nil)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindPromptError, err, "rendering prompt %q", name)
	}
	text, ok := val.(string)
	if !ok {
		text = p.Template
	}
	return []Message{{Role: "user", Content: text}}, nil
}
