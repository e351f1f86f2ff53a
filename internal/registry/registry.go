// Package registry implements the tool/prompt/resource Registry (spec §4.B):
// loading definitions from capability files, presenting a unified lookup,
// hot-reload via atomic snapshot swap, and the enhancement callback hook.
package registry

import (
	"encoding/json"
	"regexp"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mcpgateway/gateway/internal/gwerr"
	"github.com/mcpgateway/gateway/internal/protocol"
)

var toolNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// NotificationEmitter is the minimal surface the registry needs from the
// notification manager (component N) — kept as an interface here to avoid a
// package-level dependency cycle, set once via SetNotificationManager.
type NotificationEmitter interface {
	NotifyToolsListChanged()
}

// EnhancementCallback is invoked whenever the tool set changes, so that a
// downstream consumer (e.g. the smart-discovery index) can regenerate
// derived data. It is a one-shot capability the registry calls, not a
// back-reference, per DESIGN NOTES: "Enhancement callback".
type EnhancementCallback func(tools []*protocol.ToolDefinition)

// snapshot is an immutable, shared point-in-time view of the tool set.
// Swaps replace the whole snapshot atomically (spec §3 Ownership).
type snapshot struct {
	byName map[string]*protocol.ToolDefinition
	names  []string // stable order
}

// Registry is the unified tool lookup.
type Registry struct {
	logger *zap.Logger

	current atomic.Pointer[snapshot]

	mu                  sync.Mutex // serializes reload/swap operations only
	notifier            NotificationEmitter
	enhancementCallback EnhancementCallback
}

// New builds an empty Registry.
func New(logger *zap.Logger) *Registry {
	r := &Registry{logger: logger}
	r.current.Store(&snapshot{byName: map[string]*protocol.ToolDefinition{}})
	return r
}

// SetNotificationManager wires the collaborator that receives
// tools/list_changed notifications after a snapshot swap.
func (r *Registry) SetNotificationManager(n NotificationEmitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifier = n
}

// SetEnhancementCallback wires the one-shot callback invoked on every swap.
func (r *Registry) SetEnhancementCallback(cb EnhancementCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enhancementCallback = cb
}

// ListTools returns the names of every tool in the current snapshot,
// including disabled and hidden ones (hidden/enabled filtering is a caller
// concern — e.g. dispatcher omits hidden tools from tools/list but still
// honors tools/call against them).
func (r *Registry) ListTools() []string {
	snap := r.current.Load()
	out := make([]string, len(snap.names))
	copy(out, snap.names)
	return out
}

// GetTool looks up a single tool definition by name.
func (r *Registry) GetTool(name string) (*protocol.ToolDefinition, bool) {
	snap := r.current.Load()
	td, ok := snap.byName[name]
	return td, ok
}

// ValidateArguments checks call arguments against a tool's input_schema. It
// checks required properties only: every name in the schema's required list
// must be present in args. The types of declared properties are not checked,
// and no other JSON Schema keyword is applied.
func (r *Registry) ValidateArguments(td *protocol.ToolDefinition, args map[string]any) error {
	if len(td.InputSchema) == 0 {
		return nil
	}
	var schema struct {
		Type       string                     `json:"type"`
		Required   []string                   `json:"required"`
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(td.InputSchema, &schema); err != nil {
		return gwerr.Wrap(gwerr.KindJSONSchema, err, "tool %q has an invalid input schema", td.Name)
	}
	for _, req := range schema.Required {
		if _, ok := args[req]; !ok {
			return gwerr.New(gwerr.KindValidation, "missing required argument %q for tool %q", req, td.Name)
		}
	}
	return nil
}

// Load replaces the current snapshot with the given tool definitions after
// validating name shape and uniqueness, then notifies subscribers. This is
// the atomic "whole-snapshot replacement" described in spec §3 Ownership; by
// the time NotifyToolsListChanged fires, ListTools already reflects the new
// data (spec §5 ordering guarantee / §8 invariant 2).
func (r *Registry) Load(tools []*protocol.ToolDefinition) error {
	byName := make(map[string]*protocol.ToolDefinition, len(tools))
	names := make([]string, 0, len(tools))
	for _, td := range tools {
		if err := validateName(td.Name); err != nil {
			return err
		}
		if _, dup := byName[td.Name]; dup {
			return gwerr.New(gwerr.KindRegistry, "duplicate tool name %q in snapshot", td.Name)
		}
		byName[td.Name] = td
		names = append(names, td.Name)
	}

	r.mu.Lock()
	r.current.Store(&snapshot{byName: byName, names: names})
	cb := r.enhancementCallback
	notifier := r.notifier
	r.mu.Unlock()

	if cb != nil {
		cb(tools)
	}
	if notifier != nil {
		notifier.NotifyToolsListChanged()
	}
	r.logger.Info("registry snapshot loaded", zap.Int("tool_count", len(tools)))
	return nil
}

func validateName(name string) error {
	if name == "" || len(name) > protocol.ToolNameMaxLength {
		return gwerr.New(gwerr.KindValidation, "tool name %q must be 1-%d characters", name, protocol.ToolNameMaxLength)
	}
	if !toolNamePattern.MatchString(name) {
		return gwerr.New(gwerr.KindValidation, "tool name %q must match ^[A-Za-z0-9_-]+$", name)
	}
	return nil
}
