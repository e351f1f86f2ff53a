package registry

import (
	"encoding/json"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mcpgateway/gateway/internal/gwerr"
	"github.com/mcpgateway/gateway/internal/protocol"
)

// CapabilityFileMetadata is the metadata block of a capability file (spec §6:
// "Capability files generated for discovered network backends are YAML of
// the form {metadata:{...}, tools:[...]}").
type CapabilityFileMetadata struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Version     string `yaml:"version" json:"version"`
}

// CapabilityFile is the on-disk shape of one registry source file.
type CapabilityFile struct {
	Metadata CapabilityFileMetadata    `yaml:"metadata" json:"metadata"`
	Tools    []capabilityFileToolEntry `yaml:"tools" json:"tools"`
}

// capabilityFileToolEntry mirrors protocol.ToolDefinition but with YAML tags
// and looser (map[string]any) schema/routing-config fields, since capability
// files are hand- or tool-authored YAML rather than wire JSON.
type capabilityFileToolEntry struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Title       string         `yaml:"title"`
	InputSchema map[string]any `yaml:"input_schema"`
	Routing     struct {
		Type   string         `yaml:"type"`
		Config map[string]any `yaml:"config"`
	} `yaml:"routing"`
	Hidden  bool `yaml:"hidden"`
	Enabled *bool `yaml:"enabled"`
}

// LoadFile parses one capability file from disk into protocol.ToolDefinitions.
func LoadFile(path string) (*CapabilityFile, []*protocol.ToolDefinition, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-configured, not user-controlled
	if err != nil {
		return nil, nil, gwerr.Wrap(gwerr.KindIO, err, "reading capability file %s", path)
	}

	var cf CapabilityFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, nil, gwerr.Wrap(gwerr.KindYAML, err, "parsing capability file %s", path)
	}

	defs := make([]*protocol.ToolDefinition, 0, len(cf.Tools))
	for _, entry := range cf.Tools {
		schemaJSON, err := json.Marshal(entry.InputSchema)
		if err != nil {
			return nil, nil, gwerr.Wrap(gwerr.KindSerde, err, "marshaling input_schema for tool %q", entry.Name)
		}
		configJSON, err := json.Marshal(entry.Routing.Config)
		if err != nil {
			return nil, nil, gwerr.Wrap(gwerr.KindSerde, err, "marshaling routing config for tool %q", entry.Name)
		}
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		defs = append(defs, &protocol.ToolDefinition{
			Tool: protocol.Tool{
				Name:        entry.Name,
				Description: entry.Description,
				Title:       entry.Title,
				InputSchema: schemaJSON,
			},
			Routing: protocol.Routing{
				Type:   protocol.RouteKind(entry.Routing.Type),
				Config: configJSON,
			},
			Hidden:  entry.Hidden,
			Enabled: enabled,
		})
	}
	return &cf, defs, nil
}

// LoadDir loads every *.yaml/*.yml capability file in dir and returns the
// concatenation of all tool definitions, applying resolve to settle any
// name collisions across files before the caller hands the result to
// Registry.Load.
func LoadDir(logger *zap.Logger, dir string, resolve ConflictResolver) ([]*protocol.ToolDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindIO, err, "reading registry directory %s", dir)
	}

	var bySource []SourcedTools
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		cf, defs, err := LoadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable capability file", zap.String("path", path), zap.Error(err))
			continue
		}
		sourceName := cf.Metadata.Name
		if sourceName == "" {
			sourceName = e.Name()
		}
		bySource = append(bySource, SourcedTools{Source: sourceName, Tools: defs})
	}

	if resolve == nil {
		resolve = PrefixWithBackend{}
	}
	return resolve.Resolve(bySource), nil
}

type SourcedTools struct {
	Source string
	Tools  []*protocol.ToolDefinition
}

// ConflictResolver decides what happens when two sources expose tools with
// the same name (spec §9 Open Question: "depends on a conflict-resolution
// strategy that is configuration-driven; the core exposes the hook").
type ConflictResolver interface {
	Resolve(sources []SourcedTools) []*protocol.ToolDefinition
}
