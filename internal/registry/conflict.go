package registry

import (
	"fmt"

	"github.com/mcpgateway/gateway/internal/protocol"
)

// PrefixWithBackend is the default ConflictResolver. It gives every tool a
// globally unique name by prefixing it with its source name ("server:tool"),
// the naming convention the teacher's own tool index uses for its
// FullToolName field. There is never a collision under this strategy, so it
// always accepts every tool from every source.
type PrefixWithBackend struct{}

// Resolve implements ConflictResolver.
func (PrefixWithBackend) Resolve(sources []SourcedTools) []*protocol.ToolDefinition {
	var out []*protocol.ToolDefinition
	for _, src := range sources {
		for _, td := range src.Tools {
			clone := *td
			clone.Name = fmt.Sprintf("%s:%s", src.Source, td.Name)
			out = append(out, &clone)
		}
	}
	return out
}

// FirstWins keeps the first occurrence of a name and silently drops later
// duplicates — useful when capability files are curated by hand and a
// collision is expected to mean "this source's copy is authoritative".
type FirstWins struct{}

// Resolve implements ConflictResolver.
func (FirstWins) Resolve(sources []SourcedTools) []*protocol.ToolDefinition {
	seen := make(map[string]struct{})
	var out []*protocol.ToolDefinition
	for _, src := range sources {
		for _, td := range src.Tools {
			if _, dup := seen[td.Name]; dup {
				continue
			}
			seen[td.Name] = struct{}{}
			out = append(out, td)
		}
	}
	return out
}
