// Package toolvalidator implements the runtime Tool Validator (spec §4.M):
// structural and pattern-based security checks, a security classification
// ladder, and sandbox policy recommendations, cached by tool identity hash.
package toolvalidator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"github.com/mcpgateway/gateway/internal/protocol"
)

// Classification is the security ladder a tool is placed on, in ascending
// order of required scrutiny.
type Classification int

const (
	ClassSafe Classification = iota
	ClassRestricted
	ClassPrivileged
	ClassDangerous
	ClassBlocked
)

func (c Classification) String() string {
	switch c {
	case ClassSafe:
		return "safe"
	case ClassRestricted:
		return "restricted"
	case ClassPrivileged:
		return "privileged"
	case ClassDangerous:
		return "dangerous"
	case ClassBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Limits bounds the structural checks; defaults mirror typical MCP tool
// shapes and can be overridden from config.
type Limits struct {
	MaxDescriptionSize     int
	MaxParameters          int
	MaxParameterNameLength int
	MaxSchemaBytes         int
}

// DefaultLimits returns the limits applied when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxDescriptionSize:     4096,
		MaxParameters:          64,
		MaxParameterNameLength: 128,
		MaxSchemaBytes:         65536,
	}
}

// SandboxRecommendation describes one dimension of an isolation policy.
type SandboxRecommendation struct {
	Dimension   string // "resource", "network", "filesystem", "environment"
	Description string
}

// ValidationResult is the cached outcome for one tool identity.
type ValidationResult struct {
	Hash            string
	Valid           bool
	Classification  Classification
	Warnings        []string
	Errors          []string
	SandboxPolicies []SandboxRecommendation
}

var (
	toolNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

	blockedNamePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)rm\s+-rf`),
		regexp.MustCompile(`(?i)sudo`),
		regexp.MustCompile(`(?i)passwd`),
		regexp.MustCompile(`(?i)\bexec\b`),
		regexp.MustCompile(`(?i)\beval\b`),
		regexp.MustCompile(`(?i)\bsystem\b`),
	}

	blockedParamPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)password`),
		regexp.MustCompile(`(?i)secret`),
		regexp.MustCompile(`(?i)\bkey\b`),
		regexp.MustCompile(`(?i)token`),
	}

	privilegedNamePattern = regexp.MustCompile(`(?i)admin|root|sudo`)
	restrictedNamePattern = regexp.MustCompile(`(?i)network|http|curl`)

	dangerousKeywords = []string{"system", "exec", "shell", "command", "delete", "password"}
)

// Validator computes and caches ValidationResults by tool identity hash.
type Validator struct {
	limits Limits

	mu    sync.Mutex
	cache map[string]*ValidationResult

	policies map[*regexp.Regexp][]SandboxRecommendation
}

// New builds a Validator with the given limits (DefaultLimits() if zero-valued).
func New(limits Limits) *Validator {
	if limits == (Limits{}) {
		limits = DefaultLimits()
	}
	return &Validator{
		limits:   limits,
		cache:    make(map[string]*ValidationResult),
		policies: defaultSandboxPolicies(),
	}
}

// Identity hashes a tool's name, description, and schema into a stable
// cache key, per spec: "cached ValidationResult per tool identity (hash of
// name+description+input_schema)".
func Identity(td *protocol.ToolDefinition) string {
	h := sha256.New()
	h.Write([]byte(td.Name))
	h.Write([]byte{0})
	h.Write([]byte(td.Description))
	h.Write([]byte{0})
	h.Write(td.InputSchema)
	return hex.EncodeToString(h.Sum(nil))
}

// Validate returns the cached result for td if present, otherwise computes,
// caches, and returns a fresh one.
func (v *Validator) Validate(td *protocol.ToolDefinition) *ValidationResult {
	hash := Identity(td)

	v.mu.Lock()
	if cached, ok := v.cache[hash]; ok {
		v.mu.Unlock()
		return cached
	}
	v.mu.Unlock()

	result := v.compute(td, hash)

	v.mu.Lock()
	v.cache[hash] = result
	v.mu.Unlock()
	return result
}

// InvalidateCache drops every cached result, e.g. after a limits change.
func (v *Validator) InvalidateCache() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache = make(map[string]*ValidationResult)
}

func (v *Validator) compute(td *protocol.ToolDefinition, hash string) *ValidationResult {
	result := &ValidationResult{Hash: hash, Valid: true, Classification: ClassSafe}

	v.checkStructural(td, result)
	v.checkPatterns(td, result)
	v.checkSchemaShape(td, result)
	v.classify(td, result)

	if result.Classification == ClassBlocked {
		result.Valid = false
	}
	result.SandboxPolicies = v.recommendationsFor(td.Name, result.Classification)
	return result
}

func (v *Validator) checkStructural(td *protocol.ToolDefinition, result *ValidationResult) {
	if len(td.Name) == 0 || len(td.Name) > 100 {
		result.Errors = append(result.Errors, "tool name must be 1-100 characters")
		result.Valid = false
	}
	if !toolNamePattern.MatchString(td.Name) {
		result.Errors = append(result.Errors, "tool name must match ^[A-Za-z0-9_-]+$")
		result.Valid = false
	}
	if td.Description == "" {
		result.Errors = append(result.Errors, "tool description must not be empty")
		result.Valid = false
	}
	if len(td.Description) > v.limits.MaxDescriptionSize {
		result.Errors = append(result.Errors, "tool description exceeds maximum size")
		result.Valid = false
	}
	if len(td.InputSchema) > v.limits.MaxSchemaBytes {
		result.Errors = append(result.Errors, "input schema exceeds maximum size")
		result.Valid = false
	}

	var schema struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if len(td.InputSchema) > 0 {
		if err := json.Unmarshal(td.InputSchema, &schema); err != nil {
			result.Errors = append(result.Errors, "input schema is not valid JSON")
			result.Valid = false
			return
		}
	}
	if len(schema.Properties) > v.limits.MaxParameters {
		result.Errors = append(result.Errors, "tool declares too many parameters")
		result.Valid = false
	}
	for name := range schema.Properties {
		if len(name) > v.limits.MaxParameterNameLength {
			result.Errors = append(result.Errors, "parameter name exceeds maximum length: "+name)
			result.Valid = false
		}
		for _, pat := range blockedParamPatterns {
			if pat.MatchString(name) {
				result.Warnings = append(result.Warnings, "parameter name matches a sensitive pattern: "+name)
			}
		}
	}
}

func (v *Validator) checkPatterns(td *protocol.ToolDefinition, result *ValidationResult) {
	for _, pat := range blockedNamePatterns {
		if pat.MatchString(td.Name) || pat.MatchString(td.Description) {
			result.Classification = ClassBlocked
			result.Errors = append(result.Errors, "tool matches a blocked pattern: "+pat.String())
		}
	}
}

// checkSchemaShape rejects a schema whose $ref graph cycles back on itself.
func (v *Validator) checkSchemaShape(td *protocol.ToolDefinition, result *ValidationResult) {
	if len(td.InputSchema) == 0 {
		return
	}
	var raw map[string]any
	if err := json.Unmarshal(td.InputSchema, &raw); err != nil {
		return
	}
	if hasRefCycle(raw, map[string]bool{}) {
		result.Errors = append(result.Errors, "input schema contains a recursive $ref cycle")
		result.Valid = false
	}
}

func hasRefCycle(node any, seen map[string]bool) bool {
	switch v := node.(type) {
	case map[string]any:
		if ref, ok := v["$ref"].(string); ok {
			if seen[ref] {
				return true
			}
			seen[ref] = true
			defer delete(seen, ref)
		}
		for _, child := range v {
			if hasRefCycle(child, seen) {
				return true
			}
		}
	case []any:
		for _, child := range v {
			if hasRefCycle(child, seen) {
				return true
			}
		}
	}
	return false
}

func (v *Validator) classify(td *protocol.ToolDefinition, result *ValidationResult) {
	if result.Classification == ClassBlocked {
		return
	}
	haystack := strings.ToLower(td.Name + " " + td.Description)
	for _, kw := range dangerousKeywords {
		if strings.Contains(haystack, kw) {
			result.Classification = upgrade(result.Classification, ClassDangerous)
		}
	}
	if privilegedNamePattern.MatchString(td.Name) {
		result.Classification = upgrade(result.Classification, ClassPrivileged)
	}
	if restrictedNamePattern.MatchString(td.Name) {
		result.Classification = upgrade(result.Classification, ClassRestricted)
	}
}

func upgrade(current, candidate Classification) Classification {
	if candidate > current {
		return candidate
	}
	return current
}

func defaultSandboxPolicies() map[*regexp.Regexp][]SandboxRecommendation {
	return map[*regexp.Regexp][]SandboxRecommendation{
		regexp.MustCompile(`(?i)admin|root|sudo`): {
			{Dimension: "resource", Description: "cap CPU/memory tightly, no GPU"},
			{Dimension: "network", Description: "deny all outbound network"},
			{Dimension: "filesystem", Description: "read-only root, no host mounts"},
			{Dimension: "environment", Description: "strip all but an explicit allowlist"},
		},
	}
}

// recommendationsFor sizes sandbox advice to the tool's classification, and
// layers in any name-regex-keyed policy override.
func (v *Validator) recommendationsFor(name string, class Classification) []SandboxRecommendation {
	for pat, recs := range v.policies {
		if pat.MatchString(name) {
			return recs
		}
	}

	switch class {
	case ClassSafe:
		return []SandboxRecommendation{
			{Dimension: "resource", Description: "default limits"},
		}
	case ClassRestricted:
		return []SandboxRecommendation{
			{Dimension: "resource", Description: "default limits"},
			{Dimension: "network", Description: "allow only declared upstream hosts"},
		}
	case ClassPrivileged:
		return []SandboxRecommendation{
			{Dimension: "resource", Description: "reduced CPU/memory ceiling"},
			{Dimension: "network", Description: "allow only declared upstream hosts"},
			{Dimension: "filesystem", Description: "restrict to a scoped working directory"},
		}
	case ClassDangerous:
		return []SandboxRecommendation{
			{Dimension: "resource", Description: "minimal CPU/memory ceiling"},
			{Dimension: "network", Description: "deny all outbound network by default"},
			{Dimension: "filesystem", Description: "read-only root, explicit writable scratch only"},
			{Dimension: "environment", Description: "strip all but an explicit allowlist"},
		}
	default:
		return []SandboxRecommendation{
			{Dimension: "resource", Description: "execution blocked"},
		}
	}
}
