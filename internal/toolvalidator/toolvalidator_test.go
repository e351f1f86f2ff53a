package toolvalidator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpgateway/gateway/internal/protocol"
)

func td(name, desc string, schema string) *protocol.ToolDefinition {
	return &protocol.ToolDefinition{
		Tool: protocol.Tool{
			Name:        name,
			Description: desc,
			InputSchema: json.RawMessage(schema),
		},
	}
}

func TestValidate_SafeTool(t *testing.T) {
	v := New(DefaultLimits())
	result := v.Validate(td("echo", "echoes input", `{"type":"object","properties":{"message":{"type":"string"}}}`))
	assert.True(t, result.Valid)
	assert.Equal(t, ClassSafe, result.Classification)
}

func TestValidate_BlockedNamePattern(t *testing.T) {
	v := New(DefaultLimits())
	result := v.Validate(td("rm -rf helper", "cleans up files", `{}`))
	assert.False(t, result.Valid)
	assert.Equal(t, ClassBlocked, result.Classification)
}

func TestValidate_PrivilegedByName(t *testing.T) {
	v := New(DefaultLimits())
	result := v.Validate(td("admin_panel", "manage admin settings", `{}`))
	assert.Equal(t, ClassPrivileged, result.Classification)
}

func TestValidate_RestrictedByName(t *testing.T) {
	v := New(DefaultLimits())
	result := v.Validate(td("http_fetch", "fetch a network resource", `{}`))
	assert.Equal(t, ClassRestricted, result.Classification)
}

func TestValidate_DangerousByKeyword(t *testing.T) {
	v := New(DefaultLimits())
	result := v.Validate(td("cleanup", "delete files from disk", `{}`))
	assert.Equal(t, ClassDangerous, result.Classification)
}

func TestValidate_RejectsBadName(t *testing.T) {
	v := New(DefaultLimits())
	result := v.Validate(td("bad name!", "desc", `{}`))
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors[0], "must match")
}

func TestValidate_RejectsEmptyDescription(t *testing.T) {
	v := New(DefaultLimits())
	result := v.Validate(td("echo", "", `{}`))
	assert.False(t, result.Valid)
}

func TestValidate_SensitiveParameterWarns(t *testing.T) {
	v := New(DefaultLimits())
	result := v.Validate(td("login", "authenticates a user", `{"properties":{"password":{"type":"string"}}}`))
	require.NotEmpty(t, result.Warnings)
}

func TestValidate_RefCycleRejected(t *testing.T) {
	v := New(DefaultLimits())
	schema := `{"$ref":"#/definitions/a","definitions":{"a":{"$ref":"#/definitions/a"}}}`
	result := v.Validate(td("recursive", "has a recursive schema", schema))
	assert.False(t, result.Valid)
}

func TestValidate_CachesByIdentity(t *testing.T) {
	v := New(DefaultLimits())
	tool := td("echo", "echoes input", `{}`)

	first := v.Validate(tool)
	second := v.Validate(tool)
	assert.Same(t, first, second)
}

func TestValidate_SandboxPolicyScalesWithClassification(t *testing.T) {
	v := New(DefaultLimits())
	safe := v.Validate(td("echo", "echoes input", `{}`))
	dangerous := v.Validate(td("cleanup", "delete files from disk", `{}`))
	assert.Less(t, len(safe.SandboxPolicies), len(dangerous.SandboxPolicies))
}

func TestInvalidateCache_ForcesRecompute(t *testing.T) {
	v := New(DefaultLimits())
	tool := td("echo", "echoes input", `{}`)
	first := v.Validate(tool)
	v.InvalidateCache()
	second := v.Validate(tool)
	assert.NotSame(t, first, second)
	assert.Equal(t, first.Classification, second.Classification)
}
