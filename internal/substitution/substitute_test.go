package substitution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSubstituteString_PurePlaceholderPreservesType(t *testing.T) {
	args := map[string]any{"count": float64(42), "items": []any{"a", "b"}}

	v, err := SubstituteString("{count}", args, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(42), v)

	v, err = SubstituteString("{{items}}", args, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, v)
}

func TestSubstituteString_MixedReturnsString(t *testing.T) {
	args := map[string]any{"name": "hi", "count": float64(3)}
	v, err := SubstituteString("hello {name}, count={count}!", args, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello hi, count=3!", v)
}

func TestSubstituteString_ArrayIndex(t *testing.T) {
	args := map[string]any{"tags": []any{"x", "y", "z"}}
	v, err := SubstituteString("{tags[1]}", args, nil)
	require.NoError(t, err)
	assert.Equal(t, "y", v)
}

func TestSubstituteString_MissingFailsWithoutDefault(t *testing.T) {
	_, err := SubstituteString("{missing}", map[string]any{}, nil)
	assert.Error(t, err)
}

func TestSubstituteString_MissingUsesDefault(t *testing.T) {
	v, err := SubstituteString("{missing}", map[string]any{}, Defaults{"missing": "fallback"})
	require.NoError(t, err)
	assert.Equal(t, "fallback", v)
}

func TestSubstituteJSON_DeepExpansion(t *testing.T) {
	args := map[string]any{"id": "123"}
	tmpl := map[string]any{
		"url":     "https://example.com/items/{id}",
		"headers": map[string]any{"X-Item": "{id}"},
		"nested":  []any{"{id}", "static"},
	}
	out, err := SubstituteJSON(tmpl, args, nil)
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, "https://example.com/items/123", m["url"])
	assert.Equal(t, "static", m["nested"].([]any)[1])
}

// TestSubstituteString_IdempotentOnPlainStrings is the §8 invariant 7
// property: a string with no placeholders returns unchanged for any input.
func TestSubstituteString_IdempotentOnPlainStrings(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := rapid.StringMatching(`[a-zA-Z0-9 ,.!?-]*`).Draw(rt, "s")
		v, err := SubstituteString(s, map[string]any{}, nil)
		require.NoError(rt, err)
		assert.Equal(rt, s, v)
	})
}
