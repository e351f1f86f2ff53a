// Package substitution implements parameter substitution (spec §4.C):
// textual and deep-JSON template expansion of {name}/{{name}}/{name[i]}
// placeholders from caller-supplied tool arguments.
package substitution

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mcpgateway/gateway/internal/gwerr"
)

// placeholderPattern matches {{name}}, {name}, and {name[index]}, capturing
// the inner reference so a pure-placeholder string can be detected exactly.
var placeholderPattern = regexp.MustCompile(`\{\{?\s*([A-Za-z0-9_.]+(?:\[\d+\])?)\s*\}?\}`)

// Defaults supplies fallback values for parameters missing from arguments.
type Defaults map[string]any

// SubstituteString expands all placeholders in s using args. If s is
// *exactly* one placeholder (nothing else in the string), the raw JSON value
// bound to that reference is returned, preserving its type (array, object,
// number, bool); otherwise a string with every placeholder textually
// replaced is returned.
func SubstituteString(s string, args map[string]any, defaults Defaults) (any, error) {
	matches := placeholderPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		ref := s[matches[0][2]:matches[0][3]]
		val, err := resolve(ref, args, defaults)
		if err != nil {
			return nil, err
		}
		return val, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end, refStart, refEnd := m[0], m[1], m[2], m[3]
		b.WriteString(s[last:start])
		ref := s[refStart:refEnd]
		val, err := resolve(ref, args, defaults)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(val))
		last = end
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

// resolve looks up a placeholder reference, supporting dotted paths for
// nested objects and a trailing [i] array index.
func resolve(ref string, args map[string]any, defaults Defaults) (any, error) {
	name := ref
	var index *int
	if open := strings.IndexByte(ref, '['); open >= 0 && strings.HasSuffix(ref, "]") {
		name = ref[:open]
		idxStr := ref[open+1 : len(ref)-1]
		i, err := strconv.Atoi(idxStr)
		if err != nil {
			return nil, gwerr.New(gwerr.KindValidation, "invalid array index in placeholder %q", ref)
		}
		index = &i
	}

	parts := strings.Split(name, ".")
	var cur any = args
	for i, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return missingOrDefault(ref, defaults)
		}
		v, present := m[part]
		if !present {
			return missingOrDefault(ref, defaults)
		}
		cur = v
		_ = i
	}

	if index != nil {
		arr, ok := cur.([]any)
		if !ok || *index < 0 || *index >= len(arr) {
			return nil, gwerr.New(gwerr.KindValidation, "placeholder %q index out of range", ref)
		}
		cur = arr[*index]
	}
	return cur, nil
}

func missingOrDefault(ref string, defaults Defaults) (any, error) {
	if defaults != nil {
		if v, ok := defaults[ref]; ok {
			return v, nil
		}
	}
	return nil, gwerr.New(gwerr.KindValidation, "missing required parameter %q", ref)
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		// Unquote simple JSON scalars so numbers/bools render without quotes
		// inside a larger string, matching what a human would expect to see
		// embedded in e.g. a shell command.
		var unquoted string
		if json.Unmarshal(b, &unquoted) == nil {
			return unquoted
		}
		return string(b)
	}
}

// SubstituteJSON recursively substitutes placeholders through an arbitrary
// JSON value — object keys and values alike — preserving structure. Used to
// expand an entire request body template (e.g. an HTTP JSON body or gRPC
// request payload) from the caller's arguments in one pass.
func SubstituteJSON(value any, args map[string]any, defaults Defaults) (any, error) {
	switch v := value.(type) {
	case string:
		return SubstituteString(v, args, defaults)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			newKey, err := SubstituteString(k, args, defaults)
			if err != nil {
				return nil, err
			}
			keyStr, ok := newKey.(string)
			if !ok {
				keyStr = stringify(newKey)
			}
			newVal, err := SubstituteJSON(val, args, defaults)
			if err != nil {
				return nil, err
			}
			out[keyStr] = newVal
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			newItem, err := SubstituteJSON(item, args, defaults)
			if err != nil {
				return nil, err
			}
			out[i] = newItem
		}
		return out, nil
	default:
		return v, nil
	}
}
