package protocol

import (
	"encoding/json"
	"fmt"
)

// MaxMessageSize bounds a single raw JSON-RPC message (component J, §5
// backpressure). MaxBatchSize bounds a Streamable HTTP batch array (§6).
const (
	MaxMessageSize = 4 << 20 // 4 MiB
	MaxBatchSize   = 100
	maxIDLength    = 256
	maxMethodLen   = 256
)

// ValidationError is returned by ValidateEnvelope/ValidateMethodParams; Kind
// is the gwerr.Kind string the caller should wrap it with (kept as a plain
// string here to avoid an import cycle with gwerr, which itself imports
// protocol for the wire Error type).
type ValidationError struct {
	Kind    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func valErr(kind, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// knownMethods is the recognized MCP method set (component O's table) used by
// strict-mode validation.
var knownMethods = map[string]bool{
	"initialize":                  true,
	"notifications/initialized":   true,
	"tools/list":                  true,
	"tools/call":                  true,
	"resources/list":              true,
	"resources/read":              true,
	"prompts/list":                true,
	"prompts/get":                 true,
	"logging/message":             true,
	"logging/setLevel":            true,
	"completion/complete":         true,
	"sampling/createMessage":      true,
	"elicitation/create":          true,
	"roots/list":                  true,
	"notifications/cancelled":     true,
	"notifications/progress":     true,
	"notifications/tools/list_changed":     true,
	"notifications/resources/list_changed": true,
	"notifications/resources/updated":      true,
	"notifications/prompts/list_changed":   true,
}

// ValidateRaw is the first validation phase: size and well-formed JSON.
func ValidateRaw(data []byte) error {
	if len(data) == 0 {
		return valErr("parse", "empty message body")
	}
	if len(data) > MaxMessageSize {
		return valErr("parse", "message exceeds maximum size of %d bytes", MaxMessageSize)
	}
	if !json.Valid(data) {
		return valErr("parse", "invalid JSON")
	}
	return nil
}

// ValidateEnvelope is the second validation phase: JSON-RPC envelope
// structure, per spec §4.A. strict gates unrecognized methods.
func ValidateEnvelope(req *Request, strict bool) error {
	if req.JSONRPC != "2.0" {
		return valErr("invalid_request", `jsonrpc must be "2.0", got %q`, req.JSONRPC)
	}
	if req.Method == "" {
		return valErr("invalid_request", "method must not be empty")
	}
	if len(req.Method) > maxMethodLen {
		return valErr("invalid_request", "method exceeds maximum length of %d", maxMethodLen)
	}
	if req.HasID {
		if req.ID.IsNull() {
			// null id is syntactically legal JSON-RPC but MCP never needs it;
			// treat as set for dedup purposes, callers decide acceptance.
		} else if s, ok := idAsString(req.ID); ok {
			if s == "" || len(s) > maxIDLength {
				return valErr("invalid_request", "string id must be 1-%d chars", maxIDLength)
			}
		}
	}
	isNotificationMethod := len(req.Method) >= len("notifications/") && req.Method[:len("notifications/")] == "notifications/"
	if isNotificationMethod && req.HasID {
		// A notification method carrying an id is rejected as invalid_request;
		// it is not accepted with a warning.
		return valErr("invalid_request", "notification method %q must not carry an id", req.Method)
	}
	if !isNotificationMethod && !req.HasID {
		return valErr("invalid_request", "method %q requires an id", req.Method)
	}
	if strict && !knownMethods[req.Method] {
		return valErr("method_not_found", "unrecognized method %q", req.Method)
	}
	return nil
}

func idAsString(id ID) (string, bool) {
	if !id.isSet || id.value == nil {
		return "", false
	}
	s, ok := id.value.(string)
	return s, ok
}

// ValidateMethodParams runs the method-specific structural checks from
// component J (§4.J). Unknown methods are not rejected here — that is
// ValidateEnvelope's job under strict mode — this only validates the shape
// of params for methods the validator understands.
func ValidateMethodParams(method string, params json.RawMessage) error {
	switch method {
	case "initialize":
		var p struct {
			ClientInfo *ClientInfo `json:"clientInfo"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return err
		}
		if p.ClientInfo == nil || p.ClientInfo.Name == "" || p.ClientInfo.Version == "" {
			return valErr("invalid_params", "initialize requires clientInfo.name and clientInfo.version")
		}
	case "tools/call":
		var p struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return err
		}
		if p.Name == "" {
			return valErr("invalid_params", "tools/call requires a string name")
		}
		if len(p.Arguments) > 0 {
			var obj map[string]any
			if err := json.Unmarshal(p.Arguments, &obj); err != nil {
				return valErr("invalid_params", "tools/call arguments must be a JSON object")
			}
		}
	case "resources/read":
		var p struct {
			URI string `json:"uri"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return err
		}
		if p.URI == "" {
			return valErr("invalid_params", "resources/read requires a uri")
		}
	case "prompts/get":
		var p struct {
			Name string `json:"name"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return err
		}
		if p.Name == "" {
			return valErr("invalid_params", "prompts/get requires a name")
		}
	case "logging/setLevel":
		var p struct {
			Level string `json:"level"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return err
		}
		if !validLogLevels[p.Level] {
			return valErr("invalid_params", "logging/setLevel requires a valid level, got %q", p.Level)
		}
	case "completion/complete":
		var p struct {
			Ref struct {
				Type string `json:"type"`
			} `json:"ref"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return err
		}
		if p.Ref.Type != "ref/resource" && p.Ref.Type != "ref/prompt" {
			return valErr("invalid_params", "completion/complete requires ref.type of ref/resource or ref/prompt")
		}
	}
	return nil
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "notice": true, "warning": true,
	"error": true, "critical": true, "alert": true, "emergency": true,
}

func unmarshalParams(params json.RawMessage, dst any) error {
	if len(params) == 0 {
		return valErr("invalid_params", "missing params")
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return valErr("invalid_params", "malformed params: %v", err)
	}
	return nil
}
