// Package protocol defines the transport-agnostic JSON-RPC 2.0 and MCP wire
// types shared by every component in the gateway: requests, responses,
// notifications, the tool/resource/prompt shapes, and the supported protocol
// version list.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is a supported MCP protocol version string.
type Version string

// Supported protocol versions, newest first. SupportedVersions[0] is the
// default negotiated when strict validation is disabled and the client's
// protocolVersion (an omitted one included) is not supported; with strict
// validation on, such a request is rejected.
var SupportedVersions = []Version{
	"2025-06-18",
	"2025-03-26",
	"2024-11-05",
	"2024-10-07",
	"2024-09-25",
}

// DefaultVersion is negotiated when strict validation is disabled and the
// client requests no version or an unsupported one.
const DefaultVersion Version = "2025-06-18"

// IsSupported reports whether v is in SupportedVersions.
func IsSupported(v Version) bool {
	for _, sv := range SupportedVersions {
		if sv == v {
			return true
		}
	}
	return false
}

// ID is a JSON-RPC request identifier: string, number, or null.
type ID struct {
	value any // string, float64, or nil
	isSet bool
}

// NewStringID builds an ID from a string.
func NewStringID(s string) ID { return ID{value: s, isSet: true} }

// NewNumberID builds an ID from a float64 (JSON has one numeric type).
func NewNumberID(n float64) ID { return ID{value: n, isSet: true} }

// IsNull reports whether the id was explicitly present but null.
func (i ID) IsNull() bool { return i.isSet && i.value == nil }

// IsSet reports whether an id field was present at all (distinguishing a
// notification, which has no id field, from a null id).
func (i ID) IsSet() bool { return i.isSet }

// String renders the id for logging/dedup-keying purposes.
func (i ID) String() string {
	if !i.isSet {
		return ""
	}
	switch v := i.value.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%g", v)
	default:
		return ""
	}
}

// MarshalJSON implements json.Marshaler.
func (i ID) MarshalJSON() ([]byte, error) {
	if !i.isSet {
		return []byte("null"), nil
	}
	return json.Marshal(i.value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (i *ID) UnmarshalJSON(data []byte) error {
	i.isSet = true
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v.(type) {
	case string, float64, nil:
		i.value = v
		return nil
	default:
		return fmt.Errorf("invalid request id type %T", v)
	}
}

// Request is a JSON-RPC 2.0 request or notification (Notification == Request
// with no id field present, tracked via HasID).
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id,omitempty"`
	HasID   bool            `json:"-"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler, tracking whether an id field
// was present on the wire (a notification has none).
func (r *Request) UnmarshalJSON(data []byte) error {
	type alias Request
	aux := struct {
		ID json.RawMessage `json:"id"`
		*alias
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.ID != nil {
		r.HasID = true
		return json.Unmarshal(aux.ID, &r.ID)
	}
	r.HasID = false
	return nil
}

// IsNotification reports whether this request carries no id.
func (r *Request) IsNotification() bool { return !r.HasID }

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      ID     `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// NewResultResponse builds a successful response.
func NewResultResponse(id ID, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id ID, err *Error) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: err}
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int32 `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// Fixed JSON-RPC / MCP error codes (spec §3).
const (
	CodeParseError     int32 = -32700
	CodeInvalidRequest int32 = -32600
	CodeMethodNotFound int32 = -32601
	CodeInvalidParams  int32 = -32602
	CodeInternal       int32 = -32603

	CodeToolNotFound        int32 = -32000
	CodeToolExecutionFailed int32 = -31999
	CodeResourceNotFound    int32 = -31998
	CodePromptNotFound      int32 = -31997
	CodeAuthFailed          int32 = -31996
	CodeConfigError         int32 = -31995
	CodeValidationFailed    int32 = -31994
	CodeRateLimited         int32 = -31993
	CodeServiceUnavailable  int32 = -31992
	CodeTimeout             int32 = -31991
	CodeNetworkError        int32 = -31990
	CodeSerializationError  int32 = -31989
	CodeToolDisabled        int32 = -31988
	CodeNotFound            int32 = -31987
	CodeInternalBackend     int32 = -31986
)

// ToolNameMaxLength is the maximum accepted tool name length (spec §3/§4.M).
const ToolNameMaxLength = 100

// Tool is the wire shape of a single aggregated tool.
type Tool struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Title        string          `json:"title,omitempty"`
	InputSchema  json.RawMessage `json:"inputSchema"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
	Annotations  json.RawMessage `json:"annotations,omitempty"`
}

// RouteKind enumerates the agent router's execution strategies (spec §4.D).
type RouteKind string

const (
	RouteSubprocess    RouteKind = "subprocess"
	RouteHTTP          RouteKind = "http"
	RouteLLM           RouteKind = "llm"
	RouteWebSocket     RouteKind = "websocket"
	RouteDatabase      RouteKind = "database"
	RouteGRPC          RouteKind = "grpc"
	RouteSSE           RouteKind = "sse"
	RouteGraphQL       RouteKind = "graphql"
	RouteExternalMCP   RouteKind = "external_mcp"
	RouteSmartDiscover RouteKind = "smart_discovery"
)

// Routing is the routing configuration embedded in a registry tool definition.
type Routing struct {
	Type   RouteKind       `json:"type"`
	Config json.RawMessage `json:"config"`
}

// ToolDefinition is a registry entry: a Tool plus routing and admin state.
type ToolDefinition struct {
	Tool
	Routing Routing `json:"routing"`
	Hidden  bool    `json:"hidden"`
	Enabled bool    `json:"enabled"`
}

// ToolCall is an invocation request for a named tool.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// AgentResult is the router's normalized internal outcome for one tool
// execution, before being wrapped into the wire-facing ToolResult.
type AgentResult struct {
	Success  bool           `json:"success"`
	Data     any            `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ContentItem is one element of a ToolResult's content array.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult is the wire-facing shape returned from tools/call (spec §4.O).
// A failed tool call is still a JSON-RPC result object, never a wire error
// object: Success is false, Error carries the human-readable message, and
// Metadata["error_category"] names the failure kind (tool_not_found,
// tool_disabled, validation_failure, execution_failure). Wire error objects
// are reserved for protocol faults the client sent before a tool was even
// identified (bad params, unknown method).
type ToolResult struct {
	Success  bool           `json:"success"`
	IsError  bool           `json:"is_error"`
	Error    string         `json:"error,omitempty"`
	Content  []ContentItem  `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ClientInfo identifies a connecting MCP client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is the params of an "initialize" request.
type InitializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	ClientInfo      ClientInfo      `json:"clientInfo"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
}

// ServerCapabilities is advertised back from "initialize".
type ServerCapabilities struct {
	Tools     *ListChangedCapability `json:"tools,omitempty"`
	Resources *ResourceCapability    `json:"resources,omitempty"`
	Prompts   *ListChangedCapability `json:"prompts,omitempty"`
	Logging   map[string]any         `json:"logging,omitempty"`
}

// ListChangedCapability advertises support for a `*/list_changed` notification.
type ListChangedCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ResourceCapability additionally advertises subscription support.
type ResourceCapability struct {
	ListChanged bool `json:"listChanged"`
	Subscribe   bool `json:"subscribe"`
}

// InitializeResult is the result of a successful "initialize" call.
type InitializeResult struct {
	ProtocolVersion string              `json:"protocolVersion"`
	Capabilities    ServerCapabilities  `json:"capabilities"`
	ServerInfo      ClientInfo          `json:"serverInfo"`
}
