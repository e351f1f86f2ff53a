// Package dispatcher implements the Protocol Dispatcher (spec §4.O): the
// single entry point every transport adapter (§4.P) funnels requests
// through. It binds a request to a session, runs envelope/method-params
// validation, dispatches by method name, and formats tools/call results into
// their wire shape.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mcpgateway/gateway/internal/cancellation"
	"github.com/mcpgateway/gateway/internal/gwerr"
	"github.com/mcpgateway/gateway/internal/gwlog"
	"github.com/mcpgateway/gateway/internal/notify"
	"github.com/mcpgateway/gateway/internal/progress"
	"github.com/mcpgateway/gateway/internal/prompts"
	"github.com/mcpgateway/gateway/internal/protocol"
	"github.com/mcpgateway/gateway/internal/registry"
	"github.com/mcpgateway/gateway/internal/resources"
	"github.com/mcpgateway/gateway/internal/router"
	"github.com/mcpgateway/gateway/internal/session"
	"github.com/mcpgateway/gateway/internal/toolvalidator"
)

// defaultToolCallTimeout bounds the cancellation token registered for a
// tools/call when Deps.ToolCallTimeout is left zero.
const defaultToolCallTimeout = 30 * time.Second

// nextStepReasoningMaxLen truncates smart_discovery's "reasoning" hint per
// spec §4.O's content-formatting rule for tools/call.
const nextStepReasoningMaxLen = 100

// Deps are the Dispatcher's collaborators. Registry, Router, and Sessions
// are required; the rest may be left zero-valued to disable that slice of
// functionality (e.g. a gateway with no registered resources still answers
// resources/list with an empty array).
type Deps struct {
	Logger       *zap.Logger
	Sessions     *session.Manager
	Registry     *registry.Registry
	Router       *router.Router
	Validator    *toolvalidator.Validator
	Cancellation *cancellation.Manager
	Progress     *progress.Tracker
	Notify       *notify.Manager
	Resources    *resources.Manager
	Prompts      *prompts.Manager

	// Capabilities mirrors the flags notify.Manager was built with, so
	// initialize can advertise them without the notify package needing a
	// getter purely for this.
	Capabilities notify.Capabilities

	// Level, if non-nil, lets logging/setLevel change verbosity at runtime.
	Level *zap.AtomicLevel

	StrictVersion     bool
	ExposeErrorDetail bool
	ToolCallTimeout   time.Duration
}

// Dispatcher is the protocol method table (spec §4.O).
type Dispatcher struct {
	logger       *zap.Logger
	sessions     *session.Manager
	registry     *registry.Registry
	router       *router.Router
	validator    *toolvalidator.Validator
	cancellation *cancellation.Manager
	progress     *progress.Tracker
	notifier     *notify.Manager
	resources    *resources.Manager
	prompts      *prompts.Manager
	caps         notify.Capabilities
	level        *zap.AtomicLevel

	completion  CompletionHandler
	sampling    SamplingService
	elicitation ElicitationService
	roots       RootsService

	strictVersion     bool
	exposeErrorDetail bool
	toolCallTimeout   time.Duration
}

// New builds a Dispatcher. Sessions, Registry, and Router must be non-nil.
func New(d Deps) *Dispatcher {
	timeout := d.ToolCallTimeout
	if timeout <= 0 {
		timeout = defaultToolCallTimeout
	}
	disp := &Dispatcher{
		logger:            d.Logger,
		sessions:          d.Sessions,
		registry:          d.Registry,
		router:            d.Router,
		validator:         d.Validator,
		cancellation:      d.Cancellation,
		progress:          d.Progress,
		notifier:          d.Notify,
		resources:         d.Resources,
		prompts:           d.Prompts,
		caps:              d.Capabilities,
		level:             d.Level,
		strictVersion:     d.StrictVersion,
		exposeErrorDetail: d.ExposeErrorDetail,
		toolCallTimeout:   timeout,
	}
	disp.completion = defaultCompletion{d: disp}
	return disp
}

// SetCompletion installs a custom completion/complete handler, replacing the
// built-in prefix-match one.
func (d *Dispatcher) SetCompletion(h CompletionHandler) {
	if h == nil {
		h = defaultCompletion{d: d}
	}
	d.completion = h
}

// SetSampling installs the optional sampling/createMessage backend.
func (d *Dispatcher) SetSampling(s SamplingService) { d.sampling = s }

// SetElicitation installs the optional elicitation/create backend.
func (d *Dispatcher) SetElicitation(e ElicitationService) { d.elicitation = e }

// SetRoots installs the optional roots/list backend.
func (d *Dispatcher) SetRoots(r RootsService) { d.roots = r }

// HandleRaw parses a raw JSON-RPC message and dispatches it, returning nil
// for a well-formed notification (spec: "Returns None for notifications").
// A malformed message still yields a parse_error/invalid_request response,
// since the client has no id to correlate a silent drop against.
func (d *Dispatcher) HandleRaw(ctx context.Context, connectionID string, raw []byte) *protocol.Response {
	if err := protocol.ValidateRaw(raw); err != nil {
		return errorResponse(protocol.ID{}, gwerr.New(gwerr.KindParse, "%s", err.Error()), d.exposeErrorDetail)
	}
	var req protocol.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(protocol.ID{}, gwerr.Wrap(gwerr.KindParse, err, "decoding request"), d.exposeErrorDetail)
	}
	return d.Handle(ctx, connectionID, &req)
}

// Handle dispatches one already-parsed request/notification.
func (d *Dispatcher) Handle(ctx context.Context, connectionID string, req *protocol.Request) *protocol.Response {
	if err := protocol.ValidateEnvelope(req, d.strictVersion); err != nil {
		return errorResponse(req.ID, wrapValidation(err), d.exposeErrorDetail)
	}
	if err := protocol.ValidateMethodParams(req.Method, req.Params); err != nil {
		return errorResponse(req.ID, wrapValidation(err), d.exposeErrorDetail)
	}

	sess, ok := d.sessions.Get(connectionID)
	if !ok {
		sess = d.sessions.CreateSession(connectionID)
	}
	if req.Method != "initialize" {
		if err := d.sessions.ValidateRequestID(sess, req.ID); err != nil {
			return errorResponse(req.ID, err, d.exposeErrorDetail)
		}
	}

	result, err := d.route(ctx, sess, req)
	if req.IsNotification() {
		if err != nil {
			d.logger.Debug("error handling notification", zap.String("method", req.Method), zap.Error(err))
		}
		return nil
	}
	if err != nil {
		return errorResponse(req.ID, err, d.exposeErrorDetail)
	}
	return protocol.NewResultResponse(req.ID, result)
}

func (d *Dispatcher) route(ctx context.Context, sess *session.Session, req *protocol.Request) (any, error) {
	switch req.Method {
	case "initialize":
		return d.handleInitialize(sess, req.Params)
	case "notifications/initialized":
		return nil, nil
	case "notifications/cancelled":
		return nil, d.handleCancelledNotification(req.Params)
	case "notifications/progress":
		d.logger.Debug("ignoring client-originated progress notification")
		return nil, nil
	case "tools/list":
		return d.handleToolsList(), nil
	case "tools/call":
		return d.handleToolsCall(ctx, req.ID, req.Params)
	case "resources/list":
		return d.handleResourcesList(), nil
	case "resources/read":
		return d.handleResourcesRead(req.Params)
	case "prompts/list":
		return d.handlePromptsList(), nil
	case "prompts/get":
		return d.handlePromptsGet(req.Params)
	case "logging/message":
		d.handleLoggingMessage(req.Params)
		return nil, nil
	case "logging/setLevel":
		return d.handleLoggingSetLevel(req.Params)
	case "completion/complete":
		return d.handleCompletionComplete(ctx, req.Params)
	case "sampling/createMessage":
		return d.handleSampling(ctx, req.Params)
	case "elicitation/create":
		return d.handleElicitation(ctx, req.Params)
	case "roots/list":
		return d.handleRootsList(ctx)
	default:
		return nil, gwerr.New(gwerr.KindMethodNotFound, "unrecognized method %q", req.Method)
	}
}

func (d *Dispatcher) handleInitialize(sess *session.Session, params json.RawMessage) (*protocol.InitializeResult, error) {
	var p protocol.InitializeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, gwerr.Wrap(gwerr.KindInvalidParams, err, "decoding initialize params")
	}
	negotiated, err := d.sessions.HandleInitialize(sess, p, d.strictVersion)
	if err != nil {
		return nil, err
	}
	return &protocol.InitializeResult{
		ProtocolVersion: string(negotiated),
		Capabilities:    d.serverCapabilities(),
		ServerInfo:      protocol.ClientInfo{Name: "mcpgatewayd", Version: string(protocol.DefaultVersion)},
	}, nil
}

func (d *Dispatcher) serverCapabilities() protocol.ServerCapabilities {
	caps := protocol.ServerCapabilities{
		Tools: &protocol.ListChangedCapability{ListChanged: d.caps.ToolsListChanged},
		Resources: &protocol.ResourceCapability{
			ListChanged: d.caps.ResourcesListChanged,
			Subscribe:   d.caps.ResourceSubscriptions,
		},
		Prompts: &protocol.ListChangedCapability{ListChanged: d.caps.PromptsListChanged},
		Logging: map[string]any{},
	}
	return caps
}

func (d *Dispatcher) handleCancelledNotification(params json.RawMessage) error {
	var p struct {
		RequestID string `json:"requestId"`
		Reason    string `json:"reason"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return gwerr.Wrap(gwerr.KindInvalidParams, err, "decoding notifications/cancelled params")
	}
	if p.RequestID == "" {
		return gwerr.New(gwerr.KindInvalidParams, "notifications/cancelled requires requestId")
	}
	if d.cancellation == nil {
		return nil
	}
	reason := cancellation.ReasonUserCancelled
	if p.Reason != "" {
		reason = cancellation.Reason(p.Reason)
	}
	return d.cancellation.Cancel(p.RequestID, reason, true)
}

func (d *Dispatcher) handleToolsList() map[string]any {
	names := d.registry.ListTools()
	tools := make([]protocol.Tool, 0, len(names))
	for _, name := range names {
		td, ok := d.registry.GetTool(name)
		if !ok || td.Hidden || !td.Enabled {
			continue
		}
		tools = append(tools, td.Tool)
	}
	return map[string]any{"tools": tools}
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, id protocol.ID, params json.RawMessage) (*protocol.ToolResult, error) {
	var p struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, gwerr.Wrap(gwerr.KindInvalidParams, err, "decoding tools/call params")
	}

	td, ok := d.registry.GetTool(p.Name)
	if !ok {
		return toolErrorResult("tool_not_found", p.Name, "Tool '%s' not found", p.Name), nil
	}
	if !td.Enabled {
		return toolErrorResult("tool_disabled", p.Name, "Tool '%s' is disabled", p.Name), nil
	}
	if d.validator != nil {
		vr := d.validator.Validate(td)
		if vr.Classification == toolvalidator.ClassBlocked {
			return toolErrorResult("tool_disabled", p.Name, "tool '%s' is blocked: %s", p.Name, strings.Join(vr.Errors, "; ")), nil
		}
	}
	if err := d.registry.ValidateArguments(td, p.Arguments); err != nil {
		return toolErrorResult("validation_failure", p.Name, "Argument validation failed: %s", err.Error()), nil
	}

	call := protocol.ToolCall{Name: p.Name, Arguments: p.Arguments}
	callCtx := ctx
	tokenID := id.String()
	if d.cancellation != nil && tokenID != "" {
		var err error
		callCtx, err = d.cancellation.Register(ctx, tokenID, d.toolCallTimeout)
		if err != nil {
			d.logger.Debug("cancellation token already registered, reusing caller context", zap.String("id", tokenID))
			callCtx = ctx
		} else {
			defer d.cancellation.Complete(tokenID)
		}
	}

	result, err := d.router.Route(callCtx, call, td)
	if err != nil {
		return toolErrorResult("execution_failure", p.Name, "Local tool execution failed: %s", err.Error()), nil
	}
	return formatToolResult(result), nil
}

// toolErrorResult builds the result-object shape a failed tools/call returns
// on the wire (spec §8 scenario 2): success:false with the failure reason
// both at the top level and tagged in metadata.error_category, never a
// JSON-RPC error object, since the failure is about the tool, not the
// request envelope.
func toolErrorResult(category, toolName, format string, args ...any) *protocol.ToolResult {
	msg := fmt.Sprintf(format, args...)
	return &protocol.ToolResult{
		Success: false,
		IsError: true,
		Error:   msg,
		Content: []protocol.ContentItem{{Type: "text", Text: msg}},
		Metadata: map[string]any{
			"tool_name":      toolName,
			"error_category": category,
		},
	}
}

// formatToolResult applies the tools/call content-formatting rule (spec
// §4.O): the only place response shape diverges between the router and the
// wire.
func formatToolResult(result *protocol.AgentResult) *protocol.ToolResult {
	enhanced := enhancedData(result)
	text, err := json.MarshalIndent(enhanced, "", "  ")
	if err != nil {
		text = []byte(fmt.Sprintf("%v", enhanced))
	}
	return &protocol.ToolResult{
		Success:  result.Success,
		IsError:  !result.Success,
		Error:    result.Error,
		Content:  []protocol.ContentItem{{Type: "text", Text: string(text)}},
		Metadata: result.Metadata,
	}
}

func enhancedData(result *protocol.AgentResult) map[string]any {
	var enhanced map[string]any
	switch v := result.Data.(type) {
	case map[string]any:
		enhanced = make(map[string]any, len(v)+2)
		for k, val := range v {
			enhanced[k] = val
		}
	case nil:
		enhanced = make(map[string]any, 2)
	default:
		enhanced = map[string]any{"result": v}
	}
	if result.Error != "" {
		enhanced["error"] = result.Error
	}
	if result.Metadata != nil {
		if raw, ok := result.Metadata["next_step"].(map[string]any); ok {
			enhanced["next_step"] = compactNextStep(raw)
		}
	}
	return enhanced
}

func compactNextStep(raw map[string]any) map[string]any {
	out := map[string]any{}
	if sr, ok := raw["suggested_request"]; ok {
		out["suggested_request"] = sr
	}
	if reasoning, ok := raw["reasoning"].(string); ok {
		if len(reasoning) > nextStepReasoningMaxLen {
			reasoning = reasoning[:nextStepReasoningMaxLen]
		}
		out["reasoning"] = reasoning
	}
	return out
}

func (d *Dispatcher) handleResourcesList() map[string]any {
	if d.resources == nil {
		return map[string]any{"resources": []resources.Resource{}}
	}
	return map[string]any{"resources": d.resources.List()}
}

func (d *Dispatcher) handleResourcesRead(params json.RawMessage) (map[string]any, error) {
	var p struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, gwerr.Wrap(gwerr.KindInvalidParams, err, "decoding resources/read params")
	}
	if d.resources == nil {
		return nil, gwerr.New(gwerr.KindResourceError, "no resources are registered")
	}
	content, err := d.resources.Read(p.URI)
	if err != nil {
		return nil, err
	}
	return map[string]any{"contents": []resources.Content{content}}, nil
}

func (d *Dispatcher) handlePromptsList() map[string]any {
	if d.prompts == nil {
		return map[string]any{"prompts": []prompts.Prompt{}}
	}
	return map[string]any{"prompts": d.prompts.List()}
}

func (d *Dispatcher) handlePromptsGet(params json.RawMessage) (map[string]any, error) {
	var p struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, gwerr.Wrap(gwerr.KindInvalidParams, err, "decoding prompts/get params")
	}
	if d.prompts == nil {
		return nil, gwerr.New(gwerr.KindPromptError, "no prompts are registered")
	}
	messages, err := d.prompts.Render(p.Name, p.Arguments)
	if err != nil {
		return nil, err
	}
	return map[string]any{"messages": messages}, nil
}

func (d *Dispatcher) handleLoggingMessage(params json.RawMessage) {
	var p struct {
		Level  string `json:"level"`
		Logger string `json:"logger"`
		Data   any    `json:"data"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		d.logger.Debug("malformed logging/message params", zap.Error(err))
		return
	}
	d.logger.Info("client log message", zap.String("level", p.Level), zap.String("logger", p.Logger), zap.Any("data", p.Data))
}

func (d *Dispatcher) handleLoggingSetLevel(params json.RawMessage) (map[string]any, error) {
	var p struct {
		Level string `json:"level"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, gwerr.Wrap(gwerr.KindInvalidParams, err, "decoding logging/setLevel params")
	}
	if d.level == nil {
		return nil, gwerr.New(gwerr.KindUnavailable, "runtime log level control is not configured")
	}
	if err := gwlog.SetLevel(*d.level, p.Level); err != nil {
		return nil, gwerr.Wrap(gwerr.KindInvalidParams, err, "logging/setLevel")
	}
	return map[string]any{}, nil
}
