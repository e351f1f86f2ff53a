package dispatcher

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/mcpgateway/gateway/internal/gwerr"
	"github.com/mcpgateway/gateway/internal/protocol"
)

// CompletionRef names what completion/complete is completing against: a
// prompt name or a resource URI template, per the ref/prompt and
// ref/resource variants protocol.ValidateMethodParams already accepts.
type CompletionRef struct {
	Type string
	Name string
}

// CompletionArgument is the partial argument being completed.
type CompletionArgument struct {
	Name  string
	Value string
}

// CompletionResult is completion/complete's result payload.
type CompletionResult struct {
	Values  []string
	Total   int
	HasMore bool
}

// CompletionHandler answers completion/complete requests (spec §4.O:
// "completion handler"). The gateway ships a built-in prefix-match
// implementation (defaultCompletion); a richer one (e.g. LLM-backed) can be
// installed with Dispatcher.SetCompletion.
type CompletionHandler interface {
	Complete(ctx context.Context, ref CompletionRef, arg CompletionArgument) (CompletionResult, error)
}

// maxCompletionValues bounds a single completion response, mirroring the
// default search limit of 5 the discovery index uses.
const maxCompletionValues = 5

// defaultCompletion completes prompt names and resource URIs by prefix match over
// whatever the gateway already has registered; it has no teacher analog
// (the teacher never implements completion/complete) and is scoped to be
// the simplest useful behavior rather than a guess at a richer one.
type defaultCompletion struct{ d *Dispatcher }

func (c defaultCompletion) Complete(_ context.Context, ref CompletionRef, arg CompletionArgument) (CompletionResult, error) {
	var candidates []string
	switch ref.Type {
	case "ref/prompt":
		if c.d.prompts != nil {
			for _, p := range c.d.prompts.List() {
				candidates = append(candidates, p.Name)
			}
		}
	case "ref/resource":
		if c.d.resources != nil {
			for _, r := range c.d.resources.List() {
				candidates = append(candidates, r.URI)
			}
		}
	default:
		return CompletionResult{}, gwerr.New(gwerr.KindInvalidParams, "unsupported completion ref type %q", ref.Type)
	}

	var matches []string
	for _, cand := range candidates {
		if strings.HasPrefix(cand, arg.Value) {
			matches = append(matches, cand)
		}
	}
	sort.Strings(matches)

	total := len(matches)
	hasMore := total > maxCompletionValues
	if total > maxCompletionValues {
		matches = matches[:maxCompletionValues]
	}
	return CompletionResult{Values: matches, Total: total, HasMore: hasMore}, nil
}

func (d *Dispatcher) handleCompletionComplete(ctx context.Context, params json.RawMessage) (map[string]any, error) {
	var p struct {
		Ref struct {
			Type string `json:"type"`
			Name string `json:"name"`
			URI  string `json:"uri"`
		} `json:"ref"`
		Argument struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"argument"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, gwerr.Wrap(gwerr.KindInvalidParams, err, "decoding completion/complete params")
	}
	name := p.Ref.Name
	if name == "" {
		name = p.Ref.URI
	}
	result, err := d.completion.Complete(ctx, CompletionRef{Type: p.Ref.Type, Name: name}, CompletionArgument{Name: p.Argument.Name, Value: p.Argument.Value})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"completion": map[string]any{
			"values":  result.Values,
			"total":   result.Total,
			"hasMore": result.HasMore,
		},
	}, nil
}

// SamplingService backs the optional sampling/createMessage method (spec
// §4.O). It is the gateway's abstraction over "some client/agent with an LLM
// behind it, willing to answer a createMessage request"; nil means no
// sampling-capable party is registered.
type SamplingService interface {
	CreateMessage(ctx context.Context, params json.RawMessage) (json.RawMessage, error)
}

// ElicitationService backs the optional elicitation/create method.
type ElicitationService interface {
	Elicit(ctx context.Context, params json.RawMessage) (json.RawMessage, error)
}

// Root is one entry returned by roots/list.
type Root struct {
	URI  string `json:"uri"`
	Name string `json:"name,omitempty"`
}

// RootsService backs the optional roots/list method.
type RootsService interface {
	ListRoots(ctx context.Context) ([]Root, error)
}

func (d *Dispatcher) handleSampling(ctx context.Context, params json.RawMessage) (any, error) {
	if d.sampling == nil {
		return nil, gwerr.New(gwerr.KindUnavailable, "no sampling service is registered")
	}
	raw, err := d.sampling.CreateMessage(ctx, params)
	if err != nil {
		return nil, err
	}
	return decodeServiceResult(raw)
}

func (d *Dispatcher) handleElicitation(ctx context.Context, params json.RawMessage) (any, error) {
	if d.elicitation == nil {
		return nil, gwerr.New(gwerr.KindUnavailable, "no elicitation service is registered")
	}
	raw, err := d.elicitation.Elicit(ctx, params)
	if err != nil {
		return nil, err
	}
	return decodeServiceResult(raw)
}

func (d *Dispatcher) handleRootsList(ctx context.Context) (map[string]any, error) {
	if d.roots == nil {
		return map[string]any{"roots": []Root{}}, nil
	}
	roots, err := d.roots.ListRoots(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"roots": roots}, nil
}

func decodeServiceResult(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, gwerr.Wrap(gwerr.KindSerde, err, "decoding service result")
	}
	return v, nil
}

// ForwardRequest implements upstream.Forwarder (spec §4.G bidirectional
// forwarding): a backend process sends a server-initiated sampling or
// elicitation request up through the manager, which hands it to the
// dispatcher because the dispatcher is the only component that knows which
// client session the exchange belongs to. serverName identifies the
// originating backend for logging; this gateway answers from whatever
// sampling/elicitation service is registered rather than proxying to a
// specific client connection, since routing a reverse call to "the" client
// that owns a given backend call is a per-session concern the transport
// adapters (§4.P), not this collaborator, would need to track.
func (d *Dispatcher) ForwardRequest(ctx context.Context, serverName string, req *protocol.Request) (*protocol.Response, error) {
	var result any
	var err error
	switch req.Method {
	case "sampling/createMessage":
		result, err = d.handleSampling(ctx, req.Params)
	case "elicitation/create":
		result, err = d.handleElicitation(ctx, req.Params)
	default:
		err = gwerr.New(gwerr.KindMethodNotFound, "backend %q attempted unsupported server-initiated method %q", serverName, req.Method)
	}
	if err != nil {
		return protocol.NewErrorResponse(req.ID, gwerr.ToWireError(err, d.exposeErrorDetail)), nil
	}
	return protocol.NewResultResponse(req.ID, result), nil
}
