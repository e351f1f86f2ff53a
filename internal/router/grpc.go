package router

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/mcpgateway/gateway/internal/gwerr"
	"github.com/mcpgateway/gateway/internal/protocol"
)

type grpcConfig struct {
	Endpoint       string  `json:"endpoint"`
	Service        string  `json:"service"`
	Method         string  `json:"method"`
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

// rawBytes is a pass-through gRPC message: the caller's JSON-encoded
// arguments travel as the request payload and the raw response bytes come
// back untouched, since the router has no compiled .proto descriptors for
// arbitrary upstream services.
type rawBytes struct{ data []byte }

// rawCodec marshals/unmarshals rawBytes as-is, so grpc.ClientConn.Invoke can
// drive a unary call without a generated protobuf type.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	rb, ok := v.(*rawBytes)
	if !ok {
		return nil, fmt.Errorf("router: rawCodec.Marshal expects *rawBytes, got %T", v)
	}
	return rb.data, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	rb, ok := v.(*rawBytes)
	if !ok {
		return fmt.Errorf("router: rawCodec.Unmarshal expects *rawBytes, got %T", v)
	}
	rb.data = data
	return nil
}

func (rawCodec) Name() string { return "proto" }

// routeGRPC constructs an HTTP/2 gRPC call against endpoint/service/method
// and treats the RPC's final status as the canonical outcome (spec §4.D
// grpc).
func (r *Router) routeGRPC(ctx context.Context, call protocol.ToolCall, raw json.RawMessage) (*protocol.AgentResult, error) {
	var cfg grpcConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, gwerr.Wrap(gwerr.KindRouting, err, "invalid grpc routing config")
	}
	if cfg.Endpoint == "" || cfg.Service == "" || cfg.Method == "" {
		return nil, gwerr.New(gwerr.KindRouting, "grpc routing config requires endpoint, service, and method")
	}

	ctx, cancel := context.WithTimeout(ctx, armTimeout(raw))
	defer cancel()

	conn, err := grpc.NewClient(cfg.Endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindConnection, err, "dialing grpc endpoint %s", cfg.Endpoint)
	}
	defer conn.Close()

	payload, err := json.Marshal(call.Arguments)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindSerde, err, "marshaling grpc request payload")
	}

	fullMethod := fmt.Sprintf("/%s/%s", cfg.Service, cfg.Method)
	reply := &rawBytes{}
	err = conn.Invoke(ctx, fullMethod, &rawBytes{data: payload}, reply, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		return &protocol.AgentResult{
			Success: false,
			Error:   err.Error(),
		}, nil
	}

	return &protocol.AgentResult{
		Success: true,
		Data:    decodeBody(reply.data),
	}, nil
}
