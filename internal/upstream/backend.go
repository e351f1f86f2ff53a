// Package upstream implements the External MCP Manager (spec §4.G): the
// fleet of external MCP server connections (stdio subprocesses, HTTP, and
// SSE), their lifecycle and restart policy, capability discovery cache, and
// tool execution dispatch.
package upstream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mcpgateway/gateway/internal/gwerr"
	"github.com/mcpgateway/gateway/internal/protocol"
	"github.com/mcpgateway/gateway/internal/secureenv"
	"github.com/mcpgateway/gateway/internal/upstream/process"
	"github.com/mcpgateway/gateway/internal/upstream/remote"
)

// Kind selects which transport a ServerConfig uses.
type Kind string

const (
	KindStdio Kind = "stdio"
	KindHTTP  Kind = "http"
	KindSSE   Kind = "sse"
)

// ServerConfig describes one external MCP server the manager supervises.
type ServerConfig struct {
	Name string
	Kind Kind

	// stdio
	Command    string
	Args       []string
	Env        map[string]string
	WorkingDir string

	// http/sse
	URL     string
	Auth    *remote.Auth
	Headers map[string]string

	RequestTimeout time.Duration

	MaxRestartAttempts int
	RestartCooldown    time.Duration
	CapabilityTTL      time.Duration
}

const (
	defaultMaxRestartAttempts = 5
	defaultRestartCooldown    = 10 * time.Second
	defaultCapabilityTTL      = 5 * time.Minute
)

func (c *ServerConfig) applyDefaults() {
	if c.MaxRestartAttempts <= 0 {
		c.MaxRestartAttempts = defaultMaxRestartAttempts
	}
	if c.RestartCooldown <= 0 {
		c.RestartCooldown = defaultRestartCooldown
	}
	if c.CapabilityTTL <= 0 {
		c.CapabilityTTL = defaultCapabilityTTL
	}
}

// backendConn is the transport-agnostic surface the manager drives: a
// stdio process or a remote HTTP/SSE client.
type backendConn interface {
	Call(ctx context.Context, method string, params json.RawMessage) (*protocol.Response, error)
	Running() bool
	Stop() error
}

// processConn adapts *process.Process to backendConn.
type processConn struct{ p *process.Process }

func (c processConn) Call(ctx context.Context, method string, params json.RawMessage) (*protocol.Response, error) {
	return c.p.Call(ctx, method, params)
}
func (c processConn) Running() bool { return c.p.Running() }
func (c processConn) Stop() error   { return c.p.Stop() }

// remoteConn adapts *remote.Client to backendConn.
type remoteConn struct{ c *remote.Client }

func (c remoteConn) Call(ctx context.Context, method string, params json.RawMessage) (*protocol.Response, error) {
	return c.c.Call(ctx, method, params)
}
func (c remoteConn) Running() bool { return c.c.State().State == remote.StateConnected }
func (c remoteConn) Stop() error   { return c.c.Close() }

func buildConn(cfg ServerConfig, envBuilder *secureenv.Builder, m *Manager) (backendConn, func(context.Context) error, error) {
	switch cfg.Kind {
	case KindStdio:
		pcfg := process.Config{
			Name: cfg.Name, Command: cfg.Command, Args: cfg.Args, Env: cfg.Env,
			WorkingDir: cfg.WorkingDir, RequestTimeout: cfg.RequestTimeout,
		}
		p := process.New(m.logger, pcfg, envBuilder, m, m)
		return processConn{p}, p.Start, nil
	case KindHTTP, KindSSE:
		rcfg := remote.Config{
			Name: cfg.Name, BaseURL: cfg.URL, Auth: cfg.Auth, Headers: cfg.Headers,
			RequestTimeout: cfg.RequestTimeout, AutoReconnect: true,
		}
		if cfg.Kind == KindSSE {
			rcfg.Transport = remote.TransportSSE
		} else {
			rcfg.Transport = remote.TransportHTTP
		}
		c := remote.New(m.logger, rcfg, m, m)
		return remoteConn{c}, c.Connect, nil
	default:
		return nil, nil, gwerr.New(gwerr.KindConfig, "unknown external mcp server kind %q for %s", cfg.Kind, cfg.Name)
	}
}
