// Package process implements the External MCP Process component (spec
// §4.E): a child process speaking newline-delimited JSON-RPC 2.0 over its
// stdio pipes. It owns the process lifecycle (start, initialize handshake,
// request/response correlation, restart-on-exit signaling) independent of
// any particular MCP client library — the gateway frames and correlates
// messages itself.
package process

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mcpgateway/gateway/internal/gwerr"
	"github.com/mcpgateway/gateway/internal/protocol"
	"github.com/mcpgateway/gateway/internal/secureenv"
)

// State is the lifecycle state of one external MCP process (spec §4.E).
type State int

const (
	StateStarting State = iota
	StateReady
	StateUnhealthy
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateUnhealthy:
		return "unhealthy"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	defaultRequestTimeout = 30 * time.Second
	defaultInitTimeout    = 15 * time.Second
	gatewayProtocolVer    = protocol.DefaultVersion
)

// Config describes how to spawn and talk to one external MCP server.
type Config struct {
	Name           string
	Command        string
	Args           []string
	Env            map[string]string
	WorkingDir     string
	RequestTimeout time.Duration
}

// Isolation is the subprocess sandboxing hook point (spec §4.E supplement):
// a strategy consulted before spawn that reports whether a backend needs to
// run inside an isolation boundary. noopIsolation is the default. Start only
// logs a true answer: no sandboxing backend is wired, and the child is always
// spawned directly.
type Isolation interface {
	ShouldIsolate(cfg Config) bool
}

type noopIsolation struct{}

func (noopIsolation) ShouldIsolate(Config) bool { return false }

// RequestForwarder delivers a server-initiated request (sampling/createMessage,
// elicitation/create) up to whatever owns the client session, and returns the
// client's eventual response. Implemented by the dispatcher (spec §4.G
// "bidirectional forwarding").
type RequestForwarder interface {
	ForwardRequest(ctx context.Context, serverName string, req *protocol.Request) (*protocol.Response, error)
}

// NotificationSink receives notifications the child emits (tools/resources
// list-changed, logging/message, resources/updated) for onward routing.
type NotificationSink interface {
	HandleNotification(serverName string, notification *protocol.Request)
}

type pendingCall struct {
	resultCh chan *protocol.Response
}

// Process supervises one spawned external MCP server over stdio.
type Process struct {
	logger *zap.Logger
	cfg    Config
	env    *secureenv.Builder

	forwarder RequestForwarder
	sink      NotificationSink
	isolation Isolation

	mu    sync.RWMutex
	state State
	cmd   *exec.Cmd
	stdin io.WriteCloser

	caps *protocol.ServerCapabilities

	pendMu  sync.Mutex
	pending map[string]*pendingCall

	exited chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Process in the Starting state. Call Start to spawn it.
func New(logger *zap.Logger, cfg Config, envBuilder *secureenv.Builder, forwarder RequestForwarder, sink NotificationSink) *Process {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if envBuilder == nil {
		envBuilder = secureenv.NewBuilder(nil)
	}
	return &Process{
		logger:    logger.With(zap.String("server", cfg.Name)),
		cfg:       cfg,
		env:       envBuilder,
		forwarder: forwarder,
		sink:      sink,
		isolation: noopIsolation{},
		state:     StateStarting,
		pending:   make(map[string]*pendingCall),
		exited:    make(chan struct{}),
		stopCh:    make(chan struct{}),
	}
}

// SetIsolation installs a sandboxing strategy, replacing the no-op default.
// Must be called before Start.
func (p *Process) SetIsolation(i Isolation) {
	if i == nil {
		i = noopIsolation{}
	}
	p.isolation = i
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Process) setState(s State) {
	p.mu.Lock()
	prev := p.state
	p.state = s
	p.mu.Unlock()
	if prev != s {
		p.logger.Info("process state transition", zap.String("from", prev.String()), zap.String("to", s.String()))
	}
}

// Capabilities returns the capabilities captured during the initialize
// handshake, or nil if the process never reached Ready.
func (p *Process) Capabilities() *protocol.ServerCapabilities {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.caps
}

// Running reports whether the child process is still alive.
func (p *Process) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cmd != nil && p.state != StateStopped
}

// Start spawns the child process and performs the initialize handshake. A
// handshake failure is a lifecycle failure: Start returns an error and
// leaves the process Stopped. Once spawned, exit or handshake failure is
// reported to the caller; restart policy belongs to the manager (spec §4.G).
func (p *Process) Start(ctx context.Context) error {
	if p.isolation.ShouldIsolate(p.cfg) {
		p.logger.Debug("isolation strategy requested a sandboxed spawn; no sandboxing backend is wired, spawning directly")
	}

	// A restart reuses this Process; the previous run's exit channel is
	// already closed, so each spawn gets a fresh one.
	p.mu.Lock()
	p.exited = make(chan struct{})
	p.mu.Unlock()

	cmd := exec.Command(p.cfg.Command, p.cfg.Args...)
	if p.cfg.WorkingDir != "" {
		cmd.Dir = p.cfg.WorkingDir
	}
	cmd.Env = p.env.Build(p.cfg.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return gwerr.Wrap(gwerr.KindIO, err, "opening stdin pipe for %s", p.cfg.Name)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return gwerr.Wrap(gwerr.KindIO, err, "opening stdout pipe for %s", p.cfg.Name)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return gwerr.Wrap(gwerr.KindIO, err, "opening stderr pipe for %s", p.cfg.Name)
	}

	if err := cmd.Start(); err != nil {
		return gwerr.Wrap(gwerr.KindConnection, err, "spawning external mcp server %s", p.cfg.Name)
	}
	p.cmd = cmd
	p.stdin = stdin

	p.wg.Add(2)
	go p.readLoop(stdout)
	go p.drainStderr(stderr)

	go p.waitForExit()

	initCtx, cancel := context.WithTimeout(ctx, defaultInitTimeout)
	defer cancel()
	if err := p.handshake(initCtx); err != nil {
		p.setState(StateStopped)
		_ = p.terminate()
		return gwerr.Wrap(gwerr.KindMCP, err, "initialize handshake with %s failed", p.cfg.Name)
	}

	p.setState(StateReady)
	return nil
}

func (p *Process) handshake(ctx context.Context) error {
	params := protocol.InitializeParams{
		ProtocolVersion: string(gatewayProtocolVer),
		ClientInfo:      protocol.ClientInfo{Name: "mcpgateway", Version: "1.0"},
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	resp, err := p.call(ctx, "initialize", raw)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	var result protocol.InitializeResult
	if err := remarshal(resp.Result, &result); err != nil {
		return gwerr.Wrap(gwerr.KindSerde, err, "decoding initialize result from %s", p.cfg.Name)
	}
	p.mu.Lock()
	p.caps = &result.Capabilities
	p.mu.Unlock()

	return p.notify("notifications/initialized", nil)
}

func remarshal(src any, dst any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// Call sends a request and blocks for the matching response, a protocol
// error, or the configured request timeout — whichever comes first. A
// single request timing out does not affect process health; only a failed
// initialize handshake does (spec §4.E).
func (p *Process) Call(ctx context.Context, method string, params json.RawMessage) (*protocol.Response, error) {
	if p.State() == StateStopped {
		return nil, gwerr.New(gwerr.KindUnavailable, "external mcp server %s is not running", p.cfg.Name)
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()
	return p.call(ctx, method, params)
}

func (p *Process) call(ctx context.Context, method string, params json.RawMessage) (*protocol.Response, error) {
	id := uuid.NewString()
	req := &protocol.Request{JSONRPC: "2.0", ID: protocol.NewStringID(id), HasID: true, Method: method, Params: params}

	pc := &pendingCall{resultCh: make(chan *protocol.Response, 1)}
	p.pendMu.Lock()
	p.pending[id] = pc
	p.pendMu.Unlock()
	defer func() {
		p.pendMu.Lock()
		delete(p.pending, id)
		p.pendMu.Unlock()
	}()

	if err := p.writeLine(req); err != nil {
		return nil, gwerr.Wrap(gwerr.KindIO, err, "writing request to %s", p.cfg.Name)
	}

	select {
	case resp := <-pc.resultCh:
		return resp, nil
	case <-ctx.Done():
		return nil, gwerr.Wrap(gwerr.KindTimeout, ctx.Err(), "request %s to %s timed out", method, p.cfg.Name)
	case <-p.exited:
		return nil, gwerr.New(gwerr.KindConnection, "external mcp server %s exited before responding", p.cfg.Name)
	}
}

// notify sends a fire-and-forget JSON-RPC notification (no id, no response).
func (p *Process) notify(method string, params json.RawMessage) error {
	req := &protocol.Request{JSONRPC: "2.0", Method: method, Params: params}
	return p.writeLine(req)
}

func (p *Process) writeLine(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdin == nil {
		return fmt.Errorf("process not started")
	}
	if _, err := p.stdin.Write(append(raw, '\n')); err != nil {
		return err
	}
	return nil
}

// readLoop dispatches one JSON-RPC message per stdout line: a response
// (keyed by id) is delivered to its waiting caller, a request (has method,
// has id) is forwarded to the RequestForwarder, and a notification (has
// method, no id) goes to the NotificationSink. Malformed lines are logged
// and skipped rather than killing the process.
func (p *Process) readLoop(stdout io.Reader) {
	defer p.wg.Done()
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		p.dispatch(append([]byte(nil), line...))
	}
}

func (p *Process) dispatch(line []byte) {
	var envelope struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		p.logger.Debug("discarding malformed line from child", zap.Error(err))
		return
	}

	switch {
	case envelope.Method == "" && envelope.ID != nil:
		var resp protocol.Response
		if err := json.Unmarshal(line, &resp); err != nil {
			p.logger.Debug("discarding malformed response from child", zap.Error(err))
			return
		}
		p.deliver(resp.ID.String(), &resp)

	case envelope.Method != "" && envelope.ID != nil:
		var req protocol.Request
		if err := json.Unmarshal(line, &req); err != nil {
			p.logger.Debug("discarding malformed server request", zap.Error(err))
			return
		}
		p.handleServerRequest(&req)

	case envelope.Method != "":
		var req protocol.Request
		if err := json.Unmarshal(line, &req); err != nil {
			p.logger.Debug("discarding malformed notification", zap.Error(err))
			return
		}
		if p.sink != nil {
			p.sink.HandleNotification(p.cfg.Name, &req)
		}

	default:
		p.logger.Debug("unrecognized message from child", zap.ByteString("line", line))
	}
}

func (p *Process) deliver(id string, resp *protocol.Response) {
	p.pendMu.Lock()
	pc, ok := p.pending[id]
	p.pendMu.Unlock()
	if !ok {
		p.logger.Debug("response for unknown or expired request id", zap.String("id", id))
		return
	}
	select {
	case pc.resultCh <- resp:
	default:
	}
}

// handleServerRequest forwards a server-initiated request (sampling,
// elicitation) to the RequestForwarder and writes its response back to the
// child under the original request id. The request is passed on unchanged;
// the server name is the only origin information the forwarder receives.
func (p *Process) handleServerRequest(req *protocol.Request) {
	if p.forwarder == nil {
		resp := protocol.NewErrorResponse(req.ID, &protocol.Error{
			Code:    protocol.CodeServiceUnavailable,
			Message: "gateway has no client session to forward this request to",
		})
		_ = p.writeLine(resp)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
		defer cancel()
		resp, err := p.forwarder.ForwardRequest(ctx, p.cfg.Name, req)
		if err != nil {
			resp = protocol.NewErrorResponse(req.ID, &protocol.Error{Code: protocol.CodeInternalBackend, Message: err.Error()})
		}
		resp.ID = req.ID
		_ = p.writeLine(resp)
	}()
}

func (p *Process) drainStderr(stderr io.Reader) {
	defer p.wg.Done()
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.logger.Debug("child stderr", zap.String("line", scanner.Text()))
	}
}

func (p *Process) waitForExit() {
	_ = p.cmd.Wait()
	close(p.exited)
	p.setState(StateStopped)
	p.failPending()
}

func (p *Process) failPending() {
	p.pendMu.Lock()
	defer p.pendMu.Unlock()
	for id, pc := range p.pending {
		select {
		case pc.resultCh <- protocol.NewErrorResponse(protocol.ID{}, &protocol.Error{
			Code:    protocol.CodeServiceUnavailable,
			Message: fmt.Sprintf("external mcp server %s exited", p.cfg.Name),
		}):
		default:
		}
		delete(p.pending, id)
	}
}

// Stop terminates the child process and waits for its reader goroutines to
// finish. Safe to call multiple times.
func (p *Process) Stop() error {
	select {
	case <-p.stopCh:
		return nil
	default:
		close(p.stopCh)
	}
	err := p.terminate()
	p.wg.Wait()
	p.setState(StateStopped)
	return err
}

func (p *Process) terminate() error {
	p.mu.Lock()
	stdin := p.stdin
	cmd := p.cmd
	p.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	select {
	case <-p.exited:
		return nil
	case <-time.After(2 * time.Second):
	}
	return cmd.Process.Kill()
}
