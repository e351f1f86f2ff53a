package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mcpgateway/gateway/internal/gwerr"
	"github.com/mcpgateway/gateway/internal/protocol"
)

const endpointEventTimeout = 10 * time.Second

// sseSession is one open legacy-SSE connection: a long-lived GET stream
// delivering "endpoint" (where to POST) and "message" (JSON-RPC payload)
// events, per the pre-Streamable-HTTP MCP SSE transport convention.
type sseSession struct {
	cancel context.CancelFunc
	resp   *http.Response

	pendMu  sync.Mutex
	pending map[string]chan *protocol.Response
}

func (s *sseSession) close() {
	s.cancel()
	if s.resp != nil {
		_ = s.resp.Body.Close()
	}
}

// connectSSE opens the event stream and blocks until the server announces
// its POST endpoint (or endpointEventTimeout elapses), then hands the
// stream off to a background reader.
func (c *Client) connectSSE(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.cfg.BaseURL, nil)
	if err != nil {
		cancel()
		return gwerr.Wrap(gwerr.KindConnection, err, "building sse request to %s", c.cfg.Name)
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authAndHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return gwerr.Wrap(gwerr.KindConnection, err, "opening sse stream to %s", c.cfg.Name)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		cancel()
		return gwerr.New(gwerr.KindConnection, "sse stream to %s returned HTTP %d", c.cfg.Name, resp.StatusCode)
	}

	sess := &sseSession{cancel: cancel, resp: resp, pending: make(map[string]chan *protocol.Response)}
	endpointCh := make(chan string, 1)
	go c.readSSEStream(sess, endpointCh)

	select {
	case endpoint := <-endpointCh:
		c.mu.Lock()
		c.sse = sess
		c.postURL = endpoint
		c.mu.Unlock()
		return nil
	case <-time.After(endpointEventTimeout):
		sess.close()
		return gwerr.New(gwerr.KindTimeout, "timed out waiting for endpoint event from %s", c.cfg.Name)
	case <-ctx.Done():
		sess.close()
		return ctx.Err()
	}
}

// readSSEStream parses event/data blocks for the lifetime of the stream. The
// first "endpoint" event is published on endpointCh (buffered, so a late or
// absent reader never blocks this loop); "message" events are decoded as
// JSON-RPC and routed to a waiting caller or the notification sink.
func (c *Client) readSSEStream(sess *sseSession, endpointCh chan<- string) {
	defer sess.close()
	scanner := bufio.NewScanner(sess.resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var event, data string
	flush := func() {
		if data == "" {
			return
		}
		switch event {
		case "endpoint":
			select {
			case endpointCh <- data:
			default:
			}
		default:
			c.handleSSEMessage(sess, []byte(data))
		}
		event, data = "", ""
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data != "" {
				data += "\n"
			}
			data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	flush()
	c.sm.fail(scanner.Err())
	if c.cfg.AutoReconnect {
		go c.reconnectLoop()
	}
}

func (c *Client) handleSSEMessage(sess *sseSession, raw []byte) {
	var envelope struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(raw), &envelope); err != nil {
		c.logger.Debug("discarding malformed sse message", zap.Error(err))
		return
	}

	if envelope.Method == "" {
		var resp protocol.Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			return
		}
		sess.pendMu.Lock()
		ch, ok := sess.pending[resp.ID.String()]
		sess.pendMu.Unlock()
		if ok {
			select {
			case ch <- &resp:
			default:
			}
		}
		return
	}

	var req protocol.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}
	if envelope.ID != nil && c.forwarder != nil {
		go c.forwardServerRequest(&req)
		return
	}
	if c.sink != nil {
		c.sink.HandleNotification(c.cfg.Name, &req)
	}
}

func (c *Client) forwardServerRequest(req *protocol.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancel()
	_, _ = c.forwarder.ForwardRequest(ctx, c.cfg.Name, req)
}

// callSSE POSTs the request to the server-announced endpoint and waits for
// its matching response to arrive over the open event stream.
func (c *Client) callSSE(ctx context.Context, method string, params []byte) (*protocol.Response, error) {
	c.mu.RLock()
	sess := c.sse
	postURL := c.postURL
	c.mu.RUnlock()
	if sess == nil {
		return nil, gwerr.New(gwerr.KindConnection, "sse session to %s is not connected", c.cfg.Name)
	}

	id := uuid.NewString()
	req := &protocol.Request{JSONRPC: "2.0", ID: protocol.NewStringID(id), HasID: true, Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindSerde, err, "marshaling sse request to %s", c.cfg.Name)
	}

	ch := make(chan *protocol.Response, 1)
	sess.pendMu.Lock()
	sess.pending[id] = ch
	sess.pendMu.Unlock()
	defer func() {
		sess.pendMu.Lock()
		delete(sess.pending, id)
		sess.pendMu.Unlock()
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, bytes.NewReader(body))
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindConnection, err, "building sse post request to %s", c.cfg.Name)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authAndHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindConnection, err, "posting to sse endpoint of %s", c.cfg.Name)
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, gwerr.New(gwerr.KindConnection, "sse post to %s returned HTTP %d", c.cfg.Name, resp.StatusCode)
	}

	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return nil, gwerr.Wrap(gwerr.KindTimeout, ctx.Err(), "sse request %s to %s timed out", method, c.cfg.Name)
	}
}
