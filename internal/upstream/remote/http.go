package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/mcpgateway/gateway/internal/gwerr"
	"github.com/mcpgateway/gateway/internal/protocol"
)

// callHTTP POSTs one JSON-RPC request to the server's base URL and decodes
// its response body directly — there is no persistent connection to
// correlate against, so the HTTP round-trip itself is the correlation.
func (c *Client) callHTTP(ctx context.Context, method string, params []byte) (*protocol.Response, error) {
	req := &protocol.Request{
		JSONRPC: "2.0",
		ID:      protocol.NewStringID(uuid.NewString()),
		HasID:   true,
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindSerde, err, "marshaling request to %s", c.cfg.Name)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindConnection, err, "building request to %s", c.cfg.Name)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authAndHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindConnection, err, "calling external mcp server %s", c.cfg.Name)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindIO, err, "reading response from %s", c.cfg.Name)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, gwerr.New(gwerr.KindConnection, "external mcp server %s returned HTTP %d", c.cfg.Name, resp.StatusCode)
	}

	var out protocol.Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, gwerr.Wrap(gwerr.KindSerde, err, "decoding response from %s", c.cfg.Name)
	}
	return &out, nil
}
