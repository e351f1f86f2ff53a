package router

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mcpgateway/gateway/internal/gwerr"
	"github.com/mcpgateway/gateway/internal/protocol"
)

type sseConfig struct {
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers"`
	MaxEvents      int               `json:"max_events"`
	Filter         string            `json:"filter"` // case-insensitive substring match against event data
	TimeoutSeconds float64           `json:"timeout_seconds"`
}

// sseEvent is one parsed Server-Sent Event.
type sseEvent struct {
	Event     string `json:"event,omitempty"`
	Data      string `json:"data"`
	ID        string `json:"id,omitempty"`
	Retry     int    `json:"retry,omitempty"`
	Timestamp string `json:"timestamp"`
}

// routeSSE connects with Accept: text/event-stream, accumulates events up to
// max_events or the overall timeout, applying an optional case-insensitive
// substring filter (spec §4.D sse).
func (r *Router) routeSSE(ctx context.Context, call protocol.ToolCall, raw json.RawMessage) (*protocol.AgentResult, error) {
	var cfg sseConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, gwerr.Wrap(gwerr.KindRouting, err, "invalid sse routing config")
	}
	if cfg.URL == "" {
		return nil, gwerr.New(gwerr.KindRouting, "sse routing config missing url")
	}
	maxEvents := cfg.MaxEvents
	if maxEvents <= 0 {
		maxEvents = 50
	}

	ctx, cancel := context.WithTimeout(ctx, armTimeout(raw))
	defer cancel()

	url, err := substituteString(cfg.URL, call)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindRouting, err, "building sse request")
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range cfg.Headers {
		expanded, err := substituteString(v, call)
		if err != nil {
			return nil, err
		}
		req.Header.Set(k, expanded)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindConnection, err, "sse connection to %s failed", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &protocol.AgentResult{Success: false, Error: "sse endpoint returned a non-2xx status"}, nil
	}

	events, err := readSSEEvents(ctx, resp, maxEvents, cfg.Filter)
	if err != nil && len(events) == 0 {
		return nil, err
	}

	return &protocol.AgentResult{
		Success: true,
		Data: map[string]any{
			"events":      events,
			"event_count": len(events),
		},
	}, nil
}

func readSSEEvents(ctx context.Context, resp *http.Response, maxEvents int, filter string) ([]sseEvent, error) {
	var events []sseEvent
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var cur sseEvent
	flush := func() {
		if cur.Data == "" {
			return
		}
		if filter == "" || strings.Contains(strings.ToLower(cur.Data), strings.ToLower(filter)) {
			cur.Timestamp = time.Now().UTC().Format(time.RFC3339)
			events = append(events, cur)
		}
		cur = sseEvent{}
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return events, ctx.Err()
		default:
		}
		if len(events) >= maxEvents {
			break
		}
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "event:"):
			cur.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if cur.Data != "" {
				cur.Data += "\n"
			}
			cur.Data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case strings.HasPrefix(line, "id:"):
			cur.ID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "retry:"):
			if n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "retry:"))); err == nil {
				cur.Retry = n
			}
		}
	}
	flush()
	return events, scanner.Err()
}
