package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CheckKind selects which probe the active checker runs against a backend.
type CheckKind string

const (
	CheckPing      CheckKind = "ping"
	CheckToolsList CheckKind = "tools_list"
	CheckSynthetic CheckKind = "synthetic" // list, then sanity-parse the result
)

// Prober is the minimal surface a backend client must expose for active
// health checks; implemented by the upstream package's client types.
type Prober interface {
	Ping(ctx context.Context) error
	ListTools(ctx context.Context) ([]byte, error)
	Running() bool
}

// CheckerConfig controls the active-check cadence and classification
// thresholds, spec §4.H "Active check".
type CheckerConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	Kind     CheckKind
}

// DefaultCheckerConfig mirrors the spec defaults (30s interval).
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{Interval: 30 * time.Second, Timeout: 5 * time.Second, Kind: CheckPing}
}

func classifyByLatency(d time.Duration) Status {
	switch {
	case d <= time.Second:
		return StatusHealthy
	case d <= 3*time.Second:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

// Checker runs active probes against a set of backends on a fixed interval,
// merging consecutive-failure tracking into the shared metrics Registry.
type Checker struct {
	logger   *zap.Logger
	registry *Registry
	cfg      CheckerConfig

	mu       chan struct{} // binary semaphore guarding backends map mutation
	backends map[string]Prober

	stop chan struct{}
	done chan struct{}
}

// NewChecker builds a Checker. Call Start to begin probing.
func NewChecker(logger *zap.Logger, registry *Registry, cfg CheckerConfig) *Checker {
	if cfg.Interval <= 0 {
		cfg = DefaultCheckerConfig()
	}
	return &Checker{
		logger:   logger,
		registry: registry,
		cfg:      cfg,
		mu:       make(chan struct{}, 1),
		backends: make(map[string]Prober),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Register adds a backend to the active-check rotation.
func (c *Checker) Register(name string, p Prober) {
	c.mu <- struct{}{}
	c.backends[name] = p
	<-c.mu
}

// Unregister removes a backend from the rotation.
func (c *Checker) Unregister(name string) {
	c.mu <- struct{}{}
	delete(c.backends, name)
	<-c.mu
}

// Start runs the periodic probe loop until Stop is called.
func (c *Checker) Start() {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.runOnce()
			}
		}
	}()
}

// Stop halts the probe loop and waits for the in-flight round to finish.
func (c *Checker) Stop() {
	close(c.stop)
	<-c.done
}

func (c *Checker) runOnce() {
	c.mu <- struct{}{}
	snapshot := make(map[string]Prober, len(c.backends))
	for name, p := range c.backends {
		snapshot[name] = p
	}
	<-c.mu

	for name, p := range snapshot {
		c.check(name, p)
	}
}

func (c *Checker) check(name string, p Prober) {
	if !p.Running() {
		bm := c.registry.Backend(name)
		bm.RecordRequest(0, false)
		bm.mu.Lock()
		bm.status = StatusDown
		bm.mu.Unlock()
		c.logger.Debug("backend process not running, marking down", zap.String("backend", name))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	var err error
	switch c.cfg.Kind {
	case CheckToolsList, CheckSynthetic:
		var body []byte
		body, err = p.ListTools(ctx)
		if err == nil && c.cfg.Kind == CheckSynthetic {
			var parsed struct {
				Tools []json.RawMessage `json:"tools"`
			}
			if jerr := json.Unmarshal(body, &parsed); jerr != nil {
				err = fmt.Errorf("synthetic check: unparseable tools/list result: %w", jerr)
			}
		}
	default:
		err = p.Ping(ctx)
		if err != nil {
			// SSE "ping" is opportunistic; fall back to tools/list for
			// backends that don't implement it.
			_, err = p.ListTools(ctx)
		}
	}
	elapsed := time.Since(start)

	success := err == nil
	c.registry.Backend(name).RecordRequest(elapsed, success)
	if !success {
		c.logger.Warn("active health check failed", zap.String("backend", name), zap.Error(err), zap.String("summary", friendlyErrorSummary(err.Error())))
		return
	}

	// The latency-based class informs logging only; RecordRequest already
	// folded consecutive-failure/error-rate thresholds into status.
	c.logger.Debug("active health check succeeded",
		zap.String("backend", name),
		zap.Duration("latency", elapsed),
		zap.String("latency_class", string(classifyByLatency(elapsed))),
	)
}

// friendlyErrorSummary maps a raw transport error to a short, user-facing
// phrase, the same pattern-table idiom the teacher's health calculator uses
// for connection errors.
func friendlyErrorSummary(raw string) string {
	if raw == "" {
		return "Connection error"
	}
	mappings := []struct {
		pattern, friendly string
	}{
		{"no such host", "Host not found"},
		{"connection refused", "Connection refused"},
		{"connection reset", "Connection reset"},
		{"timeout", "Connection timeout"},
		{"EOF", "Connection closed"},
		{"unauthorized", "Unauthorized"},
		{"forbidden", "Access forbidden"},
		{"certificate", "Certificate error"},
		{"dial tcp", "Cannot connect"},
	}
	lower := strings.ToLower(raw)
	for _, m := range mappings {
		if strings.Contains(lower, strings.ToLower(m.pattern)) {
			return m.friendly
		}
	}
	if len(raw) > 50 {
		return raw[:47] + "..."
	}
	return raw
}
