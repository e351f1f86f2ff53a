package metrics

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestBackendMetrics_RecomputesStatusOnErrorRate(t *testing.T) {
	b := newBackendMetrics()
	for i := 0; i < 10; i++ {
		b.RecordRequest(10*time.Millisecond, i >= 2) // 2/10 errors = 0.2 error rate, above unhealthyErrorRate (0.15)
	}
	snap := b.Snapshot()
	assert.Equal(t, StatusUnhealthy, snap.Status)
}

func TestBackendMetrics_DownAfterConsecutiveFailures(t *testing.T) {
	b := newBackendMetrics()
	for i := 0; i < downConsecutiveFailures; i++ {
		b.RecordRequest(time.Millisecond, false)
	}
	assert.Equal(t, StatusDown, b.Snapshot().Status)
}

func TestBackendMetrics_DegradedOnHighLatency(t *testing.T) {
	b := newBackendMetrics()
	b.RecordRequest(2500*time.Millisecond, true)
	assert.Equal(t, StatusDegraded, b.Snapshot().Status)
}

func TestBackendMetrics_HealthyByDefault(t *testing.T) {
	b := newBackendMetrics()
	b.RecordRequest(10*time.Millisecond, true)
	assert.Equal(t, StatusHealthy, b.Snapshot().Status)
}

func TestBackendMetrics_SuccessResetsConsecutiveFailures(t *testing.T) {
	b := newBackendMetrics()
	b.RecordRequest(time.Millisecond, false)
	b.RecordRequest(time.Millisecond, false)
	b.RecordRequest(time.Millisecond, true)
	assert.Equal(t, 0, b.Snapshot().ConsecutiveFailures)
}

func TestBackendMetrics_RingBufferWraps(t *testing.T) {
	b := newBackendMetrics()
	for i := 0; i < ringBufferSize+10; i++ {
		b.AppendRingSample()
	}
	hist := b.History()
	assert.Len(t, hist, ringBufferSize)
}

func TestRegistry_BackendIsLazilyCreated(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	bm1 := r.Backend("fs")
	bm2 := r.Backend("fs")
	assert.Same(t, bm1, bm2)
}

func TestRegistry_RecordToolCall(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	r.RecordToolCall("fs", "list", true, 5*time.Millisecond)
	snap := r.Backend("fs").Snapshot()
	assert.EqualValues(t, 1, snap.Requests)
}

type fakeProber struct {
	running  bool
	pingErr  error
	listErr  error
	pingCalls int32
	listCalls int32
}

func (f *fakeProber) Ping(ctx context.Context) error {
	atomic.AddInt32(&f.pingCalls, 1)
	return f.pingErr
}

func (f *fakeProber) ListTools(ctx context.Context) ([]byte, error) {
	atomic.AddInt32(&f.listCalls, 1)
	return nil, f.listErr
}

func (f *fakeProber) Running() bool { return f.running }

func TestChecker_FallsBackToToolsListWhenPingFails(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	c := NewChecker(zaptest.NewLogger(t), r, CheckerConfig{Interval: time.Hour, Timeout: time.Second, Kind: CheckPing})
	p := &fakeProber{running: true, pingErr: errors.New("ping not supported")}
	c.Register("sse-backend", p)

	c.runOnce()

	assert.EqualValues(t, 1, atomic.LoadInt32(&p.listCalls))
}

func TestChecker_NotRunningMarksFailure(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	c := NewChecker(zaptest.NewLogger(t), r, CheckerConfig{Interval: time.Hour, Timeout: time.Second})
	p := &fakeProber{running: false}
	c.Register("dead-backend", p)

	c.runOnce()

	snap := r.Backend("dead-backend").Snapshot()
	assert.EqualValues(t, 1, snap.ConsecutiveFailures)
}

func TestFriendlyErrorSummary_MapsKnownPatterns(t *testing.T) {
	assert.Equal(t, "Host not found", friendlyErrorSummary("dial tcp: lookup x: no such host"))
	assert.Equal(t, "Connection refused", friendlyErrorSummary("dial tcp 127.0.0.1:80: connection refused"))
	assert.Equal(t, "Cannot connect", friendlyErrorSummary("dial tcp: some other issue"))
}
