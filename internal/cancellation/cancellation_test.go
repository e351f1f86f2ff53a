package cancellation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newManager(t *testing.T) *Manager {
	m := New(zaptest.NewLogger(t))
	t.Cleanup(m.Close)
	return m
}

func TestRegister_DuplicateIDRejected(t *testing.T) {
	m := newManager(t)
	_, err := m.Register(context.Background(), "req-1", 0)
	require.NoError(t, err)

	_, err = m.Register(context.Background(), "req-1", 0)
	assert.Error(t, err)
}

func TestCancel_Immediate(t *testing.T) {
	m := newManager(t)
	ctx, err := m.Register(context.Background(), "req-1", 0)
	require.NoError(t, err)

	require.NoError(t, m.Cancel("req-1", ReasonUserCancelled, false))

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context was not cancelled")
	}
	assert.True(t, m.IsCancelled("req-1"))
}

func TestCancel_UnknownID(t *testing.T) {
	m := newManager(t)
	err := m.Cancel("nonexistent", ReasonUserCancelled, false)
	assert.Error(t, err)
}

func TestComplete_RemovesToken(t *testing.T) {
	m := newManager(t)
	_, err := m.Register(context.Background(), "req-1", 0)
	require.NoError(t, err)

	m.Complete("req-1")

	_, err = m.Register(context.Background(), "req-1", 0)
	assert.NoError(t, err, "id should be reusable after Complete")
}

func TestSubscribe_ReceivesCancelEvent(t *testing.T) {
	m := newManager(t)
	_, ch := m.Subscribe()

	_, err := m.Register(context.Background(), "req-1", 0)
	require.NoError(t, err)
	drainEvent(t, ch) // TokenCreated

	require.NoError(t, m.Cancel("req-1", ReasonUserCancelled, false))

	select {
	case ev := <-ch:
		assert.Equal(t, "req-1", ev.ID)
		assert.Equal(t, EventCancellationRequested, ev.Kind)
		assert.Equal(t, ReasonUserCancelled, ev.Reason)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancellation event")
	}
}

func drainEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

// TestCancel_ImmediateForceEmitsRequestedThenForcedThenCancelled guards
// invariant 4 (exactly one OperationCancelled) and scenario 5
// (CancellationRequested followed by OperationCancelled) for a non-graceful
// cancel.
func TestCancel_ImmediateForceEmitsRequestedThenForcedThenCancelled(t *testing.T) {
	m := newManager(t)
	_, ch := m.Subscribe()

	_, err := m.Register(context.Background(), "req-1", 0)
	require.NoError(t, err)
	assert.Equal(t, EventTokenCreated, drainEvent(t, ch).Kind)

	require.NoError(t, m.Cancel("req-1", ReasonUserCancelled, false))

	assert.Equal(t, EventCancellationRequested, drainEvent(t, ch).Kind)
	assert.Equal(t, EventForceCancellationInitiated, drainEvent(t, ch).Kind)
	cancelled := drainEvent(t, ch)
	assert.Equal(t, EventOperationCancelled, cancelled.Kind)
	assert.Equal(t, ReasonUserCancelled, cancelled.Reason)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected extra event after OperationCancelled: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestCancel_GracefulThenComplete exercises the graceful path where the
// operation finishes on its own before the grace timer fires: Complete must
// be the one place that emits OperationCancelled, exactly once.
func TestCancel_GracefulThenComplete(t *testing.T) {
	m := newManager(t)
	_, ch := m.Subscribe()

	_, err := m.Register(context.Background(), "req-1", 0)
	require.NoError(t, err)
	assert.Equal(t, EventTokenCreated, drainEvent(t, ch).Kind)

	require.NoError(t, m.Cancel("req-1", ReasonUserCancelled, true))
	assert.Equal(t, EventCancellationRequested, drainEvent(t, ch).Kind)
	assert.Equal(t, EventGracefulCancellationStarted, drainEvent(t, ch).Kind)

	m.Complete("req-1")
	cancelled := drainEvent(t, ch)
	assert.Equal(t, EventOperationCancelled, cancelled.Kind)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected extra event, grace timer should have been stopped: %+v", ev)
	case <-time.After(gracePeriod + 100*time.Millisecond):
	}
}

func TestCancel_UnknownIDEmitsCancellationFailed(t *testing.T) {
	m := newManager(t)
	_, ch := m.Subscribe()

	err := m.Cancel("nonexistent", ReasonUserCancelled, false)
	assert.Error(t, err)
	assert.Equal(t, EventCancellationFailed, drainEvent(t, ch).Kind)
}

func TestSweepExpired_EmitsTokenExpiredNotOperationCancelled(t *testing.T) {
	m := newManager(t)
	_, ch := m.Subscribe()

	_, err := m.Register(context.Background(), "req-1", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, EventTokenCreated, drainEvent(t, ch).Kind)

	time.Sleep(2 * time.Millisecond)
	m.sweepExpired()

	ev := drainEvent(t, ch)
	assert.Equal(t, EventTokenExpired, ev.Kind)
	assert.Equal(t, ReasonTimeout, ev.Reason)
}

func TestRegister_TimeoutIsSweptAndCancelled(t *testing.T) {
	m := newManager(t)
	ctx, err := m.Register(context.Background(), "req-1", time.Millisecond)
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	m.sweepExpired()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("expired token was not cancelled by sweep")
	}
}
