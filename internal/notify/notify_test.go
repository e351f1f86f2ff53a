package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func allCaps() Capabilities {
	return Capabilities{
		ResourcesListChanged:  true,
		PromptsListChanged:    true,
		ToolsListChanged:      true,
		ResourceSubscriptions: true,
	}
}

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestNotifyToolsListChanged_DeliversToSubscribers(t *testing.T) {
	m := New(zaptest.NewLogger(t), allCaps())
	_, ch := m.Subscribe()

	m.NotifyToolsListChanged()

	ev := recv(t, ch)
	assert.Equal(t, KindToolsListChanged, ev.Kind)
}

func TestNotifyToolsListChanged_NoopWhenCapabilityDisabled(t *testing.T) {
	m := New(zaptest.NewLogger(t), Capabilities{})
	_, ch := m.Subscribe()

	m.NotifyToolsListChanged()

	select {
	case ev := <-ch:
		t.Fatalf("expected no event, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifyResourceUpdated_OnlyReachesSubscribedURI(t *testing.T) {
	m := New(zaptest.NewLogger(t), allCaps())
	id1, ch1 := m.Subscribe()
	_, ch2 := m.Subscribe()

	m.SubscribeResource(id1, "file:///a.txt")
	m.NotifyResourceUpdated("file:///a.txt")

	ev := recv(t, ch1)
	assert.Equal(t, "file:///a.txt", ev.URI)

	select {
	case ev := <-ch2:
		t.Fatalf("expected no event for unsubscribed listener, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe_ClosesChannelAndDropsResourceInterest(t *testing.T) {
	m := New(zaptest.NewLogger(t), allCaps())
	id, ch := m.Subscribe()
	m.SubscribeResource(id, "file:///a.txt")

	m.Unsubscribe(id)

	_, open := <-ch
	assert.False(t, open)

	m.NotifyResourceUpdated("file:///a.txt")
}

func TestSend_DropsWhenSubscriberBufferFull(t *testing.T) {
	m := New(zaptest.NewLogger(t), allCaps())
	_, ch := m.Subscribe()

	for i := 0; i < eventBufferSize+10; i++ {
		m.NotifyToolsListChanged()
	}

	require.Len(t, ch, eventBufferSize)
}
