package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, sub *Subscriber) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "channel closed unexpectedly")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestSubscribeEmitsReady(t *testing.T) {
	b := New()
	sub := b.Subscribe("ep1")

	ev := recvEvent(t, sub)
	assert.Equal(t, EventReady, ev.Type)
	assert.Equal(t, 1, b.Count("ep1"))
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	b := New()
	s1 := b.Subscribe("ep1")
	s2 := b.Subscribe("ep1")
	other := b.Subscribe("ep2")
	recvEvent(t, s1)
	recvEvent(t, s2)
	recvEvent(t, other)

	b.Broadcast("ep1", Event{Type: EventRequest, Data: "payload"})

	for _, sub := range []*Subscriber{s1, s2} {
		ev := recvEvent(t, sub)
		assert.Equal(t, EventRequest, ev.Type)
		assert.Equal(t, "payload", ev.Data)
	}

	select {
	case ev := <-other.Events():
		t.Fatalf("subscriber of another endpoint received %v", ev)
	default:
	}
}

func TestBroadcastDropsDeadSubscriber(t *testing.T) {
	b := New()
	slow := b.Subscribe("ep1")
	healthy := b.Subscribe("ep1")
	recvEvent(t, healthy)

	// Fill the slow subscriber's buffer without draining it; the ready
	// event already occupies one slot, so delivery fails on the final
	// broadcast and the handle is evicted.
	for i := 0; i < subscriberBuffer; i++ {
		b.Broadcast("ep1", Event{Type: EventRequest})
	}

	assert.Equal(t, 1, b.Count("ep1"), "slow subscriber should be evicted")

	// The healthy subscriber keeps receiving.
	for i := 0; i < subscriberBuffer; i++ {
		recvEvent(t, healthy)
	}

	// Drain the slow handle; its channel must end up closed.
	for range slow.Events() {
	}
}

func TestUnsubscribeDiscardsEmptySet(t *testing.T) {
	b := New()
	sub := b.Subscribe("ep1")
	b.Unsubscribe("ep1", sub)

	assert.Equal(t, 0, b.Count("ep1"))
	b.mu.RLock()
	_, exists := b.subs["ep1"]
	b.mu.RUnlock()
	assert.False(t, exists, "empty set should be removed from the registry")

	// Unsubscribing twice must not panic.
	b.Unsubscribe("ep1", sub)
}

func TestCloseAll(t *testing.T) {
	b := New()
	s1 := b.Subscribe("ep1")
	s2 := b.Subscribe("ep1")

	b.CloseAll("ep1")
	assert.Equal(t, 0, b.Count("ep1"))

	for _, sub := range []*Subscriber{s1, s2} {
		for range sub.Events() {
		}
	}

	// Broadcasting after CloseAll is a no-op.
	b.Broadcast("ep1", Event{Type: EventRequest})
}

func TestConcurrentBroadcastAndUnsubscribe(t *testing.T) {
	b := New()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			sub := b.Subscribe("ep1")
			b.Unsubscribe("ep1", sub)
		}
	}()

	for i := 0; i < 200; i++ {
		b.Broadcast("ep1", Event{Type: EventRequest})
	}
	<-done
}
