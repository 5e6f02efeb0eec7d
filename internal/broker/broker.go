// Package broker maintains the per-endpoint registry of live stream
// subscribers and fans broadcast events out to them. Delivery is
// best-effort: a subscriber that cannot keep up is dropped without
// affecting the others.
package broker

import "sync"

// Event types pushed to subscribers.
const (
	EventReady           = "ready"
	EventRequest         = "request"
	EventRequestDeleted  = "request_deleted"
	EventRequestsCleared = "requests_cleared"
	EventEndpointDeleted = "endpoint_deleted"
)

// Event is a single frame delivered to subscribers.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// subscriberBuffer bounds how far a slow subscriber may fall behind
// before it is considered dead.
const subscriberBuffer = 16

// Subscriber is a live handle bound to one endpoint ID.
type Subscriber struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// Events returns the channel delivering frames to this subscriber. The
// channel is closed when the subscriber is removed.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// send attempts a non-blocking delivery. It reports false when the
// subscriber is closed or its buffer is full.
func (s *Subscriber) send(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Broker is the in-memory subscriber registry. All methods are safe for
// concurrent use.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscriber]struct{}
}

func New() *Broker {
	return &Broker{subs: make(map[string]map[*Subscriber]struct{})}
}

// Subscribe registers a new handle for endpointID. A ready event is
// queued immediately so the caller can confirm the channel is live.
func (b *Broker) Subscribe(endpointID string) *Subscriber {
	sub := &Subscriber{ch: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	set, ok := b.subs[endpointID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		b.subs[endpointID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	sub.send(Event{Type: EventReady})
	return sub
}

// Unsubscribe removes and closes the handle. The endpoint's set is
// discarded once empty.
func (b *Broker) Unsubscribe(endpointID string, sub *Subscriber) {
	b.mu.Lock()
	if set, ok := b.subs[endpointID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, endpointID)
		}
	}
	b.mu.Unlock()

	sub.close()
}

// Broadcast delivers ev to every live handle for endpointID. Handles
// that refuse delivery are closed and removed; the rest still receive
// the event.
func (b *Broker) Broadcast(endpointID string, ev Event) {
	b.mu.RLock()
	set := b.subs[endpointID]
	snapshot := make([]*Subscriber, 0, len(set))
	for sub := range set {
		snapshot = append(snapshot, sub)
	}
	b.mu.RUnlock()

	for _, sub := range snapshot {
		if !sub.send(ev) {
			b.Unsubscribe(endpointID, sub)
		}
	}
}

// CloseAll closes and removes every handle for endpointID. Used when
// the endpoint itself is deleted.
func (b *Broker) CloseAll(endpointID string) {
	b.mu.Lock()
	set := b.subs[endpointID]
	delete(b.subs, endpointID)
	b.mu.Unlock()

	for sub := range set {
		sub.close()
	}
}

// Count returns the number of live handles for endpointID.
func (b *Broker) Count(endpointID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[endpointID])
}
