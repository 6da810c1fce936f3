package session

import (
	"sync"

	"github.com/MrWong99/feedbackd/internal/interview"
)

// EventType names a server-to-client frame.
type EventType string

const (
	EventDelta    EventType = "delta"
	EventReply    EventType = "reply"
	EventState    EventType = "state"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is published to subscribers.
type Event struct {
	Type  EventType        `json:"type"`
	Delta string           `json:"delta,omitempty"`
	Reply *interview.Reply `json:"reply,omitempty"`
	State *Snapshot        `json:"state,omitempty"`
	Error string           `json:"error,omitempty"`
}

const subscriberBuffer = 64

type hub struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

func (h *hub) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	if h.subs == nil {
		h.subs = make(map[chan Event]struct{})
	}
	h.subs[ch] = struct{}{}
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// terminal reports whether e ends a turn or the session. Those events are
// never dropped for a slow subscriber.
func (t EventType) terminal() bool {
	return t == EventComplete || t == EventError
}

// publish fans e out without blocking. A full subscriber misses deltas and
// state updates; a terminal event instead evicts the oldest buffered
// non-terminal event.
func (h *hub) publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
			if e.Type.terminal() {
				makeRoom(ch)
				ch <- e
			}
		}
	}
}

// makeRoom frees one slot in ch. The caller holds the hub lock, so it is the
// only sender and the refill below cannot block.
func makeRoom(ch chan Event) {
	pending := make([]Event, 0, cap(ch))
drain:
	for {
		select {
		case old := <-ch:
			pending = append(pending, old)
		default:
			break drain
		}
	}
	if len(pending) < cap(ch) {
		// The reader caught up while draining.
		for _, old := range pending {
			ch <- old
		}
		return
	}
	drop := 0
	for i, old := range pending {
		if !old.Type.terminal() {
			drop = i
			break
		}
	}
	for i, old := range pending {
		if i != drop {
			ch <- old
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		close(ch)
	}
	h.subs = nil
}
