package session

import (
	"fmt"
	"testing"
)

func TestHub_TerminalEventsSurviveFullBuffer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		terminal EventType
	}{
		{"complete", EventComplete},
		{"error", EventError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var h hub
			events, cancel := h.subscribe()
			defer cancel()

			for i := range subscriberBuffer + 10 {
				h.publish(Event{Type: EventDelta, Delta: fmt.Sprint(i)})
			}
			h.publish(Event{Type: tc.terminal})

			var got []Event
			for range subscriberBuffer {
				got = append(got, <-events)
			}
			if n := len(events); n != 0 {
				t.Fatalf("%d events left buffered, want 0", n)
			}
			if last := got[len(got)-1]; last.Type != tc.terminal {
				t.Errorf("last event = %q, want %q", last.Type, tc.terminal)
			}
			// The oldest delta made room; the rest keep their order.
			if got[0].Delta != "1" {
				t.Errorf("first event delta = %q, want %q", got[0].Delta, "1")
			}
		})
	}
}

func TestHub_TerminalEventsNotEvictedByEachOther(t *testing.T) {
	t.Parallel()

	var h hub
	events, cancel := h.subscribe()
	defer cancel()

	h.publish(Event{Type: EventError, Error: "stream failed"})
	for range subscriberBuffer {
		h.publish(Event{Type: EventDelta})
	}
	h.publish(Event{Type: EventComplete})

	var types []EventType
	for range subscriberBuffer {
		types = append(types, (<-events).Type)
	}
	if types[0] != EventError {
		t.Errorf("first event = %q, want %q", types[0], EventError)
	}
	if last := types[len(types)-1]; last != EventComplete {
		t.Errorf("last event = %q, want %q", last, EventComplete)
	}
}

func TestHub_DropsDeltasForFullSubscriber(t *testing.T) {
	t.Parallel()

	var h hub
	events, cancel := h.subscribe()
	defer cancel()

	for range subscriberBuffer + 5 {
		h.publish(Event{Type: EventDelta})
	}
	if n := len(events); n != subscriberBuffer {
		t.Errorf("buffered %d events, want %d", n, subscriberBuffer)
	}
}
