package feedback

import (
	"context"
	"slices"
	"time"

	"github.com/MrWong99/feedbackd/pkg/types"
)

// EventSource lists the events feedback can be given about.
type EventSource interface {
	// PastEvents returns events dated before now, newest first.
	PastEvents(ctx context.Context, now time.Time) ([]types.Event, error)

	// UpcomingEvents returns events dated after now, soonest first.
	UpcomingEvents(ctx context.Context, now time.Time) ([]types.Event, error)
}

// StaticEvents serves a fixed event list, typically from configuration.
type StaticEvents []types.Event

var _ EventSource = StaticEvents(nil)

// PastEvents implements [EventSource].
func (s StaticEvents) PastEvents(_ context.Context, now time.Time) ([]types.Event, error) {
	out := make([]types.Event, 0, len(s))
	for _, e := range s {
		if e.Date.Before(now) {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b types.Event) int { return b.Date.Compare(a.Date) })
	return out, nil
}

// UpcomingEvents implements [EventSource].
func (s StaticEvents) UpcomingEvents(_ context.Context, now time.Time) ([]types.Event, error) {
	out := make([]types.Event, 0, len(s))
	for _, e := range s {
		if e.Date.After(now) {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b types.Event) int { return a.Date.Compare(b.Date) })
	return out, nil
}
