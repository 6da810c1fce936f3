package luma_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/feedbackd/internal/feedback/luma"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const (
	firstPage = `{
		"entries": [
			{"api_id": "evt-past", "event": {"name": "Prompting 101", "start_at": "2025-05-01T18:00:00.000Z",
				"cover_url": "https://img/1.png", "geo_address_json": {"full_address": "Main St 1"}}},
			{"api_id": "evt-bad", "event": {"name": "Broken", "start_at": "soon"}}
		],
		"has_more": true,
		"next_cursor": "c2"
	}`
	secondPage = `{
		"entries": [
			{"api_id": "evt-next", "event": {"name": "Agents Night", "start_at": "2025-07-01T18:00:00Z"}},
			{"api_id": "evt-older", "event": {"name": "Kickoff", "start_at": "2025-01-10T18:00:00Z"}}
		],
		"has_more": false
	}`
)

func calendarServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/public/v1/calendar/list-events" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("x-luma-api-key"); got != "secret" {
			http.Error(w, "bad key "+got, http.StatusUnauthorized)
			return
		}
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("pagination_cursor") == "c2" {
			fmt.Fprint(w, secondPage)
			return
		}
		fmt.Fprint(w, firstPage)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEvents_SplitsPastAndUpcoming(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := calendarServer(t, &hits)
	src, err := luma.New("secret", luma.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	past, err := src.PastEvents(context.Background(), now)
	if err != nil {
		t.Fatalf("PastEvents: %v", err)
	}
	if len(past) != 2 {
		t.Fatalf("got %d past events, want 2: %+v", len(past), past)
	}
	if past[0].ID != "evt-past" || past[1].ID != "evt-older" {
		t.Errorf("past order = %s, %s, want evt-past, evt-older", past[0].ID, past[1].ID)
	}
	if past[0].Location != "Main St 1" || past[0].ImageURL != "https://img/1.png" {
		t.Errorf("past[0] = %+v, want location and image mapped", past[0])
	}

	upcoming, err := src.UpcomingEvents(context.Background(), now)
	if err != nil {
		t.Fatalf("UpcomingEvents: %v", err)
	}
	if len(upcoming) != 1 || upcoming[0].Name != "Agents Night" {
		t.Errorf("upcoming = %+v, want Agents Night only", upcoming)
	}

	// Both pages fetched once; the second call is served from cache.
	if n := hits.Load(); n != 2 {
		t.Errorf("calendar requests = %d, want 2", n)
	}
}

func TestEvents_CacheExpires(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := calendarServer(t, &hits)
	src, err := luma.New("secret", luma.WithBaseURL(srv.URL), luma.WithCacheTTL(time.Minute))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, at := range []time.Time{now, now.Add(30 * time.Second), now.Add(2 * time.Minute)} {
		if _, err := src.UpcomingEvents(context.Background(), at); err != nil {
			t.Fatalf("UpcomingEvents: %v", err)
		}
	}
	if n := hits.Load(); n != 4 {
		t.Errorf("calendar requests = %d, want 4 (two fetches of two pages)", n)
	}
}

func TestEvents_Errors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := calendarServer(t, &hits)

	tests := []struct {
		name string
		key  string
		url  string
	}{
		{"rejected key", "wrong", srv.URL},
		{"missing route", "secret", srv.URL + "/nope"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			src, err := luma.New(tc.key, luma.WithBaseURL(tc.url), luma.WithRetryMax(0))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if _, err := src.PastEvents(context.Background(), now); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestEvents_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"entries": [], "has_more": false}`)
	}))
	t.Cleanup(srv.Close)

	src, err := luma.New("secret", luma.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	events, err := src.UpcomingEvents(context.Background(), now)
	if err != nil {
		t.Fatalf("UpcomingEvents: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("requests = %d, want 2", n)
	}
}

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := luma.New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}
