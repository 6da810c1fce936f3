// Package luma reads the event catalogue from a Luma calendar through the
// public list-events API.
package luma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/MrWong99/feedbackd/internal/feedback"
	"github.com/MrWong99/feedbackd/pkg/types"
)

const (
	// DefaultBaseURL is the public Luma API.
	DefaultBaseURL = "https://api.lu.ma"

	// DefaultCacheTTL bounds how long a fetched calendar is served.
	DefaultCacheTTL = 5 * time.Minute

	listPath = "/public/v1/calendar/list-events"

	// maxPages stops a misbehaving cursor from looping forever.
	maxPages = 50
)

var _ feedback.EventSource = (*Events)(nil)

// Events implements [feedback.EventSource] over a Luma calendar. The full
// list is fetched once per cache period and split into past and upcoming
// events locally. Safe for concurrent use.
type Events struct {
	client  *retryablehttp.Client
	baseURL string
	apiKey  string
	ttl     time.Duration

	mu      sync.Mutex
	cached  feedback.StaticEvents
	fetched time.Time
}

// Option adjusts an [Events] built by [New].
type Option func(*Events)

// WithBaseURL replaces [DefaultBaseURL].
func WithBaseURL(u string) Option {
	return func(e *Events) { e.baseURL = u }
}

// WithCacheTTL replaces [DefaultCacheTTL]. Zero disables caching.
func WithCacheTTL(d time.Duration) Option {
	return func(e *Events) { e.ttl = d }
}

// WithHTTPClient sets the transport used underneath the retrying client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Events) { e.client.HTTPClient = c }
}

// WithRetryMax overrides the number of retries after a failed request.
func WithRetryMax(n int) Option {
	return func(e *Events) { e.client.RetryMax = n }
}

// New returns an event source for the calendar owning apiKey.
func New(apiKey string, opts ...Option) (*Events, error) {
	if apiKey == "" {
		return nil, errors.New("luma: apiKey must not be empty")
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = slog.Default().With("component", "luma")

	e := &Events{
		client:  client,
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		ttl:     DefaultCacheTTL,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// PastEvents implements [feedback.EventSource].
func (e *Events) PastEvents(ctx context.Context, now time.Time) ([]types.Event, error) {
	all, err := e.list(ctx, now)
	if err != nil {
		return nil, err
	}
	return all.PastEvents(ctx, now)
}

// UpcomingEvents implements [feedback.EventSource].
func (e *Events) UpcomingEvents(ctx context.Context, now time.Time) ([]types.Event, error) {
	all, err := e.list(ctx, now)
	if err != nil {
		return nil, err
	}
	return all.UpcomingEvents(ctx, now)
}

func (e *Events) list(ctx context.Context, now time.Time) (feedback.StaticEvents, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cached != nil && e.ttl > 0 && now.Sub(e.fetched) < e.ttl {
		return e.cached, nil
	}
	events, err := e.fetch(ctx)
	if err != nil {
		return nil, err
	}
	e.cached = events
	e.fetched = now
	return events, nil
}

type listResponse struct {
	Entries []struct {
		APIID string `json:"api_id"`
		Event struct {
			APIID       string `json:"api_id"`
			Name        string `json:"name"`
			Description string `json:"description"`
			StartAt     string `json:"start_at"`
			CoverURL    string `json:"cover_url"`
			URL         string `json:"url"`
			Geo         *struct {
				FullAddress string `json:"full_address"`
			} `json:"geo_address_json"`
		} `json:"event"`
	} `json:"entries"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

func (e *Events) fetch(ctx context.Context) (feedback.StaticEvents, error) {
	events := feedback.StaticEvents{}
	cursor := ""
	for range maxPages {
		page, err := e.fetchPage(ctx, cursor)
		if err != nil {
			return nil, err
		}
		for _, entry := range page.Entries {
			date, err := time.Parse(time.RFC3339, entry.Event.StartAt)
			if err != nil {
				slog.Warn("luma: skipping event with invalid start_at",
					"event_id", entry.APIID, "start_at", entry.Event.StartAt)
				continue
			}
			ev := types.Event{
				ID:          entry.APIID,
				Name:        entry.Event.Name,
				Description: entry.Event.Description,
				Date:        date,
				ImageURL:    entry.Event.CoverURL,
			}
			if ev.ID == "" {
				ev.ID = entry.Event.APIID
			}
			if entry.Event.Geo != nil {
				ev.Location = entry.Event.Geo.FullAddress
			}
			events = append(events, ev)
		}
		if !page.HasMore || page.NextCursor == "" {
			return events, nil
		}
		cursor = page.NextCursor
	}
	return nil, fmt.Errorf("luma: list events: more than %d pages", maxPages)
}

func (e *Events) fetchPage(ctx context.Context, cursor string) (*listResponse, error) {
	u, err := url.Parse(e.baseURL + listPath)
	if err != nil {
		return nil, fmt.Errorf("luma: parse base url: %w", err)
	}
	if cursor != "" {
		q := u.Query()
		q.Set("pagination_cursor", cursor)
		u.RawQuery = q.Encode()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("luma: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Luma-Api-Key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("luma: list events: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("luma: list events: unexpected status %s", resp.Status)
	}

	var page listResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("luma: decode events: %w", err)
	}
	return &page, nil
}
