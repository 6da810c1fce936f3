package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/feedbackd/internal/feedback"
	"github.com/MrWong99/feedbackd/pkg/types"
)

var (
	_ feedback.Store       = (*Store)(nil)
	_ feedback.EventSource = (*Store)(nil)
)

// Store persists feedback records in event_feedback and reads the event
// catalogue from events. Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, pings the server and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Save inserts rec and returns the generated UUID.
func (s *Store) Save(ctx context.Context, rec types.FeedbackRecord) (string, error) {
	const q = `
		INSERT INTO event_feedback
		    (name, email, messages, event_id, event_name, overall_sentiment,
		     rating, suggestions, genai_interest, key_points)
		VALUES ($1, $2, $3::jsonb, $4, $5, NULLIF($6, ''), $7, $8, $9, $10)
		RETURNING id::text`

	msgs, err := json.Marshal(rec.Messages)
	if err != nil {
		return "", fmt.Errorf("postgres store: marshal messages: %w", err)
	}

	var id string
	err = s.pool.QueryRow(ctx, q,
		rec.Name,
		rec.Email,
		string(msgs),
		rec.EventID,
		rec.EventName,
		string(rec.Sentiment),
		rec.Rating,
		nonNil(rec.Suggestions),
		rec.GenAIInterest,
		nonNil(rec.KeyPoints),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("postgres store: insert feedback: %w", err)
	}
	return id, nil
}

// Get loads the record with id.
func (s *Store) Get(ctx context.Context, id string) (types.FeedbackRecord, error) {
	const q = `
		SELECT id::text, name, email, messages, event_id, event_name,
		       COALESCE(overall_sentiment, ''), rating, suggestions,
		       genai_interest, key_points, created_at
		FROM   event_feedback
		WHERE  id = $1::uuid`

	var (
		rec       types.FeedbackRecord
		msgs      []byte
		sentiment string
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&rec.ID, &rec.Name, &rec.Email, &msgs, &rec.EventID, &rec.EventName,
		&sentiment, &rec.Rating, &rec.Suggestions, &rec.GenAIInterest,
		&rec.KeyPoints, &rec.CreatedAt,
	)
	if err != nil {
		return types.FeedbackRecord{}, fmt.Errorf("postgres store: get feedback %s: %w", id, err)
	}
	rec.Sentiment = types.Sentiment(sentiment)
	if err := json.Unmarshal(msgs, &rec.Messages); err != nil {
		return types.FeedbackRecord{}, fmt.Errorf("postgres store: decode messages: %w", err)
	}
	return rec, nil
}

// UpsertEvent inserts or replaces an event in the catalogue.
func (s *Store) UpsertEvent(ctx context.Context, e types.Event) error {
	const q = `
		INSERT INTO events (id, name, description, date, location, image_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
		    name        = EXCLUDED.name,
		    description = EXCLUDED.description,
		    date        = EXCLUDED.date,
		    location    = EXCLUDED.location,
		    image_url   = EXCLUDED.image_url`

	if _, err := s.pool.Exec(ctx, q, e.ID, e.Name, e.Description, e.Date, e.Location, e.ImageURL); err != nil {
		return fmt.Errorf("postgres store: upsert event %s: %w", e.ID, err)
	}
	return nil
}

// PastEvents implements [feedback.EventSource].
func (s *Store) PastEvents(ctx context.Context, now time.Time) ([]types.Event, error) {
	const q = `
		SELECT id, name, description, date, location, image_url
		FROM   events
		WHERE  date < $1
		ORDER  BY date DESC`
	return s.queryEvents(ctx, q, now)
}

// UpcomingEvents implements [feedback.EventSource].
func (s *Store) UpcomingEvents(ctx context.Context, now time.Time) ([]types.Event, error) {
	const q = `
		SELECT id, name, description, date, location, image_url
		FROM   events
		WHERE  date > $1
		ORDER  BY date ASC`
	return s.queryEvents(ctx, q, now)
}

func (s *Store) queryEvents(ctx context.Context, q string, now time.Time) ([]types.Event, error) {
	rows, err := s.pool.Query(ctx, q, now)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Event, error) {
		var e types.Event
		err := row.Scan(&e.ID, &e.Name, &e.Description, &e.Date, &e.Location, &e.ImageURL)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan events: %w", err)
	}
	return events, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
