// Package postgres provides the PostgreSQL-backed feedback store and event
// catalogue.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	id, err := store.Save(ctx, rec)
//	events, err := store.PastEvents(ctx, time.Now())
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlEventFeedback = `
CREATE TABLE IF NOT EXISTS event_feedback (
    id                UUID        PRIMARY KEY DEFAULT gen_random_uuid(),
    name              TEXT        NOT NULL DEFAULT '',
    email             TEXT        NOT NULL DEFAULT '',
    messages          JSONB       NOT NULL DEFAULT '[]'::jsonb,
    event_id          TEXT        NOT NULL,
    event_name        TEXT        NOT NULL DEFAULT '',
    overall_sentiment TEXT        CHECK (overall_sentiment IN ('positive', 'negative', 'neutral')),
    rating            INTEGER     CHECK (rating BETWEEN 1 AND 10),
    suggestions       TEXT[]      NOT NULL DEFAULT '{}',
    genai_interest    BOOLEAN     NOT NULL DEFAULT false,
    key_points        TEXT[]      NOT NULL DEFAULT '{}',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_event_feedback_event_id
    ON event_feedback (event_id);

CREATE INDEX IF NOT EXISTS idx_event_feedback_created_at
    ON event_feedback (created_at DESC);
`

const ddlEvents = `
CREATE TABLE IF NOT EXISTS events (
    id          TEXT        PRIMARY KEY,
    name        TEXT        NOT NULL,
    description TEXT        NOT NULL DEFAULT '',
    date        TIMESTAMPTZ NOT NULL,
    location    TEXT        NOT NULL DEFAULT '',
    image_url   TEXT        NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_events_date ON events (date);
`

// Migrate creates the feedback and events tables. It is idempotent and safe
// to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlEventFeedback, ddlEvents} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
