package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/feedbackd/pkg/types"
)

// DefaultStream is the Redis stream feedback notifications go to.
const DefaultStream = "feedback:saved"

// Publisher announces a persisted record to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, rec types.FeedbackRecord) error
}

// StreamAdder is the subset of *redis.Client used by [RedisPublisher].
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisPublisher appends one entry per saved record to a Redis stream.
type RedisPublisher struct {
	client StreamAdder
	stream string
}

// NewRedisPublisher returns a publisher writing to stream, or [DefaultStream]
// when stream is empty.
func NewRedisPublisher(client StreamAdder, stream string) *RedisPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisPublisher{client: client, stream: stream}
}

// Publish adds the record's summary fields to the stream.
func (p *RedisPublisher) Publish(ctx context.Context, rec types.FeedbackRecord) error {
	fields := map[string]any{
		"feedback_id":       rec.ID,
		"event_id":          rec.EventID,
		"event_name":        rec.EventName,
		"overall_sentiment": string(rec.Sentiment),
		"genai_interest":    strconv.FormatBool(rec.GenAIInterest),
	}
	if rec.Rating != nil {
		fields["rating"] = *rec.Rating
	}
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("feedback: publish %s: %w", rec.ID, err)
	}
	return nil
}

// PublishingStore saves through an inner store and then publishes the
// record. A failed publish is logged and does not fail the save.
type PublishingStore struct {
	Store
	pub Publisher
	log *slog.Logger
}

// NewPublishingStore wraps s. A nil logger uses slog.Default().
func NewPublishingStore(s Store, pub Publisher, log *slog.Logger) *PublishingStore {
	if log == nil {
		log = slog.Default()
	}
	return &PublishingStore{Store: s, pub: pub, log: log}
}

// Save implements [Store].
func (s *PublishingStore) Save(ctx context.Context, rec types.FeedbackRecord) (string, error) {
	id, err := s.Store.Save(ctx, rec)
	if err != nil {
		return "", err
	}
	rec.ID = id
	if err := s.pub.Publish(ctx, rec); err != nil {
		s.log.WarnContext(ctx, "feedback notification failed", "feedback_id", id, "err", err)
	}
	return id, nil
}
