// Package types defines the shared types used across all feedbackd packages.
//
// These types are the common vocabulary between the transcript merger, the
// completion detector, the finalization coordinator, the LLM providers and the
// feedback stores. Each package defines its own domain types, but cross-cutting
// data structures live here to avoid circular imports.
package types

import "time"

// Channel identifies which speaker a [Segment] was transcribed from.
type Channel string

const (
	// ChannelAgent carries the conversational agent's speech or text.
	ChannelAgent Channel = "agent"

	// ChannelUser carries the user's speech or keystrokes.
	ChannelUser Channel = "user"
)

// IsValid reports whether c is a recognised channel.
func (c Channel) IsValid() bool {
	return c == ChannelAgent || c == ChannelUser
}

// Role returns the conversational role that text on this channel is attributed to.
func (c Channel) Role() Role {
	if c == ChannelAgent {
		return RoleAssistant
	}
	return RoleUser
}

// Segment is a timestamped fragment of transcribed or typed text produced by a
// single speaker channel. Segments are immutable once observed; successive
// segments of the same utterance are grouped by the merger, never rewritten.
type Segment struct {
	// ID is an opaque identifier assigned by the segment source.
	ID string `json:"id"`

	// Channel is the speaker channel that produced the text.
	Channel Channel `json:"channel"`

	// Text is the fragment text.
	Text string `json:"text"`

	// FirstReceived is the monotonic receive time of the fragment in
	// milliseconds. Only the relative order between segments is meaningful.
	FirstReceived int64 `json:"first_received_time"`
}

// Role is the conversational role of a [Message].
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
)

// Message is one conversational turn: a run of same-speaker text.
type Message struct {
	// Role is the speaker role of the turn.
	Role Role `json:"role"`

	// Content is the text of the turn.
	Content string `json:"content"`
}

// CountRole returns the number of messages in msgs that have role r.
func CountRole(msgs []Message, r Role) int {
	n := 0
	for _, m := range msgs {
		if m.Role == r {
			n++
		}
	}
	return n
}

// LastOfRole returns the content of the last message with role r, or "" and
// false when there is none.
func LastOfRole(msgs []Message, r Role) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == r {
			return msgs[i].Content, true
		}
	}
	return "", false
}

// TopicTag is one of the five subjects a feedback conversation has to cover
// before it may complete.
type TopicTag string

const (
	TopicProfession    TopicTag = "profession"
	TopicRating        TopicTag = "rating"
	TopicLiked         TopicTag = "liked"
	TopicSuggestions   TopicTag = "suggestions"
	TopicGenAIInterest TopicTag = "genaiInterest"
)

// AllTopics lists every [TopicTag] in conversational order.
var AllTopics = []TopicTag{
	TopicProfession,
	TopicRating,
	TopicLiked,
	TopicSuggestions,
	TopicGenAIInterest,
}

// Sentiment is the overall tone of a feedback conversation.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// IsValid reports whether s is a recognised sentiment.
func (s Sentiment) IsValid() bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return true
	}
	return false
}

// StructuredFeedback is the analysis extracted from a finished conversation.
type StructuredFeedback struct {
	Sentiment     Sentiment `json:"overall_sentiment"`
	Rating        *int      `json:"rating"`
	Suggestions   []string  `json:"suggestions"`
	GenAIInterest bool      `json:"genai_interest"`
	KeyPoints     []string  `json:"key_points"`
}

// UserDetails identifies the person giving feedback.
type UserDetails struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// FeedbackRecord is the persisted form of one finished feedback conversation.
// ID is empty until a store assigns it.
type FeedbackRecord struct {
	ID            string    `json:"id,omitempty"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Messages      []Message `json:"messages"`
	EventID       string    `json:"event_id"`
	EventName     string    `json:"event_name"`
	Sentiment     Sentiment `json:"overall_sentiment"`
	Rating        *int      `json:"rating"`
	Suggestions   []string  `json:"suggestions"`
	GenAIInterest bool      `json:"genai_interest"`
	KeyPoints     []string  `json:"key_points"`
	CreatedAt     time.Time `json:"created_at,omitzero"`
}

// NewFeedbackRecord merges identity and event metadata with an analysis.
// Messages with roles other than user, assistant and system are dropped.
func NewFeedbackRecord(user UserDetails, eventID, eventName string, msgs []Message, fb StructuredFeedback) FeedbackRecord {
	kept := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleUser, RoleAssistant, RoleSystem:
			kept = append(kept, m)
		}
	}
	return FeedbackRecord{
		Name:          user.Name,
		Email:         user.Email,
		Messages:      kept,
		EventID:       eventID,
		EventName:     eventName,
		Sentiment:     fb.Sentiment,
		Rating:        fb.Rating,
		Suggestions:   fb.Suggestions,
		GenAIInterest: fb.GenAIInterest,
		KeyPoints:     fb.KeyPoints,
	}
}

// Analysis returns the structured part of the record.
func (r FeedbackRecord) Analysis() StructuredFeedback {
	return StructuredFeedback{
		Sentiment:     r.Sentiment,
		Rating:        r.Rating,
		Suggestions:   r.Suggestions,
		GenAIInterest: r.GenAIInterest,
		KeyPoints:     r.KeyPoints,
	}
}

// Event is a past event that feedback can be given about.
type Event struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description"`
	Date        time.Time `json:"date" yaml:"date"`
	Location    string    `json:"location,omitempty" yaml:"location"`
	ImageURL    string    `json:"image_url,omitempty" yaml:"image_url"`
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsStructuredOutput indicates native JSON-schema constrained output.
	SupportsStructuredOutput bool

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool
}
