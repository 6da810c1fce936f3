package interview

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/MrWong99/feedbackd/internal/observe"
	"github.com/MrWong99/feedbackd/pkg/provider/llm"
	"github.com/MrWong99/feedbackd/pkg/types"
)

// LowRatingReply is sent without a model call when a rating answer is 5 or
// lower.
const LowRatingReply = "I'm sorry to hear that. Your feedback helps us understand where we need to improve."

const empathyPrompt = `You are an empathetic AI assistant responding to negative feedback.
Provide a short, caring response that:
1. Shows genuine concern and understanding
2. Acknowledges their dissatisfaction
3. Thanks them for their honest feedback
Keep responses concise (1-2 sentences) and genuinely sorrowful in tone.`

var (
	negativeCues = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(no|not|don'?t|didn'?t|won'?t|can'?t)\b`),
		regexp.MustCompile(`(?i)\b(bad|poor|terrible|awful|horrible|worst)\b`),
		regexp.MustCompile(`(?i)\b([0-5]|zero|one|two|three|four|five)\b`),
		regexp.MustCompile(`(?i)\b(dislike|hate|disappointed|disappointing|unhappy|unsatisfied)\b`),
		regexp.MustCompile(`(?i)nothing`),
	}
	firstNumber = regexp.MustCompile(`\d+`)
)

// IsNegative reports whether message reads as negative feedback.
func IsNegative(message string) bool {
	for _, re := range negativeCues {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}

// LowRating returns the first number in message when it is 5 or lower.
func LowRating(message string) (int, bool) {
	m := firstNumber.FindString(message)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil || n > 5 {
		return 0, false
	}
	return n, true
}

// Empathy is the answer to one user message.
type Empathy struct {
	Response   string `json:"response"`
	IsNegative bool   `json:"isNegative"`
}

// Empathizer writes short sympathetic replies to negative feedback.
type Empathizer struct {
	provider llm.Provider
	metrics  *observe.Metrics
}

// NewEmpathizer returns an Empathizer backed by p. m may be nil.
func NewEmpathizer(p llm.Provider, m *observe.Metrics) *Empathizer {
	return &Empathizer{provider: p, metrics: m}
}

// Respond answers message. ratingQuestion marks an answer to the rating
// question, where a low number gets [LowRatingReply] without a model call.
// Non-negative messages get an empty response.
func (e *Empathizer) Respond(ctx context.Context, message string, ratingQuestion bool) (Empathy, error) {
	if ratingQuestion {
		if _, low := LowRating(message); low {
			return Empathy{Response: LowRatingReply, IsNegative: true}, nil
		}
	}
	if !IsNegative(message) {
		return Empathy{}, nil
	}

	start := time.Now()
	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: empathyPrompt,
		Messages:     []types.Message{{Role: types.RoleUser, Content: message}},
		Temperature:  0.7,
		MaxTokens:    150,
	})
	if e.metrics != nil {
		e.metrics.RecordLLM(ctx, "empathy", time.Since(start))
	}
	if err != nil {
		return Empathy{}, fmt.Errorf("interview: empathy: %w", err)
	}
	if resp == nil {
		return Empathy{IsNegative: true}, nil
	}
	return Empathy{Response: resp.Content, IsNegative: true}, nil
}
