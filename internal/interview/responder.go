package interview

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/feedbackd/internal/completion"
	"github.com/MrWong99/feedbackd/internal/observe"
	"github.com/MrWong99/feedbackd/pkg/provider/llm"
	"github.com/MrWong99/feedbackd/pkg/types"
)

const (
	replyTemperature = 0.7
	replyMaxTokens   = 300
)

// Turn is the input for one assistant reply.
type Turn struct {
	// Messages is the merged transcript ending with the user's message.
	Messages  []types.Message
	UserName  string
	EventName string
}

// Reply is one generated assistant message.
type Reply struct {
	Text string `json:"text"`

	// Stage is the interview stage the reply was steered by.
	Stage completion.Stage `json:"stage"`

	// CheckCompletion is set once enough user messages exist for the
	// client to start checking for completion.
	CheckCompletion bool `json:"check_completion"`
}

// Responder generates assistant replies with a streaming LLM call.
type Responder struct {
	provider llm.Provider
	profile  Profile
	metrics  *observe.Metrics
}

// NewResponder returns a Responder. m may be nil.
func NewResponder(p llm.Provider, profile Profile, m *observe.Metrics) *Responder {
	return &Responder{provider: p, profile: profile.withDefaults(), metrics: m}
}

// Profile returns the responder's profile with defaults applied.
func (r *Responder) Profile() Profile { return r.profile }

// Reply streams the next assistant message. onDelta, when non-nil, receives
// each text fragment as it arrives. The course link is appended to the
// complete text when the reply or the user's message talks about the
// programme.
func (r *Responder) Reply(ctx context.Context, t Turn, onDelta func(string)) (Reply, error) {
	stage := completion.StageOf(t.Messages)

	start := time.Now()
	ch, err := r.provider.StreamCompletion(ctx, llm.CompletionRequest{
		SystemPrompt: r.profile.SystemPrompt(t.UserName, t.EventName, stage),
		Messages:     conversational(t.Messages),
		Temperature:  replyTemperature,
		MaxTokens:    replyMaxTokens,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("interview: reply: %w", err)
	}
	text, err := llm.Collect(ch, onDelta)
	if r.metrics != nil {
		r.metrics.RecordLLM(ctx, "reply", time.Since(start))
	}
	if err != nil {
		return Reply{}, fmt.Errorf("interview: reply: %w", err)
	}
	if ctx.Err() != nil {
		return Reply{}, fmt.Errorf("interview: reply: %w", ctx.Err())
	}

	lastUser, _ := types.LastOfRole(t.Messages, types.RoleUser)
	return Reply{
		Text:            AppendCourseLink(text, lastUser, r.profile.CourseLink),
		Stage:           stage,
		CheckCompletion: completion.EnoughExchanges(t.Messages),
	}, nil
}

// conversational drops everything but user and assistant turns.
func conversational(msgs []types.Message) []types.Message {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == types.RoleUser || m.Role == types.RoleAssistant {
			out = append(out, m)
		}
	}
	return out
}
