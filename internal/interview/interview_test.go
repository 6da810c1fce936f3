package interview_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/feedbackd/internal/completion"
	"github.com/MrWong99/feedbackd/internal/interview"
	"github.com/MrWong99/feedbackd/pkg/provider/llm"
	"github.com/MrWong99/feedbackd/pkg/provider/llm/mock"
	"github.com/MrWong99/feedbackd/pkg/types"
)

func TestSystemPrompt(t *testing.T) {
	t.Parallel()

	p := interview.Profile{FAQ: "Sessions are recorded."}
	got := p.SystemPrompt("Asha", "GenAI Summit", completion.StageRatingRequest)

	for _, want := range []string{
		"BuildFast Bot",
		`"GenAI Summit"`,
		"Asha",
		completion.CanonicalPhrase,
		"Sessions are recorded.",
		"https://buildfastwithai.com/genai-course",
		"Current conversation stage: rating_request",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestGreeting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, user, want string
	}{
		{name: "named", user: "Asha", want: "Hi Asha! I'm here to collect your feedback about Demo Day."},
		{name: "anonymous", user: " ", want: "Hi there! I'm here to collect your feedback about Demo Day."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := interview.Profile{}.Greeting(tt.user, "Demo Day")
			if !strings.HasPrefix(got, tt.want) {
				t.Errorf("Greeting = %q, want prefix %q", got, tt.want)
			}
		})
	}
}

func TestQuestions(t *testing.T) {
	t.Parallel()

	qs := interview.Profile{}.Questions("Asha", "Demo Day")
	if len(qs) != 7 {
		t.Fatalf("got %d questions, want 7", len(qs))
	}
	if !strings.Contains(qs[2], "Demo Day event") {
		t.Errorf("rating question = %q, want event name", qs[2])
	}
	if !strings.Contains(qs[6], "Asha") {
		t.Errorf("closing = %q, want user name", qs[6])
	}
}

func TestMentionsCourse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want bool
	}{
		{"We have an 8-week Generative AI Launchpad program.", true},
		{"Can you share the link to the launchpad?", true},
		{"Tell me more about the GenAI course", true},
		{"The AI Launchpad starts soon.", true},
		{"How would you rate the event?", false},
		{"The launch was great.", false},
	}
	for _, tt := range tests {
		if got := interview.MentionsCourse(tt.text); got != tt.want {
			t.Errorf("MentionsCourse(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestAppendCourseLink(t *testing.T) {
	t.Parallel()

	const link = "https://buildfastwithai.com/genai-course"

	tests := []struct {
		name, reply, user string
		appended          bool
	}{
		{name: "reply mentions course", reply: "Interested in the AI Launchpad?", appended: true},
		{name: "user asks for link", reply: "Sure, here it is.", user: "can you send the launchpad link", appended: true},
		{name: "already linked", reply: "See buildfastwithai.com/genai-course for the AI Launchpad."},
		{name: "unrelated", reply: "What did you like most?", user: "the talks"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := interview.AppendCourseLink(tt.reply, tt.user, link)
			if tt.appended {
				if !strings.HasSuffix(got, "Learn more: "+link) {
					t.Errorf("got %q, want link appended", got)
				}
				return
			}
			if got != tt.reply {
				t.Errorf("got %q, want unchanged %q", got, tt.reply)
			}
		})
	}
}

func TestIsNegative(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg  string
		want bool
	}{
		{"It was terrible", true},
		{"I didn't enjoy it", true},
		{"nothing really", true},
		{"I'd say 4", true},
		{"Loved the hands-on workshop", false},
		{"Nine out of ten!", false},
	}
	for _, tt := range tests {
		if got := interview.IsNegative(tt.msg); got != tt.want {
			t.Errorf("IsNegative(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestLowRating(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg     string
		want    int
		wantLow bool
	}{
		{"I'd give it a 3", 3, true},
		{"5/10", 5, true},
		{"8 out of 10", 0, false},
		{"pretty good", 0, false},
	}
	for _, tt := range tests {
		got, low := interview.LowRating(tt.msg)
		if got != tt.want || low != tt.wantLow {
			t.Errorf("LowRating(%q) = (%d, %v), want (%d, %v)", tt.msg, got, low, tt.want, tt.wantLow)
		}
	}
}

func TestEmpathizer(t *testing.T) {
	t.Parallel()

	t.Run("low rating skips the model", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{}
		got, err := interview.NewEmpathizer(p, nil).Respond(context.Background(), "2", true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Response != interview.LowRatingReply || !got.IsNegative {
			t.Errorf("got %+v, want low rating reply", got)
		}
		if n := len(p.Completes()); n != 0 {
			t.Errorf("got %d model calls, want 0", n)
		}
	})

	t.Run("negative message asks the model", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "I'm so sorry."}}
		got, err := interview.NewEmpathizer(p, nil).Respond(context.Background(), "The audio was awful", false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Response != "I'm so sorry." {
			t.Errorf("Response = %q, want model text", got.Response)
		}
		calls := p.Completes()
		if len(calls) != 1 {
			t.Fatalf("got %d model calls, want 1", len(calls))
		}
		if calls[0].Req.Temperature != 0.7 || calls[0].Req.MaxTokens != 150 {
			t.Errorf("got temperature %v max tokens %d, want 0.7 and 150", calls[0].Req.Temperature, calls[0].Req.MaxTokens)
		}
	})

	t.Run("positive message is ignored", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{}
		got, err := interview.NewEmpathizer(p, nil).Respond(context.Background(), "Great speakers", false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.IsNegative || got.Response != "" {
			t.Errorf("got %+v, want zero value", got)
		}
	})

	t.Run("model error", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{CompleteErr: errors.New("rate limited")}
		if _, err := interview.NewEmpathizer(p, nil).Respond(context.Background(), "bad", false); err == nil {
			t.Fatal("expected error")
		}
	})
}

func transcript(userTurns int) []types.Message {
	msgs := []types.Message{{Role: types.RoleAssistant, Content: "Hi! What do you do for work?"}}
	for i := range userTurns {
		msgs = append(msgs, types.Message{Role: types.RoleUser, Content: "answer"})
		if i < userTurns-1 {
			msgs = append(msgs, types.Message{Role: types.RoleAssistant, Content: "next question"})
		}
	}
	return msgs
}

func TestResponderReply(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Thanks! How would you "},
		{Text: "rate the event?"},
		{FinishReason: "stop"},
	}}
	r := interview.NewResponder(p, interview.Profile{}, nil)

	var mu sync.Mutex
	var deltas []string
	got, err := r.Reply(context.Background(), interview.Turn{
		Messages:  append(transcript(1), types.Message{Role: types.RoleSystem, Content: "ignored"}),
		UserName:  "Asha",
		EventName: "Demo Day",
	}, func(d string) {
		mu.Lock()
		deltas = append(deltas, d)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Text != "Thanks! How would you rate the event?" {
		t.Errorf("Text = %q", got.Text)
	}
	if got.Stage != completion.StageProfessionInquiry {
		t.Errorf("Stage = %q, want %q", got.Stage, completion.StageProfessionInquiry)
	}
	if got.CheckCompletion {
		t.Error("CheckCompletion = true after one user message, want false")
	}
	if len(deltas) != 2 {
		t.Errorf("got %d deltas, want 2", len(deltas))
	}

	calls := p.Streams()
	if len(calls) != 1 {
		t.Fatalf("got %d stream calls, want 1", len(calls))
	}
	req := calls[0].Req
	if req.Temperature != 0.7 || req.MaxTokens != 300 {
		t.Errorf("got temperature %v max tokens %d, want 0.7 and 300", req.Temperature, req.MaxTokens)
	}
	for _, m := range req.Messages {
		if m.Role == types.RoleSystem {
			t.Error("system message forwarded as conversation turn")
		}
	}
	if !strings.Contains(req.SystemPrompt, "Demo Day") {
		t.Error("system prompt missing event name")
	}
}

func TestResponderCheckCompletion(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{StreamChunks: []llm.Chunk{{Text: "Would you like to join our AI Launchpad?"}}}
	r := interview.NewResponder(p, interview.Profile{}, nil)

	got, err := r.Reply(context.Background(), interview.Turn{Messages: transcript(5)}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.CheckCompletion {
		t.Error("CheckCompletion = false after five user messages, want true")
	}
	if got.Stage != completion.StageGenAIInterestInquiry {
		t.Errorf("Stage = %q, want %q", got.Stage, completion.StageGenAIInterestInquiry)
	}
	if !strings.Contains(got.Text, "https://buildfastwithai.com/genai-course") {
		t.Errorf("Text = %q, want course link", got.Text)
	}
}

func TestResponderErrors(t *testing.T) {
	t.Parallel()

	t.Run("stream start", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{StreamErr: errors.New("unavailable")}
		if _, err := interview.NewResponder(p, interview.Profile{}, nil).Reply(context.Background(), interview.Turn{}, nil); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("error chunk", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{StreamChunks: []llm.Chunk{{Text: "partial"}, {Text: "boom", FinishReason: "error"}}}
		_, err := interview.NewResponder(p, interview.Profile{}, nil).Reply(context.Background(), interview.Turn{}, nil)
		var se *llm.StreamError
		if !errors.As(err, &se) {
			t.Fatalf("got %v, want *llm.StreamError", err)
		}
	})
}
