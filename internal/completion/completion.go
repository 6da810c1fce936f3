// Package completion decides when a feedback conversation is over.
//
// Two strategies are provided behind the [Detector] interface:
//
//   - [Stage] maps the number of user messages onto the ordered interview
//     stages. It steers the responder's system prompt and only reports
//     completion once every stage has been passed.
//   - [PhraseTopic] is the finalize trigger: the latest assistant message must
//     contain a closing phrase and the whole transcript must mention all five
//     topics.
//
// Both are pure functions of their input and can be combined with [AllOf] and
// [AnyOf]. A closing phrase quoted inside a clarifying question still fires
// once all topics are present; that is an accepted limitation of the
// heuristic.
package completion

import (
	"log/slog"

	"github.com/MrWong99/feedbackd/pkg/types"
)

// MinExchanges is the advisory user message floor. Reaching it does not gate
// the decision; it is reported in [Assessment] and drives the client's
// check-completion hint.
const MinExchanges = 5

// Detector reports whether a conversation is complete.
//
// msgs is the full merged transcript. latestAssistant is the text of the
// assistant message that was just produced; when empty, implementations use
// the last assistant message in msgs.
//
// Implementations must be pure and safe for concurrent use.
type Detector interface {
	Complete(msgs []types.Message, latestAssistant string) bool
}

// DetectorFunc adapts a function to the [Detector] interface.
type DetectorFunc func(msgs []types.Message, latestAssistant string) bool

// Complete calls f.
func (f DetectorFunc) Complete(msgs []types.Message, latestAssistant string) bool {
	return f(msgs, latestAssistant)
}

// AllOf fires only when every detector fires. With no detectors it never fires.
func AllOf(ds ...Detector) Detector {
	return DetectorFunc(func(msgs []types.Message, latest string) bool {
		if len(ds) == 0 {
			return false
		}
		for _, d := range ds {
			if !d.Complete(msgs, latest) {
				return false
			}
		}
		return true
	})
}

// AnyOf fires when at least one detector fires.
func AnyOf(ds ...Detector) Detector {
	return DetectorFunc(func(msgs []types.Message, latest string) bool {
		for _, d := range ds {
			if d.Complete(msgs, latest) {
				return true
			}
		}
		return false
	})
}

// EnoughExchanges reports whether msgs contains at least [MinExchanges] user
// messages.
func EnoughExchanges(msgs []types.Message) bool {
	return types.CountRole(msgs, types.RoleUser) >= MinExchanges
}

// Assessment is a diagnostic snapshot of every signal the detectors look at.
type Assessment struct {
	Stage                Stage
	Topics               TopicSet
	CompletionSignalSeen bool
	UserMessages         int
	EnoughExchanges      bool
	Complete             bool
}

// Assess evaluates d and gathers the individual signals for logging.
func Assess(d Detector, msgs []types.Message, latestAssistant string) Assessment {
	latest := latestText(msgs, latestAssistant)
	users := types.CountRole(msgs, types.RoleUser)
	return Assessment{
		Stage:                StageFor(users),
		Topics:               TopicsCovered(msgs),
		CompletionSignalSeen: DefaultPhrases.Match(latest),
		UserMessages:         users,
		EnoughExchanges:      users >= MinExchanges,
		Complete:             d.Complete(msgs, latestAssistant),
	}
}

// LogValue implements slog.LogValuer.
func (a Assessment) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("stage", string(a.Stage)),
		slog.Any("topics", a.Topics.List()),
		slog.Bool("completion_phrase", a.CompletionSignalSeen),
		slog.Int("user_messages", a.UserMessages),
		slog.Bool("enough_exchanges", a.EnoughExchanges),
		slog.Bool("complete", a.Complete),
	)
}

func latestText(msgs []types.Message, latest string) string {
	if latest != "" {
		return latest
	}
	s, _ := types.LastOfRole(msgs, types.RoleAssistant)
	return s
}
