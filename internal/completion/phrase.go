package completion

import (
	"regexp"
	"slices"
	"strings"

	"github.com/MrWong99/feedbackd/pkg/types"
)

// CanonicalPhrase is the closing line the responder is instructed to end the
// interview with.
const CanonicalPhrase = "Thank you for sharing your valuable feedback with us today!"

// Phrases is a set of closing phrases matched case-insensitively as substrings.
type Phrases []string

// DefaultPhrases are the canonical phrase and its close variants.
var DefaultPhrases = Phrases{
	CanonicalPhrase,
	"thank you for sharing your valuable feedback with us today",
	"Thank you for sharing your feedback with us today",
}

// Match reports whether text contains any of the phrases.
func (p Phrases) Match(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range p {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

// TopicSet is a set of [types.TopicTag] values.
type TopicSet uint8

func topicBit(t types.TopicTag) TopicSet {
	i := slices.Index(types.AllTopics, t)
	if i < 0 {
		return 0
	}
	return 1 << i
}

// Has reports whether t is in the set.
func (s TopicSet) Has(t types.TopicTag) bool {
	b := topicBit(t)
	return b != 0 && s&b != 0
}

// With returns s with t added.
func (s TopicSet) With(t types.TopicTag) TopicSet {
	return s | topicBit(t)
}

// All reports whether every topic is present.
func (s TopicSet) All() bool {
	return s == 1<<len(types.AllTopics)-1
}

// List returns the topics in the set in conversational order.
func (s TopicSet) List() []types.TopicTag {
	out := make([]types.TopicTag, 0, len(types.AllTopics))
	for _, t := range types.AllTopics {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

// Missing returns the topics not in the set.
func (s TopicSet) Missing() []types.TopicTag {
	var out []types.TopicTag
	for _, t := range types.AllTopics {
		if !s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

// topicCues are matched as substrings of the case-folded transcript, so
// "likely" counts for liked and "generate" counts for rating.
var topicCues = []struct {
	topic types.TopicTag
	re    *regexp.Regexp
}{
	{types.TopicProfession, regexp.MustCompile(`work|job|profession`)},
	{types.TopicRating, regexp.MustCompile(`rating|rate|score|\d+`)},
	{types.TopicLiked, regexp.MustCompile(`like|appreciate|enjoy`)},
	{types.TopicSuggestions, regexp.MustCompile(`suggestion|improve`)},
	{types.TopicGenAIInterest, regexp.MustCompile(`genai|gen ai|launchpad|program`)},
}

// TopicsCovered derives the covered topics from the text of every message.
func TopicsCovered(msgs []types.Message) TopicSet {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Content
	}
	text := strings.ToLower(strings.Join(parts, " "))

	var s TopicSet
	for _, c := range topicCues {
		if c.re.MatchString(text) {
			s = s.With(c.topic)
		}
	}
	return s
}

// PhraseTopic fires when the latest assistant message contains one of Phrases
// and the transcript covers every topic.
type PhraseTopic struct {
	// Phrases defaults to [DefaultPhrases] when nil.
	Phrases Phrases
}

// Complete implements [Detector].
func (d PhraseTopic) Complete(msgs []types.Message, latestAssistant string) bool {
	phrases := d.Phrases
	if phrases == nil {
		phrases = DefaultPhrases
	}
	if !phrases.Match(latestText(msgs, latestAssistant)) {
		return false
	}
	return TopicsCovered(msgs).All()
}
