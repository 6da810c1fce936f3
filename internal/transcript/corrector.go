package transcript

import (
	"strings"

	"github.com/MrWong99/feedbackd/internal/transcript/phonetic"
	"github.com/MrWong99/feedbackd/pkg/types"
)

// Correction captures a single substitution made by a [KeytermCorrector].
type Correction struct {
	// Original is the window of words as transcribed.
	Original string

	// Corrected is the keyterm that replaced it.
	Corrected string

	// Confidence is the similarity score of the match (0.0–1.0).
	Confidence float64
}

// KeytermCorrector replaces misheard keyterms in user text. It is safe for
// concurrent use.
type KeytermCorrector struct {
	matcher *phonetic.Matcher
	set     *phonetic.Set
}

// NewKeytermCorrector prepares keyterms once. A nil matcher uses
// phonetic.New() defaults.
func NewKeytermCorrector(m *phonetic.Matcher, keyterms []string) *KeytermCorrector {
	if m == nil {
		m = phonetic.New()
	}
	return &KeytermCorrector{matcher: m, set: phonetic.Prepare(keyterms)}
}

// Correct returns text with keyterm substitutions applied.
//
// At each word position, windows from one word longer than the longest
// keyterm down to a single word are tried; the longest matching window wins.
// The extra word lets a compound keyterm match when speech-to-text split it
// in two ("launch pad"). Punctuation attached to the window's last word is
// kept.
func (c *KeytermCorrector) Correct(text string) (string, []Correction) {
	if c == nil || c.set.Len() == 0 {
		return text, nil
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}
	maxWindow := c.set.MaxWords() + 1

	var (
		output      []string
		corrections []Correction
	)
	i := 0
	for i < len(tokens) {
		maxN := min(maxWindow, len(tokens)-i)

		matched := false
		for n := maxN; n >= 1; n-- {
			window, trail := splitTrailing(strings.Join(tokens[i:i+n], " "))
			term, conf, ok := c.matcher.Match(window, c.set)
			if !ok {
				continue
			}
			if window != term {
				corrections = append(corrections, Correction{
					Original:   window,
					Corrected:  term,
					Confidence: conf,
				})
			}
			output = append(output, term+trail)
			i += n
			matched = true
			break
		}
		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(output, " "), corrections
}

// CorrectSegments returns a copy of segs with user-channel text corrected.
// Agent text is left untouched.
func (c *KeytermCorrector) CorrectSegments(segs []types.Segment) []types.Segment {
	out := make([]types.Segment, len(segs))
	copy(out, segs)
	if c == nil || c.set.Len() == 0 {
		return out
	}
	for i := range out {
		if out[i].Channel != types.ChannelUser {
			continue
		}
		out[i].Text, _ = c.Correct(out[i].Text)
	}
	return out
}

// splitTrailing separates trailing punctuation from s.
func splitTrailing(s string) (word, trail string) {
	end := len(s)
	for end > 0 && strings.ContainsRune(".,!?;:", rune(s[end-1])) {
		end--
	}
	return s[:end], s[end:]
}
