// Package phonetic matches misheard words against a short list of keyterms
// (programme names, organisation names) using Double Metaphone codes and
// Jaro-Winkler similarity.
//
// A candidate window of one or more words is compared against every keyterm
// with whitespace removed, so "launch pad" and "gen ai" line up with
// "Launchpad" and "GenAI". A window whose Double Metaphone code overlaps the
// keyterm's is accepted at the phonetic threshold; otherwise the stricter
// fuzzy threshold applies.
package phonetic

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.88
	defaultFuzzyThreshold    = 0.94
	defaultMinLengthRatio    = 0.75
	minWindowRunes           = 4
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a window whose
// phonetic code overlaps a keyterm. Default: 0.88.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score when the codes do not
// overlap. Default: 0.94.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is safe for concurrent use; it is read-only after construction.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	minLengthRatio    float64
}

// New returns a [Matcher] configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		minLengthRatio:    defaultMinLengthRatio,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

type keyterm struct {
	original string
	squashed string
	runes    int
	words    int
	codes    [2]string
}

// Set is a precomputed keyterm list. Build it once with [Prepare] and reuse it
// for every window of a transcript.
type Set struct {
	terms    []keyterm
	maxWords int
}

// Prepare lowercases, squashes and encodes each keyterm. Blank entries are
// skipped.
func Prepare(keyterms []string) *Set {
	s := &Set{}
	for _, k := range keyterms {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		sq := squash(k)
		p, a := matchr.DoubleMetaphone(sq)
		kt := keyterm{
			original: k,
			squashed: sq,
			runes:    utf8.RuneCountInString(sq),
			words:    len(strings.Fields(k)),
			codes:    [2]string{p, a},
		}
		s.terms = append(s.terms, kt)
		if kt.words > s.maxWords {
			s.maxWords = kt.words
		}
	}
	return s
}

// MaxWords is the word count of the longest keyterm. Zero for an empty set.
func (s *Set) MaxWords() int {
	if s == nil {
		return 0
	}
	return s.maxWords
}

// Len is the number of usable keyterms.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.terms)
}

// Match returns the keyterm most similar to window. When matched is false,
// corrected equals window and confidence is 0.
func (m *Matcher) Match(window string, set *Set) (corrected string, confidence float64, matched bool) {
	if set.Len() == 0 {
		return window, 0, false
	}
	sq := squash(window)
	n := utf8.RuneCountInString(sq)
	if n < minWindowRunes {
		return window, 0, false
	}
	p, a := matchr.DoubleMetaphone(sq)

	var (
		best      string
		bestScore float64
		bestPhon  bool
	)
	for _, kt := range set.terms {
		if lengthRatio(n, kt.runes) < m.minLengthRatio {
			continue
		}
		score := matchr.JaroWinkler(sq, kt.squashed, false)
		phon := overlaps(p, a, kt.codes)
		switch {
		case phon && score >= m.phoneticThreshold:
			if !bestPhon || score > bestScore {
				best, bestScore, bestPhon = kt.original, score, true
			}
		case !bestPhon && score >= m.fuzzyThreshold && score > bestScore:
			best, bestScore = kt.original, score
		}
	}
	if best == "" {
		return window, 0, false
	}
	return best, bestScore, true
}

func squash(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "")
}

func lengthRatio(a, b int) float64 {
	if a > b {
		a, b = b, a
	}
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

func overlaps(p, a string, codes [2]string) bool {
	for _, c := range codes {
		if c == "" {
			continue
		}
		if c == p || c == a {
			return true
		}
	}
	return false
}
