package phonetic_test

import (
	"testing"

	"github.com/MrWong99/feedbackd/internal/transcript/phonetic"
)

func TestMatcher_SplitCompound(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	set := phonetic.Prepare([]string{"Launchpad", "GenAI"})

	tests := []struct {
		window string
		want   string
	}{
		{"launch pad", "Launchpad"},
		{"LAUNCHPAD", "Launchpad"},
		{"gen ai", "GenAI"},
	}
	for _, tc := range tests {
		t.Run(tc.window, func(t *testing.T) {
			t.Parallel()
			got, conf, ok := m.Match(tc.window, set)
			if !ok {
				t.Fatalf("Match(%q): matched=false, want true", tc.window)
			}
			if got != tc.want {
				t.Errorf("Match(%q) = %q, want %q", tc.window, got, tc.want)
			}
			if conf < 0.99 {
				t.Errorf("Match(%q): confidence=%f, want >= 0.99", tc.window, conf)
			}
		})
	}
}

func TestMatcher_NoMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	set := phonetic.Prepare([]string{"Launchpad"})

	got, conf, ok := m.Match("hello", set)
	if ok {
		t.Fatalf("Match(%q): matched=true, want false", "hello")
	}
	if got != "hello" {
		t.Errorf("corrected=%q, want original", got)
	}
	if conf != 0 {
		t.Errorf("conf=%f, want 0", conf)
	}
}

func TestMatcher_RejectsPrefixOfLongerTerm(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	set := phonetic.Prepare([]string{"Launchpad"})

	if got, _, ok := m.Match("launch", set); ok {
		t.Errorf("Match(%q) = %q, want no match", "launch", got)
	}
}

func TestMatcher_ShortWindowsIgnored(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	set := phonetic.Prepare([]string{"AWS"})

	if _, _, ok := m.Match("aws", set); ok {
		t.Error("windows shorter than four letters should never match")
	}
}

func TestMatcher_EmptySet(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	for _, set := range []*phonetic.Set{nil, phonetic.Prepare(nil), phonetic.Prepare([]string{"  "})} {
		if _, _, ok := m.Match("launchpad", set); ok {
			t.Error("empty set matched")
		}
	}
}

func TestPrepare_MaxWords(t *testing.T) {
	t.Parallel()

	set := phonetic.Prepare([]string{"GenAI", "AI Tinkerers Club", ""})
	if got := set.MaxWords(); got != 3 {
		t.Errorf("MaxWords() = %d, want 3", got)
	}
	if got := set.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
}

func TestMatcher_HighThresholdRejects(t *testing.T) {
	t.Parallel()

	m := phonetic.New(
		phonetic.WithPhoneticThreshold(1.01),
		phonetic.WithFuzzyThreshold(1.01),
	)
	set := phonetic.Prepare([]string{"Launchpad"})
	if _, _, ok := m.Match("launch pad", set); ok {
		t.Error("threshold above 1 should reject every window")
	}
}
