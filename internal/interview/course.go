package interview

import (
	"regexp"
	"strings"
)

var courseRequest = []*regexp.Regexp{
	regexp.MustCompile(`(?i)8\s*-?\s*week.*generative ai launchpad`),
	regexp.MustCompile(`(?i)gen(erative)? ?ai.*launchpad`),
	regexp.MustCompile(`(?i)ai launchpad`),
	regexp.MustCompile(`(?i)genai.*course`),
	regexp.MustCompile(`(?i)course.*genai`),
	regexp.MustCompile(`(?i)link.*launchpad`),
	regexp.MustCompile(`(?i)launchpad.*link`),
}

// MentionsCourse reports whether text talks about the programme.
func MentionsCourse(text string) bool {
	for _, re := range courseRequest {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// AppendCourseLink adds the course link to an assistant reply when either the
// reply or the user's message it answers talks about the programme. A reply
// that already contains the link is returned unchanged.
func AppendCourseLink(text, userText, link string) string {
	if link == "" || !(MentionsCourse(text) || MentionsCourse(userText)) {
		return text
	}
	bare := strings.TrimPrefix(strings.TrimPrefix(link, "https://"), "http://")
	if strings.Contains(text, bare) {
		return text
	}
	return text + "\n\nLearn more: " + link
}
