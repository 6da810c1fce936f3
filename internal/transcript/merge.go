// Package transcript turns the segments produced by the agent and user
// channels of a session into one ordered, speaker-grouped conversation.
//
// [Merge] is pure: it is recomputed from the full segment snapshot on every
// update, so a source that rewrites an earlier segment in place is picked up
// without any incremental bookkeeping. The optional [KeytermCorrector] fixes
// misheard programme and organisation names in user text before merging.
package transcript

import (
	"sort"

	"github.com/MrWong99/feedbackd/pkg/types"
)

// Merge orders segments by FirstReceived and folds consecutive segments of the
// same role into one message, joining their text with a single space.
//
// Segment text is taken as received, blank text included, so an empty user
// segment still separates two agent turns. Segments with equal timestamps
// keep their input order and segments with an unknown channel are ignored.
// The result never contains two adjacent messages with the same role.
func Merge(segments []types.Segment) []types.Message {
	if len(segments) == 0 {
		return []types.Message{}
	}

	sorted := make([]types.Segment, 0, len(segments))
	for _, s := range segments {
		if !s.Channel.IsValid() {
			continue
		}
		sorted = append(sorted, s)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].FirstReceived < sorted[j].FirstReceived
	})

	msgs := make([]types.Message, 0, len(sorted))
	for _, s := range sorted {
		role := s.Channel.Role()
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content += " " + s.Text
			continue
		}
		msgs = append(msgs, types.Message{Role: role, Content: s.Text})
	}
	return msgs
}

// MergeSources merges the accumulated segment lists of the agent and user
// sources. Timestamp ties resolve agent-first, then by position within each
// list.
func MergeSources(agent, user []types.Segment) []types.Message {
	all := make([]types.Segment, 0, len(agent)+len(user))
	for _, s := range agent {
		s.Channel = types.ChannelAgent
		all = append(all, s)
	}
	for _, s := range user {
		s.Channel = types.ChannelUser
		all = append(all, s)
	}
	return Merge(all)
}
