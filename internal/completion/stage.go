package completion

import "github.com/MrWong99/feedbackd/pkg/types"

// Stage is the interview step the assistant should be working on.
type Stage string

const (
	StageProfessionInquiry      Stage = "profession_inquiry"
	StageRatingRequest          Stage = "rating_request"
	StagePositiveFeedback       Stage = "positive_feedback"
	StageImprovementSuggestions Stage = "improvement_suggestions"
	StageGenAIInterestInquiry   Stage = "genai_interest_inquiry"
	StageReadyToConclude        Stage = "ready_to_conclude"
	StageConversationComplete   Stage = "conversation_complete"
)

// stageOrder maps user message counts 0..6 onto stages; anything above is
// complete. Counts 0 and 1 both ask about profession.
var stageOrder = []Stage{
	StageProfessionInquiry,
	StageProfessionInquiry,
	StageRatingRequest,
	StagePositiveFeedback,
	StageImprovementSuggestions,
	StageGenAIInterestInquiry,
	StageReadyToConclude,
}

// StageFor returns the stage for a given number of user messages.
func StageFor(userMessages int) Stage {
	if userMessages < 0 {
		userMessages = 0
	}
	if userMessages < len(stageOrder) {
		return stageOrder[userMessages]
	}
	return StageConversationComplete
}

// StageOf returns the stage of msgs.
func StageOf(msgs []types.Message) Stage {
	return StageFor(types.CountRole(msgs, types.RoleUser))
}

// StageDetector fires once the conversation has moved past every stage.
type StageDetector struct{}

// Complete implements [Detector].
func (StageDetector) Complete(msgs []types.Message, _ string) bool {
	return StageOf(msgs) == StageConversationComplete
}
