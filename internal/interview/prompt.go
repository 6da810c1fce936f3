// Package interview generates the assistant's side of a feedback
// conversation: the greeting, the stage-steered system prompt, streamed
// replies, the course link hint and the empathetic answer to negative
// feedback.
package interview

import (
	"fmt"
	"strings"

	"github.com/MrWong99/feedbackd/internal/completion"
)

// Profile describes the organisation running the interviews.
type Profile struct {
	// AssistantName is how the assistant introduces itself.
	AssistantName string

	// Organization is the name of the organisation collecting feedback.
	Organization string

	// CourseLink is the programme URL offered when the user asks for it.
	CourseLink string

	// FAQ is appended to the system prompt verbatim. The assistant only
	// answers from it when asked.
	FAQ string
}

// DefaultProfile is used for any empty Profile field.
var DefaultProfile = Profile{
	AssistantName: "BuildFast Bot",
	Organization:  "Build Fast with AI",
	CourseLink:    "https://buildfastwithai.com/genai-course",
}

func (p Profile) withDefaults() Profile {
	if p.AssistantName == "" {
		p.AssistantName = DefaultProfile.AssistantName
	}
	if p.Organization == "" {
		p.Organization = DefaultProfile.Organization
	}
	if p.CourseLink == "" {
		p.CourseLink = DefaultProfile.CourseLink
	}
	return p
}

// Greeting is the first assistant message of a session.
func (p Profile) Greeting(userName, eventName string) string {
	return fmt.Sprintf("Hi %s! I'm here to collect your feedback about %s. This will only take 3-5 minutes. Let's start - what do you do for work?",
		orDefault(userName, "there"), eventName)
}

// Questions is the scripted question list of the voice interview.
func (p Profile) Questions(userName, eventName string) []string {
	p = p.withDefaults()
	name := orDefault(userName, "there")
	return []string{
		fmt.Sprintf("I am %s and I am here to collect feedback for the %s event. This call will take 3-5 min. How are you today, %s?", p.AssistantName, eventName, name),
		"What do you do?",
		fmt.Sprintf("How would you rate the %s event on a scale of one to ten?", eventName),
		fmt.Sprintf("What did you like most about the %s event?", eventName),
		fmt.Sprintf("What suggestions do you have to improve the %s event?", eventName),
		"We have an 8-week Generative AI Launchpad program. Would you be interested in learning more about it?",
		fmt.Sprintf("Thanks for your feedback, %s. Have a great day!", name),
	}
}

// SystemPrompt builds the responder instructions for the given stage.
func (p Profile) SystemPrompt(userName, eventName string, stage completion.Stage) string {
	p = p.withDefaults()
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a friendly and professional feedback collection assistant. You're conducting a conversational feedback session about %q with %s.\n\n",
		p.AssistantName, eventName, orDefault(userName, "the attendee"))

	b.WriteString(`Your conversation flow should naturally cover these topics in order:
1. What the user does for work/profession
2. Their overall rating of the event (1-10 scale)
3. What they liked most about the event
4. Any suggestions for improvement
5. Interest in the 8-week Generative AI Launchpad
Use the phrase "8-week Generative AI Launchpad" when you ask about it, and say "event" after the event name.

Guidelines:
- Be conversational and natural, not robotic
- Accept any response from the user without judgment or validation
- Show empathy and respond contextually to their answers
- If they give negative feedback or low ratings, respond with understanding
- Keep responses concise but engaging
- Use their name occasionally to personalize the conversation
- Acknowledge their responses before moving to the next topic
- WAIT for the user to respond to each question before moving on
- Do NOT conclude the conversation until you have received answers to ALL 5 topics
`)
	if p.FAQ != "" {
		b.WriteString("\nOnly if the user asks, answer from these details:\n")
		b.WriteString(p.FAQ)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nIf the user asks something unrelated, ask them to contact the team at %s.\n", p.Organization)
	fmt.Fprintf(&b, "Course website link: %s\n", p.CourseLink)
	fmt.Fprintf(&b, "\nCRITICAL: Only use the completion phrase AFTER the user has responded to the Gen AI Launchpad question. Then end your response with this EXACT phrase: %q\n",
		completion.CanonicalPhrase)
	fmt.Fprintf(&b, "\nCurrent conversation stage: %s\nRespond naturally and conversationally to their latest message.", stage)
	return b.String()
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
