package domain

import "strings"

// Fixed assistant lines of the coaching script.
const (
	GreetingText = "To help with our research, could you please tell me your country of origin?"

	ProblemPromptText = "Thank you. What engineering problem/goal can I help you solve today?"

	CountryRepromptText = "I'm sorry, that doesn't seem to be a valid country. Could you please tell me your country of origin?"

	SatisfactionQuestion = "Are you satisfied with this solution? We can continue refining or explore other aspects. If you are satisfied and wish to end the session, please say 'I am satisfied now' or 'End session'."

	ApologyText = "Sorry, I encountered an error. Please try again."
)

// Report sentinels used when the oracle found nothing to extract.
const (
	RefinedPromptNotGenerated = "Not generated"
	SolutionNotProvided       = "Not provided"
	LocationNotAvailable      = "Not available"
)

// EndSessionKeywords end the conversation when contained in a user message.
var EndSessionKeywords = []string{"i am satisfied now", "end session"}

// IsEndSession reports whether text contains one of EndSessionKeywords,
// ignoring case.
func IsEndSession(text string) bool {
	low := strings.ToLower(text)
	for _, kw := range EndSessionKeywords {
		if strings.Contains(low, kw) {
			return true
		}
	}
	return false
}

// AsksSatisfaction reports whether an assistant line carries the survey question.
func AsksSatisfaction(text string) bool {
	return strings.Contains(text, SatisfactionQuestion)
}
