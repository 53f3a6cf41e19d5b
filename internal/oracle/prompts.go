package oracle

import (
	"fmt"

	"google.golang.org/genai"

	"github.com/exoxegroup/eng-ai/internal/domain"
)

const countryInstruction = `You are a country validation expert. Your only task is to determine if the user's input is a real country and respond in JSON.
- If the input is a valid country name, a common abbreviation, or a colloquial name for a country, respond with a JSON object: {"isValid": true, "countryName": "Standardized English Name"}. For example, if the input is "USA", "United States of America", or "America", you should return "United States".
- If the input is NOT a valid country, respond with a JSON object: {"isValid": false, "countryName": ""}.
- Your response must be ONLY the JSON object and nothing else.`

var coachingInstruction = `You are an Engineering AI Coach. Your expertise is strictly confined to engineering knowledge from textbooks, academic papers, and specialized databases. Your goal is to guide users in solving engineering problems. You must follow this protocol:
1. When the user states their initial problem, your primary goal is to help them refine it. Ask clarifying questions to make the prompt more specific, structured, and solvable from an engineering perspective. Propose a refined prompt once you have enough information.
2. Once a prompt is sufficiently refined, provide a comprehensive, technically sound engineering solution.
3. After EVERY response you give (whether it's a clarification, a refined prompt, or a solution), you MUST conclude your message with the exact phrase: "` + domain.SatisfactionQuestion + `"
Do not deviate from these rules. The user's latest message is the last one in the transcript.`

const reportInstruction = `You are a data analysis bot. Your task is to analyze the following conversation transcript between an "AI Coach" and a "User" and generate a JSON report based on the provided schema.

Scoring Criteria:
- User Emotional Engagement Score:
  - 3 (High): User actively collaborates, asks insightful follow-up questions, and willingly provides context.
  - 2 (Moderate): User provides a decent prompt but does not engage in deep refinement or extensive follow-up.
  - 1 (Low): User provides vague prompts, shows minimal engagement, and treats the interaction like a simple search query.
- User Intelligence Score:
  - 3 (High): Initial prompt is well-structured and specific. User's contributions to refinement are clear and logical.
  - 2 (Moderate): Initial prompt is understandable but lacks detail. User can follow along with AI-led refinement.
  - 1 (Low): Prompts are consistently ambiguous or contradictory. User struggles to articulate their needs even with guidance.`

var countrySchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"isValid":     {Type: genai.TypeBoolean, Description: "True if the input is a valid country, otherwise false."},
		"countryName": {Type: genai.TypeString, Description: "The standardized English name of the country if valid, otherwise an empty string."},
	},
}

func countryContents(text string) string {
	return fmt.Sprintf("Is %q a valid country?", text)
}

func coachingContents(history []domain.Message) string {
	return "Conversation History:\n" + Transcript(CoachingWindow(history)) + "\n"
}

func reportContents(req ReportRequest) string {
	return fmt.Sprintf("The user's original prompt was: %q\n\nConversation Transcript:\n%s\n\nAnalyze the transcript and output a valid JSON object matching the schema.\n",
		req.OriginalPrompt, Transcript(req.Transcript))
}

func reportSchema(req ReportRequest) *genai.Schema {
	satisfaction := req.Satisfaction
	if !satisfaction.Valid() {
		satisfaction = domain.SatisfactionNotProvided
	}
	list := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}, Description: desc}
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"userSatisfaction": {
				Type:        genai.TypeString,
				Enum:        []string{string(domain.Satisfied), string(domain.Unsatisfied), string(domain.SatisfactionNotProvided)},
				Description: fmt.Sprintf("The user's satisfaction. Based on the final user message, determine if they were 'Satisfied' or 'Unsatisfied'. Default to the provided value: %s", satisfaction),
			},
			"aiRefinedPrompt":              {Type: genai.TypeString, Description: "Extract the final 'AI Refined Prompt' the coach proposed. If none, state 'Not generated'."},
			"aiSolution":                   {Type: genai.TypeString, Description: "Extract the final engineering solution provided by the AI coach. If none, state 'Not provided'."},
			"userEmotionalEngagementScore": {Type: genai.TypeInteger, Description: "A score of 1, 2, or 3 based on the scoring criteria."},
			"engagementRationale":          {Type: genai.TypeString, Description: "A brief explanation for the engagement score."},
			"userIntelligenceScore":        {Type: genai.TypeInteger, Description: "A score of 1, 2, or 3 based on the scoring criteria."},
			"intelligenceRationale":        {Type: genai.TypeString, Description: "A brief explanation for the intelligence score."},
			"aiInitiatedRefinements":       {Type: genai.TypeInteger, Description: "Count how many times the AI proposed a 'Refined Prompt'."},
			"userInitiatedRefinements":     {Type: genai.TypeInteger, Description: fmt.Sprintf("The number of times the user provided clarifications. Use the provided value: %d", req.UserRefinements)},
			"satisfactionSurveyInteractions": {
				Type:        genai.TypeInteger,
				Description: fmt.Sprintf("Count of user responses to the satisfaction survey. Use the provided value: %d", req.SurveyInteractions),
			},
			"keyTopics":  list("Up to five short engineering topics discussed in the session."),
			"skillAreas": list("Engineering skill areas the user exercised or should develop."),
			"nextSteps":  list("Concrete next steps the user could take after the session."),
		},
		Required: []string{
			"userSatisfaction", "aiRefinedPrompt", "aiSolution",
			"userEmotionalEngagementScore", "engagementRationale",
			"userIntelligenceScore", "intelligenceRationale",
		},
	}
}
