// Package oracle adapts the language model behind the coaching conversation.
// Three calls are exposed: country validation, the streamed coaching reply and
// the structured session report. Every call is fallible; callers decide the
// fallback.
package oracle

import (
	"context"
	"errors"
	"strings"

	"github.com/exoxegroup/eng-ai/internal/domain"
)

var (
	// ErrUnavailable means the model could not be reached or refused the call.
	ErrUnavailable = errors.New("oracle unavailable")
	// ErrMalformedResponse means the model answered with something unusable.
	ErrMalformedResponse = errors.New("oracle malformed response")
)

// CountryVerdict is the outcome of a country validation call.
type CountryVerdict struct {
	Valid bool
	// Name is the standardized country name. Empty when Valid is false.
	Name string
}

// ReportRequest carries everything the report call needs.
type ReportRequest struct {
	OriginalPrompt     string
	Transcript         []domain.Message
	Satisfaction       domain.Satisfaction
	UserRefinements    int
	SurveyInteractions int
}

// ReportDraft is the raw report as the model returned it.
type ReportDraft struct {
	UserSatisfaction               string   `json:"userSatisfaction"`
	AIRefinedPrompt                string   `json:"aiRefinedPrompt"`
	AISolution                     string   `json:"aiSolution"`
	EngagementScore                int      `json:"userEmotionalEngagementScore"`
	EngagementRationale            string   `json:"engagementRationale"`
	IntelligenceScore              int      `json:"userIntelligenceScore"`
	IntelligenceRationale          string   `json:"intelligenceRationale"`
	AIInitiatedRefinements         int      `json:"aiInitiatedRefinements"`
	UserInitiatedRefinements       int      `json:"userInitiatedRefinements"`
	SatisfactionSurveyInteractions int      `json:"satisfactionSurveyInteractions"`
	KeyTopics                      []string `json:"keyTopics"`
	SkillAreas                     []string `json:"skillAreas"`
	NextSteps                      []string `json:"nextSteps"`
}

// Oracle is the set of model calls the conversation needs.
type Oracle interface {
	ValidateCountry(ctx context.Context, text string) (CountryVerdict, error)
	// StreamCoaching produces the coach reply for history, handing each
	// partial chunk to onChunk in order. A non-nil error from onChunk aborts
	// the stream.
	StreamCoaching(ctx context.Context, history []domain.Message, onChunk func(string) error) error
	ExtractReport(ctx context.Context, req ReportRequest) (*ReportDraft, error)
}

// CoachingWindow returns the part of history the coach sees: everything
// after the problem-elicitation prompt, or everything after the greeting
// when that prompt is absent.
func CoachingWindow(history []domain.Message) []domain.Message {
	start := 1
	for i, m := range history {
		if m.Role == domain.RoleAssistant && strings.Contains(m.Content, domain.ProblemPromptText) {
			start = i + 1
			break
		}
	}
	if start > len(history) {
		return nil
	}
	return history[start:]
}

// Transcript renders messages as "AI Coach: ..." and "User: ..." lines.
func Transcript(msgs []domain.Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		if m.Role == domain.RoleAssistant {
			b.WriteString("AI Coach: ")
		} else {
			b.WriteString("User: ")
		}
		b.WriteString(m.Content)
	}
	return b.String()
}

// Offline stands in when no model is configured. Every call fails with
// ErrUnavailable, so conversations follow their unavailable-oracle paths.
type Offline struct{}

var _ Oracle = Offline{}

func (Offline) ValidateCountry(context.Context, string) (CountryVerdict, error) {
	return CountryVerdict{}, ErrUnavailable
}

func (Offline) StreamCoaching(context.Context, []domain.Message, func(string) error) error {
	return ErrUnavailable
}

func (Offline) ExtractReport(context.Context, ReportRequest) (*ReportDraft, error) {
	return nil, ErrUnavailable
}
