package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/exoxegroup/eng-ai/internal/domain"
	"github.com/exoxegroup/eng-ai/internal/oracle"
	"github.com/exoxegroup/eng-ai/internal/topics"
)

// ReportInput is what the synthesizer needs from a finished conversation.
// Satisfaction, UserRefinements and SurveyInteractions are tracked by the
// state machine and win over anything the oracle reports.
type ReportInput struct {
	Transcript         []domain.Message
	OriginalPrompt     string
	Satisfaction       domain.Satisfaction
	UserRefinements    int
	SurveyInteractions int
}

// Report is a validated session report ready to be merged onto a Session.
type Report struct {
	Satisfaction                   domain.Satisfaction
	AIRefinedPrompt                string
	AISolution                     string
	EngagementScore                int
	EngagementRationale            string
	IntelligenceScore              int
	IntelligenceRationale          string
	AIInitiatedRefinements         int
	UserInitiatedRefinements       int
	SatisfactionSurveyInteractions int
	KeyTopics                      []string
	SkillAreas                     []string
	NextSteps                      []string
}

// Apply merges r onto s. Write-once fields already present on s are kept.
func (r *Report) Apply(s *domain.Session) {
	s.UserSatisfaction = r.Satisfaction
	if s.AIRefinedPrompt == nil {
		s.AIRefinedPrompt = ptr(r.AIRefinedPrompt)
	}
	if s.AISolution == nil {
		s.AISolution = ptr(r.AISolution)
	}
	s.EngagementScore = ptr(r.EngagementScore)
	s.EngagementRationale = ptr(r.EngagementRationale)
	s.IntelligenceScore = ptr(r.IntelligenceScore)
	s.IntelligenceRationale = ptr(r.IntelligenceRationale)
	s.AIInitiatedRefinements = r.AIInitiatedRefinements
	s.UserInitiatedRefinements = r.UserInitiatedRefinements
	s.SatisfactionSurveyInteractions = r.SatisfactionSurveyInteractions
	s.KeyTopics = r.KeyTopics
	s.SkillAreas = r.SkillAreas
	s.NextSteps = r.NextSteps
}

// ReportSynthesizer turns a finished conversation into a Report with a
// single oracle call.
type ReportSynthesizer struct {
	Oracle oracle.Oracle
	// Topics fills KeyTopics locally when the oracle returns none.
	Topics *topics.Extractor
}

// NewReportSynthesizer returns a synthesizer using the default topic
// extractor.
func NewReportSynthesizer(o oracle.Oracle) *ReportSynthesizer {
	return &ReportSynthesizer{Oracle: o, Topics: topics.New()}
}

// Synthesize calls the oracle and validates its answer. Every failure is
// returned as ErrReportGeneration wrapping ErrOracleUnavailable or
// ErrOracleMalformedResponse.
func (r *ReportSynthesizer) Synthesize(ctx context.Context, in ReportInput) (*Report, error) {
	tr := otel.Tracer("services/ReportSynthesizer")
	ctx, span := tr.Start(ctx, "Synthesize",
		trace.WithAttributes(
			attribute.Int("transcript.len", len(in.Transcript)),
			attribute.String("satisfaction", string(in.Satisfaction)),
		),
	)
	defer span.End()

	if !in.Satisfaction.Valid() {
		in.Satisfaction = domain.SatisfactionNotProvided
	}
	if r == nil || r.Oracle == nil {
		return nil, fmt.Errorf("%w: %w", ErrReportGeneration, ErrOracleUnavailable)
	}

	draft, err := r.Oracle.ExtractReport(ctx, oracle.ReportRequest{
		OriginalPrompt:     in.OriginalPrompt,
		Transcript:         in.Transcript,
		Satisfaction:       in.Satisfaction,
		UserRefinements:    in.UserRefinements,
		SurveyInteractions: in.SurveyInteractions,
	})
	if err == nil && draft == nil {
		err = fmt.Errorf("%w: empty report", ErrOracleMalformedResponse)
	}
	var rep *Report
	if err == nil {
		rep, err = r.validate(draft, in)
	}
	oracleCalls.WithLabelValues("report", oracleResult(err)).Inc()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", ErrReportGeneration, err)
	}
	return rep, nil
}

func (r *ReportSynthesizer) validate(d *oracle.ReportDraft, in ReportInput) (*Report, error) {
	sat := in.Satisfaction
	if v := strings.TrimSpace(d.UserSatisfaction); v != "" {
		sat = domain.Satisfaction(v)
		if !sat.Valid() {
			return nil, fmt.Errorf("%w: satisfaction %q", ErrOracleMalformedResponse, v)
		}
	}
	if !validScore(d.EngagementScore) {
		return nil, fmt.Errorf("%w: engagement score %d", ErrOracleMalformedResponse, d.EngagementScore)
	}
	if !validScore(d.IntelligenceScore) {
		return nil, fmt.Errorf("%w: intelligence score %d", ErrOracleMalformedResponse, d.IntelligenceScore)
	}

	rep := &Report{
		Satisfaction:                   sat,
		AIRefinedPrompt:                orDefault(d.AIRefinedPrompt, domain.RefinedPromptNotGenerated),
		AISolution:                     orDefault(d.AISolution, domain.SolutionNotProvided),
		EngagementScore:                d.EngagementScore,
		EngagementRationale:            strings.TrimSpace(d.EngagementRationale),
		IntelligenceScore:              d.IntelligenceScore,
		IntelligenceRationale:          strings.TrimSpace(d.IntelligenceRationale),
		AIInitiatedRefinements:         max(d.AIInitiatedRefinements, 0),
		UserInitiatedRefinements:       in.UserRefinements,
		SatisfactionSurveyInteractions: in.SurveyInteractions,
		KeyTopics:                      cleanList(d.KeyTopics),
		SkillAreas:                     cleanList(d.SkillAreas),
		NextSteps:                      cleanList(d.NextSteps),
	}
	if len(rep.KeyTopics) == 0 && r.Topics != nil {
		rep.KeyTopics = r.Topics.Extract(topicTexts(in)...)
	}
	return rep, nil
}

// topicTexts is the conversation text with the fixed survey line removed,
// so it cannot dominate the counts.
func topicTexts(in ReportInput) []string {
	out := make([]string, 0, len(in.Transcript)+1)
	if in.OriginalPrompt != "" {
		out = append(out, in.OriginalPrompt)
	}
	for _, m := range in.Transcript {
		if m.Content == domain.GreetingText || m.Content == domain.ProblemPromptText {
			continue
		}
		out = append(out, strings.ReplaceAll(m.Content, domain.SatisfactionQuestion, ""))
	}
	return out
}

func validScore(v int) bool { return v >= 1 && v <= 3 }

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}

func cleanList(in []string) []string {
	var out []string
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func isMalformed(err error) bool { return errors.Is(err, ErrOracleMalformedResponse) }

func ptr[T any](v T) *T { return &v }
