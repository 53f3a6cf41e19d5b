package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/exoxegroup/eng-ai/internal/domain"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.5-flash"

// generator is the subset of *genai.Models the adapter calls.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Gemini implements Oracle on top of the Gemini API.
type Gemini struct {
	models generator
	model  string
}

var _ Oracle = (*Gemini)(nil)

// NewGemini creates a client for apiKey. An empty model selects DefaultModel.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: missing API key", ErrUnavailable)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return newGemini(client.Models, model), nil
}

func newGemini(g generator, model string) *Gemini {
	if model == "" {
		model = DefaultModel
	}
	return &Gemini{models: g, model: model}
}

// ValidateCountry asks the model whether text names a country. A valid
// verdict without a name falls back to the trimmed input.
func (g *Gemini) ValidateCountry(ctx context.Context, text string) (CountryVerdict, error) {
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(countryContents(text)), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(countryInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    countrySchema,
	})
	if err != nil {
		return CountryVerdict{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var out struct {
		IsValid     bool   `json:"isValid"`
		CountryName string `json:"countryName"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return CountryVerdict{}, err
	}
	if !out.IsValid {
		return CountryVerdict{}, nil
	}
	name := strings.TrimSpace(out.CountryName)
	if name == "" {
		name = strings.TrimSpace(text)
	}
	return CountryVerdict{Valid: true, Name: name}, nil
}

// StreamCoaching streams the coach reply for history.
func (g *Gemini) StreamCoaching(ctx context.Context, history []domain.Message, onChunk func(string) error) error {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(coachingInstruction, genai.RoleUser),
		ThinkingConfig:    &genai.ThinkingConfig{ThinkingBudget: genai.Ptr[int32](0)},
	}
	for resp, err := range g.models.GenerateContentStream(ctx, g.model, genai.Text(coachingContents(history)), cfg) {
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		chunk := resp.Text()
		if chunk == "" {
			continue
		}
		if err := onChunk(chunk); err != nil {
			return err
		}
	}
	return nil
}

// ExtractReport asks the model for the structured session report.
func (g *Gemini) ExtractReport(ctx context.Context, req ReportRequest) (*ReportDraft, error) {
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(reportContents(req)), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(reportInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    reportSchema(req),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var draft ReportDraft
	if err := decodeJSON(resp, &draft); err != nil {
		return nil, err
	}
	return &draft, nil
}

func decodeJSON(resp *genai.GenerateContentResponse, v any) error {
	if resp == nil {
		return fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}
	raw := strings.TrimSpace(resp.Text())
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(strings.TrimPrefix(raw, "```json"), "```")
		raw = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "```"))
	}
	if raw == "" {
		return fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			log.Debug().Int("offset", int(syn.Offset)).Msg("oracle returned invalid json")
		}
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
