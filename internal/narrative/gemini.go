package narrative

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"meetprep/internal/models"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("model returned no text")

const systemInstruction = `You are an executive assistant preparing a busy professional for an upcoming meeting.
Write a concise, factual brief using only the information provided. Do not invent facts.`

// contentGenerator is the part of the genai client used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini writes narrative briefs with a Gemini model.
type Gemini struct {
	content contentGenerator
	model   string
	logger  *slog.Logger
}

// NewGemini creates a generator backed by the Gemini API.
func NewGemini(ctx context.Context, logger *slog.Logger, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return newGemini(client.Models, model, logger), nil
}

func newGemini(content contentGenerator, model string, logger *slog.Logger) *Gemini {
	if model == "" {
		model = DefaultModel
	}
	return &Gemini{content: content, model: model, logger: logger}
}

// Generate returns a narrative brief for the record.
func (g *Gemini) Generate(ctx context.Context, record *models.MeetingPrepRecord) (string, error) {
	prompt := BuildPrompt(record)
	g.logger.Debug("Requesting narrative brief", "model", g.model, "eventTitle", record.Event.Title, "promptChars", len(prompt))

	resp, err := g.content.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.3),
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate brief for %q: %w", record.Event.Title, err)
	}

	text := cleanText(responseText(resp))
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// cleanText removes a surrounding markdown code fence if present.
func cleanText(input string) string {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "```") {
		input = strings.TrimPrefix(input, "```markdown")
		input = strings.TrimPrefix(input, "```text")
		input = strings.TrimPrefix(input, "```")
		input = strings.TrimSuffix(input, "```")
	}
	return strings.TrimSpace(input)
}
