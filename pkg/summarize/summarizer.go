// Package summarize is the consumer of aggregated prescription data. It
// builds doctor-facing prompts from a patient's full record history and asks
// a text completion model for a summary or a treatment suggestion.
package summarize

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/sukeesh/drcopilot/pkg/aggregate"
	cerrors "github.com/sukeesh/drcopilot/pkg/common/errors"
	"github.com/sukeesh/drcopilot/pkg/record"
)

const (
	defaultModel = "gemini-2.0-flash"

	// requestTimeout bounds one completion call.
	requestTimeout = 30 * time.Second
)

// Summarizer turns aggregated records into natural-language output.
type Summarizer struct {
	client        *genai.Client
	summaryPrompt *Prompt
	suggestPrompt *Prompt
}

// New creates a Summarizer. promptDir must contain summarize_patient.prompt
// and suggest_treatment.prompt.
func New(ctx context.Context, apiKey, promptDir string) (*Summarizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not found")
	}

	summaryPrompt, err := LoadPrompt(filepath.Join(promptDir, "summarize_patient.prompt"))
	if err != nil {
		return nil, fmt.Errorf("load summary prompt: %w", err)
	}
	suggestPrompt, err := LoadPrompt(filepath.Join(promptDir, "suggest_treatment.prompt"))
	if err != nil {
		return nil, fmt.Errorf("load suggestion prompt: %w", err)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Summarizer{
		client:        client,
		summaryPrompt: summaryPrompt,
		suggestPrompt: suggestPrompt,
	}, nil
}

// Close releases the underlying connection.
func (s *Summarizer) Close() error {
	return s.client.Close()
}

// Summarize produces a history summary for a patient from their records.
// A patient with no records is a normal state surfaced as ErrNotFound so the
// caller can present "no records" instead of a summary.
func (s *Summarizer) Summarize(ctx context.Context, patientID string, records []record.PrescriptionRecord) (string, error) {
	if len(records) == 0 {
		return "", fmt.Errorf("no prescriptions recorded for patient %q: %w", patientID, cerrors.ErrNotFound)
	}

	promptStr, err := s.summaryPrompt.Execute(map[string]any{
		"Patient": patientID,
		"Records": aggregate.RenderPromptText(records),
	})
	if err != nil {
		return "", err
	}
	return s.generate(ctx, s.summaryPrompt, promptStr)
}

// Suggest asks for possible causes and drug suggestions for a current
// complaint, given the patient's history.
func (s *Summarizer) Suggest(ctx context.Context, patientID, complaint string, records []record.PrescriptionRecord) (string, error) {
	if strings.TrimSpace(complaint) == "" {
		return "", fmt.Errorf("empty complaint: %w", cerrors.ErrInvalidInput)
	}
	if len(records) == 0 {
		return "", fmt.Errorf("no prescriptions recorded for patient %q: %w", patientID, cerrors.ErrNotFound)
	}

	promptStr, err := s.suggestPrompt.Execute(map[string]any{
		"Patient":   patientID,
		"Records":   aggregate.RenderPromptText(records),
		"Complaint": complaint,
	})
	if err != nil {
		return "", err
	}
	return s.generate(ctx, s.suggestPrompt, promptStr)
}

func (s *Summarizer) generate(ctx context.Context, p *Prompt, promptStr string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	modelName := p.Config.Model
	if modelName == "" {
		modelName = defaultModel
	}
	model := s.client.GenerativeModel(modelName)
	model.SetTemperature(p.Config.Temperature)

	resp, err := model.GenerateContent(ctx, genai.Text(promptStr))
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no response from model")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
