// Package extract adapts the external vision extraction service. One call
// sends a prescription image to a multimodal Gemini model with a fixed
// instruction and returns the generated text. Failures carry the status and
// response body so the pipeline can log and skip the image.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	cerrors "github.com/sukeesh/drcopilot/pkg/common/errors"
)

const (
	// instruction is sent with every image. The JSON shape keeps downstream
	// parsing deterministic; unparseable replies are still stored as raw text.
	instruction = `Please extract all relevant details from this prescription image ` +
		`including patient name, prescribed drugs, dosage, and any notes. ` +
		`Return a single JSON object with the keys "patient_name", "drugs", ` +
		`"dosage" and "notes". Return ONLY the JSON object.`

	// maxOutputTokens caps the response length per image.
	maxOutputTokens = 512

	defaultModel = "gemini-2.0-flash"

	// callTimeout bounds one extraction call so a stuck request cannot stall
	// the whole batch.
	callTimeout = 60 * time.Second

	maxAttempts = 3
	baseBackoff = 2 * time.Second
)

// Error is a non-success response from the extraction service. The body is
// kept for diagnostics.
type Error struct {
	Code int
	Body string
}

func (e *Error) Error() string {
	return fmt.Sprintf("extraction service returned %d: %s", e.Code, e.Body)
}

func (e *Error) Unwrap() error {
	return cerrors.ErrExtractionFailed
}

// Client calls the external extraction service. It holds one connection for
// the lifetime of the process and is safe for concurrent use.
type Client struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewClient creates an extraction client. An empty model name selects the
// default vision-capable model.
func NewClient(ctx context.Context, apiKey, modelName string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not found")
	}
	if modelName == "" {
		modelName = defaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)
	model.SetMaxOutputTokens(maxOutputTokens)

	return &Client{client: client, model: model}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Extract sends one JPEG image and returns the generated text. Transient
// failures (5xx, timeouts) are retried with backoff; anything else surfaces
// as *Error. An empty reply is returned as-is so the caller can still store
// what was captured.
func (c *Client) Extract(ctx context.Context, imageBytes []byte) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		text, err := c.extractOnce(ctx, imageBytes)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !isTransient(err) {
			return "", err
		}
		if attempt < maxAttempts {
			backoff := baseBackoff * time.Duration(1<<(attempt-1))
			slog.Warn("transient extraction failure, retrying",
				"attempt", attempt, "backoff", backoff, "error", err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", lastErr
}

func (c *Client) extractOnce(ctx context.Context, imageBytes []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := c.model.GenerateContent(ctx,
		genai.Text(instruction),
		genai.ImageData("jpeg", imageBytes),
	)
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			return "", &Error{Code: apiErr.Code, Body: apiErr.Body}
		}
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		// Blocked or empty reply. Surface what we have so the record is not
		// dropped silently.
		return "", nil
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}

	return stripFences(sb.String()), nil
}

// stripFences removes markdown code fences the model sometimes wraps JSON in.
func stripFences(s string) string {
	clean := strings.TrimSpace(s)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	return strings.TrimSpace(clean)
}

// isTransient reports whether an extraction failure is worth retrying.
func isTransient(err error) bool {
	var extErr *Error
	if errors.As(err, &extErr) {
		return extErr.Code >= 500
	}
	return errors.Is(err, context.DeadlineExceeded)
}
