package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/medisnap/prescriptionflow/internal/gcp"
	"github.com/medisnap/prescriptionflow/internal/models"
)

// TextGenerator is the narrow interface onto the AI collaborator: a prompt
// in, the model's raw text out.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Extractor turns raw recognized text into candidate medication records
// plus an optional prescription date.
type Extractor struct {
	ai TextGenerator
}

// NewExtractor creates an Extractor backed by the given model.
func NewExtractor(ai TextGenerator) *Extractor {
	return &Extractor{ai: ai}
}

// extractionPayload is the JSON object the extractor model is asked to return.
type extractionPayload struct {
	Medications []models.Medication `json:"medications"`
	Date        string              `json:"date"`
}

// Extract asks the model for structured medications and tolerantly parses
// the response. The date return value is an ISO date string, or "" when the
// prescription carries no visible date. Confidence values are passed
// through as-is, without range validation.
func (e *Extractor) Extract(ctx context.Context, rawText string) ([]models.Medication, string, error) {
	text, err := e.ai.Generate(ctx, gcp.ExtractorUserPrompt+rawText)
	if err != nil {
		return nil, "", fmt.Errorf("extraction model call failed: %w", err)
	}

	jsonSpan, ok := firstJSONObject(text)
	if !ok {
		slog.Warn("Model output did not contain JSON.", "responsePreview", preview(text))
		return nil, "", fmt.Errorf("extract: %w", ErrNoJSONFound)
	}

	var payload extractionPayload
	if err := json.Unmarshal([]byte(jsonSpan), &payload); err != nil {
		slog.Warn("Failed to decode medications JSON.", "error", err, "responsePreview", preview(jsonSpan))
		return nil, "", fmt.Errorf("extract: %v: %w", err, ErrSchemaMismatch)
	}

	for i := range payload.Medications {
		med := &payload.Medications[i]
		med.Normalize()
		if med.Name == "" {
			return nil, "", fmt.Errorf("extract: medication %d missing name: %w", i, ErrSchemaMismatch)
		}
		if med.ID == "" {
			med.ID = uuid.NewString()
		}
	}

	return payload.Medications, strings.TrimSpace(payload.Date), nil
}

// firstJSONObject locates the first balanced {...} span in text by brace
// depth counting, after stripping markdown code-fence markers.
func firstJSONObject(text string) (string, bool) {
	cleaned := stripCodeFences(text)

	start := -1
	depth := 0
	inString := false
	escaped := false
	for i, r := range cleaned {
		if start >= 0 && inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start < 0 {
				continue
			}
			depth--
			if depth == 0 {
				return cleaned[start : i+1], true
			}
		case '"':
			if start >= 0 {
				inString = true
			}
		}
	}
	return "", false
}

func stripCodeFences(text string) string {
	cleaned := strings.ReplaceAll(text, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	return strings.TrimSpace(cleaned)
}

func preview(text string) string {
	const max = 500
	if len(text) > max {
		return text[:max]
	}
	return text
}
