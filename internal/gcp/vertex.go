package gcp

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// --- Extractor Model Prompt ---
const ExtractorSystemPrompt = "You are a JSON extractor for medical prescriptions. You parse noisy OCR text and return structured medication data. Return JSON only, with no commentary."
const ExtractorUserPrompt = `From the prescription text below, return a single JSON object with two keys:

"medications": an array of medication objects. Each object must have these fields:
  name (string), dosage (string or empty), frequency (string or empty),
  duration (string or empty), route (string or empty),
  originalText (string, the source snippet), confidence (number 0.0-1.0),
  uncertain (boolean, true when the handwriting or OCR is ambiguous).
"date": the prescription date as "YYYY-MM-DD", or an empty string if none is visible.

Prescription text:
`

// --- Safety Model Prompt ---
const SafetySystemPrompt = "You are a medication safety reference. You return structured safety information for a list of medications. Return JSON only, with no commentary. This is general reference information, not medical advice."
const SafetyUserPrompt = `For each medication name listed below, return safety information. Respond with a single JSON object with two keys:

"medications": an array with one object per medication, each with these fields,
  every one an array of short strings except medicationName:
  medicationName (string), commonSideEffects, seriousSideEffects, precautions,
  foodInteractions, drugInteractions, contraindications, whenToSeekHelp,
  generalAdvice.
"generalWarning": one short string advising the patient to confirm everything
  with their pharmacist or doctor.

Medication names:
`

// VertexClient holds the pre-configured generative models for the pipeline.
type VertexClient struct {
	ExtractorModel *genai.GenerativeModel
	SafetyModel    *genai.GenerativeModel
	baseClient     *genai.Client
}

// NewVertexClient creates a new client holding both models.
func NewVertexClient(ctx context.Context, projectID, region string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	// Both models are forced to JSON output with zero temperature so the
	// downstream brace-depth scan almost never has work to do.
	extractorModel := baseClient.GenerativeModel("gemini-1.5-pro")
	extractorModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ExtractorSystemPrompt)},
	}
	extractorModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}

	safetyModel := baseClient.GenerativeModel("gemini-1.5-pro")
	safetyModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(SafetySystemPrompt)},
	}
	safetyModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	// Safety lookups describe overdose and interaction dangers, which the
	// default thresholds occasionally block.
	safetyModel.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
	}

	return &VertexClient{
		ExtractorModel: extractorModel,
		SafetyModel:    safetyModel,
		baseClient:     baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// ModelGenerator adapts a single generative model to the plain
// prompt-in/text-out shape the services consume.
type ModelGenerator struct {
	model *genai.GenerativeModel
}

// Extractor returns the medication-extraction model as a text generator.
func (c *VertexClient) Extractor() *ModelGenerator {
	return &ModelGenerator{model: c.ExtractorModel}
}

// Safety returns the safety-lookup model as a text generator.
func (c *VertexClient) Safety() *ModelGenerator {
	return &ModelGenerator{model: c.SafetyModel}
}

// Generate runs the model on prompt and concatenates all text parts of the
// first candidate.
func (g *ModelGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String(), nil
}
