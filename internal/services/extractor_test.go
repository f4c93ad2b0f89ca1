package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGenerator is a TextGenerator backed by a function field, shared by
// the extractor, safety, and orchestrator tests.
type fakeGenerator struct {
	mu         sync.Mutex
	calls      int
	GenerateFn func(ctx context.Context, prompt string) (string, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return g.GenerateFn(ctx, prompt)
}

func (g *fakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestExtract(t *testing.T) {
	testCases := []struct {
		name      string
		response  string
		wantErr   error
		wantMeds  int
		wantDate  string
		wantFirst string
	}{
		{
			name: "clean json",
			response: `{"medications": [{"name": "Amoxicillin", "dosage": "500mg", "frequency": "twice daily", "confidence": 0.95}],
				"date": "2025-03-14"}`,
			wantMeds:  1,
			wantDate:  "2025-03-14",
			wantFirst: "Amoxicillin",
		},
		{
			name: "markdown fenced json",
			response: "Here is the extraction:\n```json\n" +
				`{"medications": [{"name": "Ibuprofen"}, {"name": "Paracetamol"}], "date": ""}` +
				"\n```\nLet me know if you need anything else.",
			wantMeds:  2,
			wantDate:  "",
			wantFirst: "Ibuprofen",
		},
		{
			name:      "json embedded in prose",
			response:  `The prescription contains: {"medications": [{"name": "Metformin", "frequency": "2x daily"}]} as requested.`,
			wantMeds:  1,
			wantFirst: "Metformin",
		},
		{
			name:      "whitespace-padded name is trimmed",
			response:  `{"medications": [{"name": "  Lisinopril  ", "dosage": " 10mg "}]}`,
			wantMeds:  1,
			wantFirst: "Lisinopril",
		},
		{
			name:     "no json at all",
			response: "I could not read any medications from this image.",
			wantErr:  ErrNoJSONFound,
		},
		{
			name:     "medications is not an array",
			response: `{"medications": "Amoxicillin 500mg"}`,
			wantErr:  ErrSchemaMismatch,
		},
		{
			name:     "medication missing name",
			response: `{"medications": [{"dosage": "500mg"}]}`,
			wantErr:  ErrSchemaMismatch,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &fakeGenerator{GenerateFn: func(ctx context.Context, prompt string) (string, error) {
				return tc.response, nil
			}}
			meds, date, err := NewExtractor(gen).Extract(context.Background(), "OCR TEXT")

			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, meds, tc.wantMeds)
			assert.Equal(t, tc.wantDate, date)
			assert.Equal(t, tc.wantFirst, meds[0].Name)
			for _, med := range meds {
				assert.NotEmpty(t, med.ID, "every medication gets an id")
			}
		})
	}
}

func TestExtractModelFailure(t *testing.T) {
	modelErr := errors.New("model unavailable")
	gen := &fakeGenerator{GenerateFn: func(ctx context.Context, prompt string) (string, error) {
		return "", modelErr
	}}
	_, _, err := NewExtractor(gen).Extract(context.Background(), "OCR TEXT")
	require.ErrorIs(t, err, modelErr)
}

func TestExtractPassesConfidenceThrough(t *testing.T) {
	// Out-of-range confidences are preserved, not clamped.
	gen := &fakeGenerator{GenerateFn: func(ctx context.Context, prompt string) (string, error) {
		return `{"medications": [{"name": "Aspirin", "confidence": 1.7}, {"name": "Codeine"}]}`, nil
	}}
	meds, _, err := NewExtractor(gen).Extract(context.Background(), "OCR TEXT")
	require.NoError(t, err)
	require.Len(t, meds, 2)
	require.NotNil(t, meds[0].Confidence)
	assert.Equal(t, 1.7, *meds[0].Confidence)
	assert.Nil(t, meds[1].Confidence, "absent confidence stays absent")
}

func TestFirstJSONObject(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{name: "nested objects", in: `x {"a": {"b": 1}} y`, want: `{"a": {"b": 1}}`, ok: true},
		{name: "braces inside strings", in: `{"a": "}{"}`, want: `{"a": "}{"}`, ok: true},
		{name: "escaped quote inside string", in: `{"a": "say \"}\" loudly"}`, want: `{"a": "say \"}\" loudly"}`, ok: true},
		{name: "unbalanced", in: `{"a": 1`, ok: false},
		{name: "empty", in: "", ok: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := firstJSONObject(tc.in)
			require.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
