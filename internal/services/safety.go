package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/medisnap/prescriptionflow/internal/gcp"
	"github.com/medisnap/prescriptionflow/internal/models"
	"github.com/medisnap/prescriptionflow/internal/store"
)

// SafetyAnalyzer turns a medication list into a structured safety profile
// through the AI collaborator, with a read-through cache in the
// persistence gateway. Profiles are immutable once generated for a
// prescription id, so there is no invalidation.
type SafetyAnalyzer struct {
	ai TextGenerator
	db store.Store
}

// NewSafetyAnalyzer creates a SafetyAnalyzer.
func NewSafetyAnalyzer(ai TextGenerator, db store.Store) *SafetyAnalyzer {
	return &SafetyAnalyzer{ai: ai, db: db}
}

// CachedProfile returns the previously persisted profile for a
// prescription, if any.
func (a *SafetyAnalyzer) CachedProfile(ctx context.Context, prescriptionID string) (*models.SafetyProfile, bool, error) {
	var profile models.SafetyProfile
	found, err := a.db.Get(ctx, store.SubCollection(prescriptionID, store.SafetyCollection), store.ArtifactDocID, &profile)
	if err != nil {
		return nil, false, fmt.Errorf("safety cache lookup failed: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	return &profile, true, nil
}

// Analyze returns the safety profile for the given medication names,
// serving from cache when one exists for the prescription and never
// re-invoking the model for a cached prescription id.
func (a *SafetyAnalyzer) Analyze(ctx context.Context, prescriptionID string, medNames []string) (*models.SafetyProfile, error) {
	if cached, found, err := a.CachedProfile(ctx, prescriptionID); err != nil {
		return nil, err
	} else if found {
		slog.Info("Serving safety profile from cache.", "prescriptionId", prescriptionID)
		return cached, nil
	}

	names := dedupeNames(medNames)
	if len(names) == 0 {
		return nil, fmt.Errorf("safety: no medication names to analyze: %w", ErrEmptySafetyResult)
	}

	text, err := a.ai.Generate(ctx, gcp.SafetyUserPrompt+"- "+strings.Join(names, "\n- "))
	if err != nil {
		return nil, fmt.Errorf("safety model call failed: %w", err)
	}

	jsonSpan, ok := firstJSONObject(text)
	if !ok {
		slog.Warn("Safety response did not contain JSON.", "responsePreview", preview(text))
		return nil, fmt.Errorf("safety: %w", ErrNoJSONFound)
	}

	var profile models.SafetyProfile
	if err := json.Unmarshal([]byte(jsonSpan), &profile); err != nil {
		slog.Warn("Failed to decode safety JSON.", "error", err, "responsePreview", preview(jsonSpan))
		return nil, fmt.Errorf("safety: %v: %w", err, ErrSchemaMismatch)
	}
	if len(profile.Medications) == 0 {
		return nil, fmt.Errorf("safety: %w", ErrEmptySafetyResult)
	}

	// Read-through: persist immediately so a re-run never pays for a
	// second model call. A failed cache write is logged, not fatal.
	if err := a.db.Save(ctx, store.SubCollection(prescriptionID, store.SafetyCollection), store.ArtifactDocID, &profile); err != nil {
		slog.Warn("Failed to cache safety profile.", "prescriptionId", prescriptionID, "error", err)
	}
	return &profile, nil
}

// dedupeNames removes case-insensitive duplicates, keeping first
// occurrences in order.
func dedupeNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, name)
	}
	return out
}
