package services

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/medisnap/prescriptionflow/internal/models"
)

// confidenceThreshold is the cutoff below which an extraction confidence
// triggers manual review.
const confidenceThreshold = 0.70

// highRiskNames are medications that always require manual review,
// whatever the extraction confidence.
var highRiskNames = map[string]bool{
	"warfarin":     true,
	"heparin":      true,
	"isotretinoin": true,
}

// FlagUnusualMeds selects medications that need manual review and explains
// why. A medication is selected when its confidence is below threshold or
// absent (absent is conservatively treated as flaggable), when the
// extractor marked it uncertain, or when its name is high-risk.
func FlagUnusualMeds(meds []models.Medication) []models.FlagEntry {
	var flagged []models.FlagEntry
	for _, med := range meds {
		if !needsReview(med) {
			continue
		}

		var reasons []string
		if med.Uncertain {
			reasons = append(reasons, "uncertain")
		}
		if med.Confidence != nil && *med.Confidence < confidenceThreshold {
			reasons = append(reasons, fmt.Sprintf("low confidence (%.2f)", *med.Confidence))
		}
		if highRiskNames[strings.ToLower(med.Name)] {
			reasons = append(reasons, "high-risk")
		}
		reason := "manual review suggested"
		if len(reasons) > 0 {
			reason = strings.Join(reasons, ", ")
		}

		flagged = append(flagged, models.FlagEntry{
			ID:           uuid.NewString(),
			Name:         med.Name,
			Reason:       reason,
			Confidence:   med.Confidence,
			Uncertain:    med.Uncertain,
			OriginalText: med.OriginalText,
		})
	}
	return flagged
}

func needsReview(med models.Medication) bool {
	if med.Confidence == nil || *med.Confidence < confidenceThreshold {
		return true
	}
	return med.Uncertain || highRiskNames[strings.ToLower(med.Name)]
}
