package models

import (
	"strings"
	"time"
)

// Medication is a single extracted medication record. Optional free-text
// fields hold "" when absent; Confidence is nil when the extractor did not
// supply one. Confidence values are stored as returned by the model and are
// not clamped to [0,1].
type Medication struct {
	ID           string   `firestore:"id" json:"id,omitempty"`
	Name         string   `firestore:"name" json:"name"`
	Dosage       string   `firestore:"dosage,omitempty" json:"dosage,omitempty"`
	Frequency    string   `firestore:"frequency,omitempty" json:"frequency,omitempty"`
	Duration     string   `firestore:"duration,omitempty" json:"duration,omitempty"`
	Route        string   `firestore:"route,omitempty" json:"route,omitempty"`
	OriginalText string   `firestore:"originalText,omitempty" json:"originalText,omitempty"`
	Confidence   *float64 `firestore:"confidence,omitempty" json:"confidence,omitempty"`
	Uncertain    bool     `firestore:"uncertain" json:"uncertain"`
}

// Normalize converts empty-string optional fields into their absent form
// and trims surrounding whitespace the OCR tends to leave behind.
func (m *Medication) Normalize() {
	m.Name = strings.TrimSpace(m.Name)
	m.Dosage = strings.TrimSpace(m.Dosage)
	m.Frequency = strings.TrimSpace(m.Frequency)
	m.Duration = strings.TrimSpace(m.Duration)
	m.Route = strings.TrimSpace(m.Route)
	m.OriginalText = strings.TrimSpace(m.OriginalText)
}

// Prescription is the main record for one scanned prescription in Firestore.
// Medications are frozen for the duration of a pipeline run.
type Prescription struct {
	ID          string       `firestore:"id" json:"id"`
	Date        time.Time    `firestore:"date" json:"date"`
	Medications []Medication `firestore:"medications" json:"medications"`
	UserID      string       `firestore:"userId,omitempty" json:"userId,omitempty"`
	ScanHash    string       `firestore:"scanHash,omitempty" json:"scanHash,omitempty"`
	Status      string       `firestore:"status,omitempty" json:"status,omitempty"`
	CreatedAt   time.Time    `firestore:"createdAt,omitempty" json:"createdAt,omitempty"`
	LastUpdated time.Time    `firestore:"lastUpdated,omitempty" json:"lastUpdated,omitempty"`
}

// Coarse processing status persisted on the Prescription document.
const (
	StatusExtracted      = "extracted"
	StatusScheduled      = "scheduled"
	StatusCalendarAdded  = "calendar_added"
	StatusSafetyAnalyzed = "safety_analyzed"
	StatusCompleted      = "completed"
)

var statusRanks = map[string]int{
	StatusExtracted:      1,
	StatusScheduled:      2,
	StatusCalendarAdded:  3,
	StatusSafetyAnalyzed: 4,
	StatusCompleted:      5,
}

// StatusRank orders the coarse processing statuses. Unknown or empty
// statuses rank below "extracted".
func StatusRank(status string) int {
	return statusRanks[status]
}
