package models

import "time"

// FlagEntry marks one medication for manual review. Reason is derived at
// flag time, not stored on the Medication itself.
type FlagEntry struct {
	ID           string   `firestore:"id" json:"id"`
	Name         string   `firestore:"name" json:"name"`
	Reason       string   `firestore:"reason" json:"reason"`
	Confidence   *float64 `firestore:"confidence,omitempty" json:"confidence,omitempty"`
	Uncertain    bool     `firestore:"uncertain" json:"uncertain"`
	OriginalText string   `firestore:"originalText,omitempty" json:"originalText,omitempty"`
}

// MedicationSchedule holds the reminder timestamps for one medication.
// Reminders are monotonically non-decreasing. The entry ID keys the
// calendar event map, so it must survive persistence round trips.
type MedicationSchedule struct {
	ID        string      `firestore:"id" json:"id"`
	Med       Medication  `firestore:"med" json:"med"`
	Reminders []time.Time `firestore:"reminders" json:"reminders"`
}

// ChecklistItem is one medication's dose checklist derived from its
// schedule. Taken runs parallel to ScheduledTimes.
type ChecklistItem struct {
	ID             string      `firestore:"id" json:"id"`
	MedName        string      `firestore:"medName" json:"medName"`
	ScheduledTimes []time.Time `firestore:"scheduledTimes" json:"scheduledTimes"`
	Taken          []bool      `firestore:"taken" json:"taken"`
}

// CalendarEventRefs maps a schedule entry ID to the external calendar
// event IDs created for its reminders, keyed by the reminder's position
// within the entry. Only successful inserts have a key, so a later sync
// retries exactly the reminders that failed and never recreates an event
// that already exists.
type CalendarEventRefs struct {
	Events map[string]map[string]string `firestore:"events" json:"events"`
}

// FlagSet is the persisted flags artifact for one prescription.
type FlagSet struct {
	Flags []FlagEntry `firestore:"flags" json:"flags"`
}

// ScheduleSet is the persisted schedule artifact for one prescription.
type ScheduleSet struct {
	Entries []MedicationSchedule `firestore:"entries" json:"entries"`
}

// Checklist is the persisted checklist artifact for one prescription.
type Checklist struct {
	Items []ChecklistItem `firestore:"items" json:"items"`
}

// MedicationSafetyInfo is the structured safety data for one medication
// name, as returned by the AI collaborator.
type MedicationSafetyInfo struct {
	MedicationName     string   `firestore:"medicationName" json:"medicationName"`
	CommonSideEffects  []string `firestore:"commonSideEffects" json:"commonSideEffects"`
	SeriousSideEffects []string `firestore:"seriousSideEffects" json:"seriousSideEffects"`
	Precautions        []string `firestore:"precautions" json:"precautions"`
	FoodInteractions   []string `firestore:"foodInteractions" json:"foodInteractions"`
	DrugInteractions   []string `firestore:"drugInteractions" json:"drugInteractions"`
	Contraindications  []string `firestore:"contraindications" json:"contraindications"`
	WhenToSeekHelp     []string `firestore:"whenToSeekHelp" json:"whenToSeekHelp"`
	GeneralAdvice      []string `firestore:"generalAdvice" json:"generalAdvice"`
}

// SafetyProfile is the prescription-level safety artifact. Once persisted
// for a prescription id it is treated as immutable.
type SafetyProfile struct {
	Medications    []MedicationSafetyInfo `firestore:"medications" json:"medications"`
	GeneralWarning string                 `firestore:"generalWarning" json:"generalWarning"`
}
