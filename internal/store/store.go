package store

import (
	"context"
	"errors"

	"github.com/medisnap/prescriptionflow/internal/models"
)

// ErrNotFound is returned when a required document does not exist.
var ErrNotFound = errors.New("document not found")

// Store is the persistence gateway: keyed, namespaced document storage with
// per-document atomic writes. Collection paths are slash-separated, e.g.
// "prescriptions/<id>/schedule".
type Store interface {
	// Save writes payload as the full content of the document, replacing
	// any previous content atomically.
	Save(ctx context.Context, collectionPath, docID string, payload any) error

	// Get reads the document into out. It reports false with a nil error
	// when the document does not exist.
	Get(ctx context.Context, collectionPath, docID string, out any) (bool, error)

	// ListPrescriptions returns a user's prescriptions, newest first.
	ListPrescriptions(ctx context.Context, userID string) ([]models.Prescription, error)
}

// Document layout under the root prescriptions collection. Each derived
// artifact lives in its own sub-collection holding a single document.
const (
	PrescriptionsCollection = "prescriptions"
	ScheduleCollection      = "schedule"
	SafetyCollection        = "safety"
	CalendarCollection      = "calendarEvents"
	FlagsCollection         = "flags"
	ChecklistCollection     = "checklist"

	// ArtifactDocID keys the single document inside each sub-collection.
	ArtifactDocID = "current"
)

// SubCollection builds the path of a prescription's artifact sub-collection.
func SubCollection(prescriptionID, name string) string {
	return PrescriptionsCollection + "/" + prescriptionID + "/" + name
}
