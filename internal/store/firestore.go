package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"

	"github.com/medisnap/prescriptionflow/internal/models"
)

// FirestoreStore implements Store on top of a Firestore client. Document
// writes use Set, which replaces the document in a single atomic operation.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore wraps an existing Firestore client.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) Save(ctx context.Context, collectionPath, docID string, payload any) error {
	if _, err := s.client.Collection(collectionPath).Doc(docID).Set(ctx, payload); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", collectionPath, docID, err)
	}
	return nil
}

func (s *FirestoreStore) Get(ctx context.Context, collectionPath, docID string, out any) (bool, error) {
	snap, err := s.client.Collection(collectionPath).Doc(docID).Get(ctx)
	if snap != nil && !snap.Exists() {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s/%s: %w", collectionPath, docID, err)
	}
	if err := snap.DataTo(out); err != nil {
		return false, fmt.Errorf("failed to decode %s/%s: %w", collectionPath, docID, err)
	}
	return true, nil
}

func (s *FirestoreStore) ListPrescriptions(ctx context.Context, userID string) ([]models.Prescription, error) {
	docs, err := s.client.Collection(PrescriptionsCollection).
		Where("userId", "==", userID).
		OrderBy("date", firestore.Desc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query prescriptions for user: %w", err)
	}

	prescriptions := make([]models.Prescription, 0, len(docs))
	for _, doc := range docs {
		var p models.Prescription
		if err := doc.DataTo(&p); err != nil {
			return nil, fmt.Errorf("failed to decode prescription %s: %w", doc.Ref.ID, err)
		}
		prescriptions = append(prescriptions, p)
	}
	return prescriptions, nil
}
