package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/medisnap/prescriptionflow/internal/models"
)

// MemoryStore is an in-memory Store for tests and local runs. Documents are
// kept as JSON so reads return copies, never aliases of stored values.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte

	// SaveErr, when set, makes Save fail for the matching collection path.
	SaveErr map[string]error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func key(collectionPath, docID string) string {
	return collectionPath + "#" + docID
}

func (s *MemoryStore) Save(ctx context.Context, collectionPath, docID string, payload any) error {
	if err := s.SaveErr[collectionPath]; err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collectionPath, docID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[key(collectionPath, docID)] = data
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, collectionPath, docID string, out any) (bool, error) {
	s.mu.RLock()
	data, ok := s.docs[key(collectionPath, docID)]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to decode %s/%s: %w", collectionPath, docID, err)
	}
	return true, nil
}

func (s *MemoryStore) ListPrescriptions(ctx context.Context, userID string) ([]models.Prescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var prescriptions []models.Prescription
	for k, data := range s.docs {
		if len(k) < len(PrescriptionsCollection)+1 || k[:len(PrescriptionsCollection)+1] != PrescriptionsCollection+"#" {
			continue
		}
		var p models.Prescription
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to decode prescription %s: %w", k, err)
		}
		if p.UserID == userID {
			prescriptions = append(prescriptions, p)
		}
	}
	sort.Slice(prescriptions, func(i, j int) bool {
		return prescriptions[i].Date.After(prescriptions[j].Date)
	})
	return prescriptions, nil
}
