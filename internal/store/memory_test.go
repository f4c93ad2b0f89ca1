package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medisnap/prescriptionflow/internal/models"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var missing models.FlagSet
	found, err := s.Get(ctx, SubCollection("rx-1", FlagsCollection), ArtifactDocID, &missing)
	require.NoError(t, err)
	assert.False(t, found)

	in := models.FlagSet{Flags: []models.FlagEntry{{ID: "f1", Name: "Warfarin", Reason: "high-risk"}}}
	require.NoError(t, s.Save(ctx, SubCollection("rx-1", FlagsCollection), ArtifactDocID, &in))

	var out models.FlagSet
	found, err = s.Get(ctx, SubCollection("rx-1", FlagsCollection), ArtifactDocID, &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, out.Flags, 1)
	assert.Equal(t, "Warfarin", out.Flags[0].Name)

	// Reads return copies, not aliases of the stored value.
	out.Flags[0].Name = "mutated"
	var again models.FlagSet
	_, err = s.Get(ctx, SubCollection("rx-1", FlagsCollection), ArtifactDocID, &again)
	require.NoError(t, err)
	assert.Equal(t, "Warfarin", again.Flags[0].Name)
}

func TestMemoryStoreSaveErr(t *testing.T) {
	s := NewMemoryStore()
	path := SubCollection("rx-1", ScheduleCollection)
	s.SaveErr = map[string]error{path: assert.AnError}

	err := s.Save(context.Background(), path, ArtifactDocID, &models.ScheduleSet{})
	require.ErrorIs(t, err, assert.AnError)

	// Other paths are unaffected.
	require.NoError(t, s.Save(context.Background(), PrescriptionsCollection, "rx-1", &models.Prescription{ID: "rx-1"}))
}

func TestMemoryStoreListPrescriptions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	older := models.Prescription{ID: "rx-old", UserID: "user-1", Date: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	newer := models.Prescription{ID: "rx-new", UserID: "user-1", Date: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	other := models.Prescription{ID: "rx-other", UserID: "user-2", Date: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	for _, p := range []models.Prescription{older, newer, other} {
		require.NoError(t, s.Save(ctx, PrescriptionsCollection, p.ID, &p))
	}

	list, err := s.ListPrescriptions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "rx-new", list[0].ID, "newest first")
	assert.Equal(t, "rx-old", list[1].ID)

	empty, err := s.ListPrescriptions(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSubCollection(t *testing.T) {
	assert.Equal(t, "prescriptions/rx-1/schedule", SubCollection("rx-1", ScheduleCollection))
	assert.Equal(t, "prescriptions/rx-1/safety", SubCollection("rx-1", SafetyCollection))
}
