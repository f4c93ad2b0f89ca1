package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusRankOrdering(t *testing.T) {
	ordered := []string{StatusExtracted, StatusScheduled, StatusCalendarAdded, StatusSafetyAnalyzed, StatusCompleted}
	for i := 1; i < len(ordered); i++ {
		assert.Greater(t, StatusRank(ordered[i]), StatusRank(ordered[i-1]),
			"%s ranks above %s", ordered[i], ordered[i-1])
	}
	assert.Zero(t, StatusRank(""))
	assert.Zero(t, StatusRank("bogus"))
	assert.Less(t, StatusRank(""), StatusRank(StatusExtracted))
}

func TestMedicationNormalize(t *testing.T) {
	m := Medication{
		Name:      "  Amoxicillin\n",
		Dosage:    " 500mg ",
		Frequency: "\ttwice daily",
	}
	m.Normalize()
	assert.Equal(t, "Amoxicillin", m.Name)
	assert.Equal(t, "500mg", m.Dosage)
	assert.Equal(t, "twice daily", m.Frequency)
	assert.Empty(t, m.Route)
}
