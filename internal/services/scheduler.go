package services

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medisnap/prescriptionflow/internal/models"
)

// BuildSchedule derives one reminder set per medication from its frequency
// text, relative to now. The heuristic is intentionally coarse, a
// placeholder rather than a clinical dosing engine: a frequency mentioning
// "twice" or the digit "2" yields reminders at now+1h and now+12h, anything
// else a single reminder at now+1h. Output order follows the input order,
// and reminders within a medication are non-decreasing.
func BuildSchedule(meds []models.Medication, now time.Time) []models.MedicationSchedule {
	schedule := make([]models.MedicationSchedule, 0, len(meds))
	for _, med := range meds {
		freq := strings.ToLower(med.Frequency)

		var reminders []time.Time
		if strings.Contains(freq, "twice") || strings.Contains(freq, "2") {
			reminders = []time.Time{now.Add(1 * time.Hour), now.Add(12 * time.Hour)}
		} else {
			reminders = []time.Time{now.Add(1 * time.Hour)}
		}

		schedule = append(schedule, models.MedicationSchedule{
			ID:        uuid.NewString(),
			Med:       med,
			Reminders: reminders,
		})
	}
	return schedule
}

// BuildChecklist derives a dose checklist from a schedule, one item per
// medication with all doses initially unchecked.
func BuildChecklist(schedule []models.MedicationSchedule) []models.ChecklistItem {
	checklist := make([]models.ChecklistItem, 0, len(schedule))
	for _, sch := range schedule {
		times := make([]time.Time, len(sch.Reminders))
		copy(times, sch.Reminders)
		checklist = append(checklist, models.ChecklistItem{
			ID:             uuid.NewString(),
			MedName:        sch.Med.Name,
			ScheduledTimes: times,
			Taken:          make([]bool, len(times)),
		})
	}
	return checklist
}
