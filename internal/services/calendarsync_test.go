package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"github.com/medisnap/prescriptionflow/internal/models"
	"github.com/medisnap/prescriptionflow/internal/retry"
)

type fakeTokens struct {
	TokenFn func(ctx context.Context) (string, error)
}

func (f *fakeTokens) Token(ctx context.Context) (string, error) { return f.TokenFn(ctx) }

type fakeInserter struct {
	mu       sync.Mutex
	calls    int
	events   []*calendar.Event
	InsertFn func(call int, event *calendar.Event) (string, error)
}

func (f *fakeInserter) InsertEvent(ctx context.Context, accessToken string, event *calendar.Event) (string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.events = append(f.events, event)
	f.mu.Unlock()
	return f.InsertFn(call, event)
}

func (f *fakeInserter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func okTokens() *fakeTokens {
	return &fakeTokens{TokenFn: func(ctx context.Context) (string, error) { return "token-1", nil }}
}

func testSchedule(now time.Time) []models.MedicationSchedule {
	return []models.MedicationSchedule{
		{
			ID:        "sch-1",
			Med:       models.Medication{ID: "med-1", Name: "Amoxicillin", Dosage: "500mg", Frequency: "twice daily"},
			Reminders: []time.Time{now.Add(1 * time.Hour), now.Add(12 * time.Hour)},
		},
		{
			ID:        "sch-2",
			Med:       models.Medication{ID: "med-2", Name: "Ibuprofen"},
			Reminders: []time.Time{now.Add(1 * time.Hour)},
		},
	}
}

func TestSyncInsertsEveryReminder(t *testing.T) {
	inserter := &fakeInserter{InsertFn: func(call int, event *calendar.Event) (string, error) {
		return fmt.Sprintf("evt-%d", call), nil
	}}
	cs := NewCalendarSync(okTokens(), inserter)

	result, err := cs.Sync(context.Background(), "rx-1", testSchedule(time.Now()), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Attempted)
	assert.Equal(t, 3, result.Inserted)
	assert.Equal(t, 0, result.Failed)
	assert.Len(t, result.Events["sch-1"], 2)
	assert.Len(t, result.Events["sch-2"], 1)
}

func TestSyncIsolatesSingleInsertFailure(t *testing.T) {
	apiErr := &googleapi.Error{Code: 403, Message: "forbidden"}
	inserter := &fakeInserter{InsertFn: func(call int, event *calendar.Event) (string, error) {
		if event.ExtendedProperties.Shared["medId"] == "med-2" {
			return "", apiErr
		}
		return fmt.Sprintf("evt-%d", call), nil
	}}
	cs := NewCalendarSync(okTokens(), inserter)

	result, err := cs.Sync(context.Background(), "rx-1", testSchedule(time.Now()), nil)
	require.NoError(t, err, "one failed insert does not fail the sync")
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 1, result.Failed)
	assert.Len(t, result.Events["sch-1"], 2)
	assert.Empty(t, result.Events["sch-2"], "no ref is recorded for the failed insert")
}

func TestSyncTokenFailure(t *testing.T) {
	tokens := &fakeTokens{TokenFn: func(ctx context.Context) (string, error) {
		return "", errors.New("invalid_grant")
	}}
	inserter := &fakeInserter{InsertFn: func(call int, event *calendar.Event) (string, error) {
		return "evt", nil
	}}
	cs := NewCalendarSync(tokens, inserter)

	_, err := cs.Sync(context.Background(), "rx-1", testSchedule(time.Now()), nil)
	require.ErrorIs(t, err, ErrTokenAcquisition)
	assert.Zero(t, inserter.Calls(), "no inserts are attempted without a token")
}

func TestSyncRetriesTransientTokenFailure(t *testing.T) {
	attempts := 0
	tokens := &fakeTokens{TokenFn: func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", &googleapi.Error{Code: 503}
		}
		return "token-1", nil
	}}
	inserter := &fakeInserter{InsertFn: func(call int, event *calendar.Event) (string, error) {
		return fmt.Sprintf("evt-%d", call), nil
	}}
	cs := NewCalendarSync(tokens, inserter)
	cs.RetryConfig = retry.Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}

	result, err := cs.Sync(context.Background(), "rx-1", testSchedule(time.Now()), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, result.Inserted)
}

func TestSyncReportsUnreachableCalendar(t *testing.T) {
	// Failures without an API-level response mean the collaborator itself
	// is unreachable, which fails the step.
	inserter := &fakeInserter{InsertFn: func(call int, event *calendar.Event) (string, error) {
		return "", errors.New("dial tcp: connection refused")
	}}
	cs := NewCalendarSync(okTokens(), inserter)

	result, err := cs.Sync(context.Background(), "rx-1", testSchedule(time.Now()), nil)
	require.ErrorIs(t, err, ErrCalendarUnreachable)
	assert.Equal(t, 3, result.Failed)
}

func TestSyncAllRejectedIsNotUnreachable(t *testing.T) {
	inserter := &fakeInserter{InsertFn: func(call int, event *calendar.Event) (string, error) {
		return "", &googleapi.Error{Code: 403}
	}}
	cs := NewCalendarSync(okTokens(), inserter)

	result, err := cs.Sync(context.Background(), "rx-1", testSchedule(time.Now()), nil)
	require.NoError(t, err, "rejected inserts are per-event failures, not unreachability")
	assert.Equal(t, 3, result.Failed)
	assert.Equal(t, 0, result.Inserted)
}

func TestSyncSkipsAlreadyCreatedEvents(t *testing.T) {
	inserter := &fakeInserter{InsertFn: func(call int, event *calendar.Event) (string, error) {
		return fmt.Sprintf("evt-new-%d", call), nil
	}}
	cs := NewCalendarSync(okTokens(), inserter)

	existing := map[string]map[string]string{
		"sch-1": {"0": "evt-old-1"}, // first of two reminders already covered
		"sch-2": {"0": "evt-old-2"}, // fully covered
	}
	result, err := cs.Sync(context.Background(), "rx-1", testSchedule(time.Now()), existing)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Attempted)
	assert.Equal(t, 1, inserter.Calls())
	require.Len(t, result.Events["sch-1"], 2)
	assert.Equal(t, "evt-old-1", result.Events["sch-1"]["0"], "existing refs are kept")
	assert.Equal(t, map[string]string{"0": "evt-old-2"}, result.Events["sch-2"])
}

func TestSyncRetriesFailedReminderNotItsSiblings(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	firstReminder := now.Add(1 * time.Hour)

	startsAt := func(event *calendar.Event, at time.Time) bool {
		start, err := time.Parse(time.RFC3339, event.Start.DateTime)
		return err == nil && start.Equal(at)
	}

	// First sync: the first reminder's insert is rejected, the rest succeed.
	flaky := &fakeInserter{InsertFn: func(call int, event *calendar.Event) (string, error) {
		if startsAt(event, firstReminder) {
			return "", &googleapi.Error{Code: 403}
		}
		return fmt.Sprintf("evt-%d", call), nil
	}}
	cs := NewCalendarSync(okTokens(), flaky)
	first, err := cs.Sync(context.Background(), "rx-1", testSchedule(now), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Failed, "both entries' first reminders are rejected")
	survivor := first.Events["sch-1"]["1"]
	require.NotEmpty(t, survivor, "the second reminder's event was created")

	// Second sync with the persisted refs: only the failed reminders are
	// inserted, and every attempt targets the reminder that has no event.
	healthy := &fakeInserter{InsertFn: func(call int, event *calendar.Event) (string, error) {
		require.True(t, startsAt(event, firstReminder),
			"an already-created event must never be recreated")
		return fmt.Sprintf("evt-retry-%d", call), nil
	}}
	cs = NewCalendarSync(okTokens(), healthy)
	second, err := cs.Sync(context.Background(), "rx-1", testSchedule(now), first.Events)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Attempted)
	assert.Equal(t, 2, second.Inserted)
	assert.Equal(t, survivor, second.Events["sch-1"]["1"], "the surviving event id is carried forward")
	assert.NotEmpty(t, second.Events["sch-1"]["0"])
	assert.NotEmpty(t, second.Events["sch-2"]["0"])
}

func TestBuildEvent(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	sch := models.MedicationSchedule{
		ID:  "sch-1",
		Med: models.Medication{ID: "med-1", Name: "Amoxicillin", Dosage: "500mg", Frequency: "twice daily"},
	}

	event := buildEvent("rx-1", sch, now)
	assert.Equal(t, "Take Amoxicillin", event.Summary)
	assert.Contains(t, event.Description, "Dose: 500mg")
	assert.Contains(t, event.Description, "Frequency: twice daily")
	assert.NotContains(t, event.Description, "Route:", "absent fields are omitted")

	require.NotNil(t, event.Reminders)
	assert.False(t, event.Reminders.UseDefault)
	require.Len(t, event.Reminders.Overrides, 2)
	assert.Equal(t, int64(0), event.Reminders.Overrides[0].Minutes)
	assert.Contains(t, event.Reminders.Overrides[0].ForceSendFields, "Minutes",
		"the zero-minute popup must survive JSON encoding")
	assert.Equal(t, int64(5), event.Reminders.Overrides[1].Minutes)

	require.NotNil(t, event.ExtendedProperties)
	assert.Equal(t, "med-1", event.ExtendedProperties.Shared["medId"])
	assert.Equal(t, "rx-1", event.ExtendedProperties.Shared["prescriptionId"])

	start, err := time.Parse(time.RFC3339, event.Start.DateTime)
	require.NoError(t, err)
	end, err := time.Parse(time.RFC3339, event.End.DateTime)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, end.Sub(start))
}
