package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"github.com/medisnap/prescriptionflow/internal/models"
	"github.com/medisnap/prescriptionflow/internal/retry"
)

// TokenProvider supplies a valid calendar access token, refreshing on
// expiry. Injected rather than hidden inside a sign-in helper.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// EventInserter is the narrow interface onto the calendar API.
type EventInserter interface {
	InsertEvent(ctx context.Context, accessToken string, event *calendar.Event) (string, error)
}

// CalendarSync creates one external calendar event per scheduled reminder.
// Individual insert failures are isolated; only token acquisition failure
// or total unreachability fails the step.
type CalendarSync struct {
	tokens   TokenProvider
	inserter EventInserter

	// Concurrency bounds the number of in-flight insert calls.
	Concurrency   int
	InsertTimeout time.Duration
	RetryConfig   retry.Config
}

// NewCalendarSync creates a CalendarSync with default bounds.
func NewCalendarSync(tokens TokenProvider, inserter EventInserter) *CalendarSync {
	return &CalendarSync{
		tokens:        tokens,
		inserter:      inserter,
		Concurrency:   4,
		InsertTimeout: 30 * time.Second,
		RetryConfig:   retry.DefaultConfig(),
	}
}

// SyncResult is the partial-success summary of one calendar sync.
type SyncResult struct {
	// Events maps schedule entry IDs to external event IDs keyed by
	// reminder position, including any previously recorded IDs passed in
	// as existing.
	Events    map[string]map[string]string
	Attempted int
	Inserted  int
	Failed    int
}

// Sync inserts events for every reminder not already covered by existing
// event refs. Refs are keyed per reminder, so a reminder whose insert
// failed on a previous run is retried while its siblings' events are
// never recreated. One failed insert does not stop the rest.
func (s *CalendarSync) Sync(ctx context.Context, prescriptionID string, schedule []models.MedicationSchedule, existing map[string]map[string]string) (*SyncResult, error) {
	var token string
	err := retry.Do(ctx, s.RetryConfig, "calendar token", func(ctx context.Context) error {
		var tokenErr error
		token, tokenErr = s.tokens.Token(ctx)
		return tokenErr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenAcquisition, err)
	}

	result := &SyncResult{Events: make(map[string]map[string]string, len(schedule))}

	var mu sync.Mutex
	var apiResponses int

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.Concurrency)

	for _, sch := range schedule {
		refs := make(map[string]string, len(sch.Reminders))
		for slot, id := range existing[sch.ID] {
			refs[slot] = id
		}
		result.Events[sch.ID] = refs

		for i, reminder := range sch.Reminders {
			slot := strconv.Itoa(i)
			// Skip decisions read the caller's map, not refs, which the
			// insert goroutines already write to.
			if existing[sch.ID][slot] != "" {
				continue
			}
			result.Attempted++

			reminder, sch, slot := reminder, sch, slot
			eg.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				callCtx, cancel := context.WithTimeout(gctx, s.InsertTimeout)
				defer cancel()

				id, insErr := s.inserter.InsertEvent(callCtx, token, buildEvent(prescriptionID, sch, reminder))
				mu.Lock()
				defer mu.Unlock()
				if insErr != nil {
					var apiErr *googleapi.Error
					if errors.As(insErr, &apiErr) {
						apiResponses++
					}
					result.Failed++
					slog.Warn("Calendar event insert failed, continuing with remaining reminders.",
						"prescriptionId", prescriptionID, "scheduleId", sch.ID,
						"medication", sch.Med.Name, "error", fmt.Errorf("%w: %v", ErrEventInsert, insErr))
					return nil
				}
				apiResponses++
				refs[slot] = id
				result.Inserted++
				return nil
			})
		}
	}
	_ = eg.Wait()

	if ctx.Err() != nil {
		return result, fmt.Errorf("calendar sync: %w", ErrCancelled)
	}
	// No insert got an API-level response at all: the collaborator itself
	// is unreachable, which fails the step, unlike per-event failures.
	if result.Attempted > 0 && apiResponses == 0 {
		return result, fmt.Errorf("%w: %d inserts failed without an API response", ErrCalendarUnreachable, result.Attempted)
	}
	return result, nil
}

// buildEvent shapes one 15-minute reminder event in the caller's local
// time zone, with immediate and 5-minute-prior popups.
func buildEvent(prescriptionID string, sch models.MedicationSchedule, reminder time.Time) *calendar.Event {
	start := reminder.In(time.Local)
	end := start.Add(15 * time.Minute)
	tz := time.Local.String()

	lines := []string{fmt.Sprintf("Medication reminder for %s", sch.Med.Name)}
	if sch.Med.Dosage != "" {
		lines = append(lines, "Dose: "+sch.Med.Dosage)
	}
	if sch.Med.Frequency != "" {
		lines = append(lines, "Frequency: "+sch.Med.Frequency)
	}
	if sch.Med.Route != "" {
		lines = append(lines, "Route: "+sch.Med.Route)
	}
	if sch.Med.Duration != "" {
		lines = append(lines, "Duration: "+sch.Med.Duration)
	}

	return &calendar.Event{
		Summary:     "Take " + sch.Med.Name,
		Description: strings.Join(lines, "\n"),
		Start:       &calendar.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: tz},
		End:         &calendar.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: tz},
		Reminders: &calendar.EventReminders{
			UseDefault: false,
			Overrides: []*calendar.EventReminder{
				{Method: "popup", Minutes: 0, ForceSendFields: []string{"Minutes"}},
				{Method: "popup", Minutes: 5},
			},
			ForceSendFields: []string{"UseDefault"},
		},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Shared: map[string]string{
				"medId":          sch.Med.ID,
				"prescriptionId": prescriptionID,
			},
		},
	}
}
