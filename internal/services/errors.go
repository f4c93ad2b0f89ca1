package services

import "errors"

// Error taxonomy for the pipeline. Components return these wrapped with
// context; only the orchestrator decides which are fatal.
var (
	// ErrUnusableImage means OCR found no recognizable text in the scan.
	ErrUnusableImage = errors.New("no recognizable text in image")

	// ErrNoJSONFound means the model response contained no balanced JSON object.
	ErrNoJSONFound = errors.New("no JSON object found in model response")

	// ErrSchemaMismatch means the located JSON parsed but did not match the
	// expected shape (missing name field, wrong types).
	ErrSchemaMismatch = errors.New("model response JSON does not match expected schema")

	// ErrEmptySafetyResult means the safety lookup returned zero medication
	// entries. Missing clinical safety data must be visible, never treated
	// as an empty success.
	ErrEmptySafetyResult = errors.New("safety lookup returned no medication entries")

	// ErrTokenAcquisition means the calendar access token could not be
	// acquired after retries.
	ErrTokenAcquisition = errors.New("calendar token acquisition failed")

	// ErrCalendarUnreachable means no insert call got an API-level response.
	ErrCalendarUnreachable = errors.New("calendar service unreachable")

	// ErrEventInsert marks an individual event insert failure. Per-event
	// failures are recorded, not retried, and never fail the step.
	ErrEventInsert = errors.New("calendar event insert failed")

	// ErrUnauthenticated means no user identity was available to own the
	// persisted prescription.
	ErrUnauthenticated = errors.New("no authenticated user")

	// ErrCancelled marks a step aborted by caller cancellation.
	ErrCancelled = errors.New("cancelled")
)
