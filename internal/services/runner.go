package services

import (
	"context"
	"fmt"

	"golang.org/x/oauth2/google"
	calendarapi "google.golang.org/api/calendar/v3"

	"github.com/medisnap/prescriptionflow/internal/gcp"
	"github.com/medisnap/prescriptionflow/internal/models"
	"github.com/medisnap/prescriptionflow/internal/store"
)

// RunnerConfig holds configuration for the pipeline-runner service.
type RunnerConfig struct {
	ProjectID      string
	VertexAIRegion string
	CalendarID     string
}

// RunnerFunction executes the processing pipeline for one already
// extracted prescription on request.
type RunnerFunction struct {
	db           store.Store
	orchestrator *Orchestrator
	config       RunnerConfig
}

// NewRunner creates a RunnerFunction with all clients initialized from
// the environment.
func NewRunner(ctx context.Context) (*RunnerFunction, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	config := RunnerConfig{
		ProjectID:      projectID,
		VertexAIRegion: gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		CalendarID:     gcp.GetEnv("CALENDAR_ID", "primary"),
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	db := store.NewFirestoreStore(firestoreClient)

	vertexClient, err := gcp.NewVertexClient(ctx, config.ProjectID, config.VertexAIRegion)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	tokenSource, err := google.DefaultTokenSource(ctx, calendarapi.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar token source: %w", err)
	}
	calendarSync := NewCalendarSync(
		gcp.NewOAuthTokenProvider(tokenSource),
		gcp.NewCalendarClient(config.CalendarID),
	)

	orchestrator := NewOrchestrator(
		db,
		NewSafetyAnalyzer(vertexClient.Safety(), db),
		calendarSync,
		NewAnonymousIdentity(),
	)

	return &RunnerFunction{db: db, orchestrator: orchestrator, config: config}, nil
}

// Process loads the prescription and runs the pipeline against it. A
// fatal step failure is returned as an error; non-fatal failures are
// reported inside the response's step list.
func (f *RunnerFunction) Process(ctx context.Context, req *models.PipelineRunRequest) (*models.PipelineRunResponse, error) {
	if req.PrescriptionID == "" {
		return nil, fmt.Errorf("prescriptionId is required")
	}

	var prescription models.Prescription
	found, err := f.db.Get(ctx, store.PrescriptionsCollection, req.PrescriptionID, &prescription)
	if err != nil {
		return nil, fmt.Errorf("failed to load prescription %s: %w", req.PrescriptionID, err)
	}
	if !found {
		return nil, fmt.Errorf("prescription %s: %w", req.PrescriptionID, store.ErrNotFound)
	}
	prescription.ID = req.PrescriptionID
	if req.UserID != "" {
		prescription.UserID = req.UserID
	}

	result, err := f.orchestrator.Run(ctx, prescription, nil)
	if err != nil {
		return nil, err
	}

	eventCount := 0
	for _, refs := range result.Events {
		eventCount += len(refs)
	}
	reminderCount := 0
	for _, entry := range result.Schedule {
		reminderCount += len(entry.Reminders)
	}
	return &models.PipelineRunResponse{
		PrescriptionID: result.PrescriptionID,
		Status:         result.Status,
		Steps:          result.Steps,
		FlaggedCount:   len(result.Flags),
		ReminderCount:  reminderCount,
		EventCount:     eventCount,
		ExportSummary:  result.ExportSummary,
	}, nil
}

// History returns a user's prescriptions, newest first.
func (f *RunnerFunction) History(ctx context.Context, userID string) (*models.HistoryResponse, error) {
	if userID == "" {
		return nil, fmt.Errorf("userId is required")
	}
	prescriptions, err := f.db.ListPrescriptions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list prescriptions: %w", err)
	}
	return &models.HistoryResponse{Prescriptions: prescriptions}, nil
}
