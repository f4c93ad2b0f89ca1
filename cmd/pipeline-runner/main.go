package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/medisnap/prescriptionflow/internal/models"
	"github.com/medisnap/prescriptionflow/internal/services"
	"github.com/medisnap/prescriptionflow/internal/store"
)

var (
	runnerInstance *services.RunnerFunction
	once           sync.Once
	initErr        error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("RunPipeline", handleRunPipeline)
}

func main() {}

// handleRunPipeline is the HTTP handler for the pipeline-runner service.
func handleRunPipeline(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		runnerInstance, initErr = services.NewRunner(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Runner initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	if r.Method == http.MethodGet {
		handleHistory(w, r)
		return
	}

	var req models.PipelineRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := runnerInstance.Process(r.Context(), &req)
	if err != nil {
		// Error is already logged with context during the run.
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Not Found: unknown prescription", http.StatusNotFound)
			return
		}
		http.Error(w, "Internal Server Error: pipeline run failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error(
			"Failed to write response",
			"error", err,
			"prescriptionId", req.PrescriptionID,
		)
		http.Error(w, "Internal Server Error: failed to encode response", http.StatusInternalServerError)
	}
}

// handleHistory serves a user's prescription history.
func handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "Bad Request: userId query parameter is required", http.StatusBadRequest)
		return
	}

	res, err := runnerInstance.History(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list prescription history", "error", err, "userId", userID)
		http.Error(w, "Internal Server Error: history lookup failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err, "userId", userID)
		http.Error(w, "Internal Server Error: failed to encode response", http.StatusInternalServerError)
	}
}
