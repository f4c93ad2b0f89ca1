package models

// These structs define the JSON payloads for HTTP requests and responses
// between callers and the worker Cloud Functions.

// PipelineRunRequest is the input for the pipeline-runner function.
type PipelineRunRequest struct {
	PrescriptionID string `json:"prescriptionId"`
	UserID         string `json:"userId,omitempty"`
}

// StepReport is one step's final state as reported to the caller.
type StepReport struct {
	Step   string `json:"step"`
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// PipelineRunResponse summarizes a finished pipeline run, including
// partial successes.
type PipelineRunResponse struct {
	PrescriptionID string       `json:"prescriptionId"`
	Status         string       `json:"status"`
	Steps          []StepReport `json:"steps"`
	FlaggedCount   int          `json:"flaggedCount"`
	ReminderCount  int          `json:"reminderCount"`
	EventCount     int          `json:"eventCount"`
	ExportSummary  string       `json:"exportSummary,omitempty"`
}

// HistoryResponse lists a user's prescriptions, newest first.
type HistoryResponse struct {
	Prescriptions []Prescription `json:"prescriptions"`
}

// ScanIngestResponse is the output of the scan-ingester function.
type ScanIngestResponse struct {
	Status          string `json:"status"`
	PrescriptionID  string `json:"prescriptionId,omitempty"`
	MedicationCount int    `json:"medicationCount"`
}
