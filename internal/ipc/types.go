package ipc

import "time"

// StartRunRequest launches a pipeline run.
type StartRunRequest struct {
	Phases []string `json:"phases"`
	Forced bool     `json:"forced"`
}

// StartRunResponse indicates whether the run was accepted.
type StartRunResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest asks the active run to drain and stop.
type StopRequest struct{}

// StopResponse indicates whether a run was asked to stop.
type StopResponse struct {
	Stopping bool `json:"stopping"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// RunSummary mirrors one run record for IPC callers.
type RunSummary struct {
	ID              string     `json:"id"`
	Status          string     `json:"status"`
	CurrentPhase    string     `json:"current_phase"`
	ProgressPercent float64    `json:"progress_percent"`
	Message         string     `json:"message"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// StatusResponse is the combined daemon/run status.
type StatusResponse struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	LockPath     string         `json:"lock_path"`
	SnapshotPath string         `json:"snapshot_path"`
	ItemCounts   map[string]int `json:"item_counts"`
	ActiveRun    *RunSummary    `json:"active_run,omitempty"`
	CurrentPhase string         `json:"current_phase"`
	Message      string         `json:"message"`
	ETASeconds   int64          `json:"eta_seconds"`
}

// HistoryRequest lists recent runs.
type HistoryRequest struct {
	Limit int `json:"limit"`
}

// HistoryResponse contains recent runs, newest first.
type HistoryResponse struct {
	Runs []RunSummary `json:"runs"`
}

// SweepRequest fails runs stuck in running beyond the configured timeout.
type SweepRequest struct{}

// SweepResponse reports the number of runs swept.
type SweepResponse struct {
	Swept int64 `json:"swept"`
}
