package domain

import (
	"encoding/json"
	"time"
)

// InputSnapshot is the immutable set of parameters a run was submitted with
type InputSnapshot struct {
	Prompt      string         `json:"prompt"`
	Platform    string         `json:"platform,omitempty"`
	NumVariants int            `json:"num_variants,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

// Run represents one execution of a pipeline mode from submission to terminal status
type Run struct {
	ID           string
	Mode         RunMode
	Status       RunStatus
	Input        InputSnapshot
	CostUSD      float64
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Stages       []*StageRecord
}

// StageRecord tracks one stage of a run's resolved stage list
type StageRecord struct {
	ID              int64
	RunID           string
	Name            string
	Order           int
	Status          StageStatus
	Message         string
	Output          json.RawMessage
	ErrorMessage    string
	ErrorKind       ErrorKind
	StartedAt       *time.Time
	CompletedAt     *time.Time
	DurationSeconds float64
}

// LogEntry is one structured log line produced during a run
type LogEntry struct {
	ID        int64
	RunID     string
	Timestamp time.Time
	Level     string
	Message   string
}

// ProgressUpdate is the wire payload published for every stage transition.
// Consumers apply updates last-write-wins keyed by stage name and status, so
// duplicate delivery is harmless.
type ProgressUpdate struct {
	RunID           string          `json:"run_id"`
	StageName       string          `json:"stage_name"`
	StageOrder      int             `json:"stage_order"`
	Status          StageStatus     `json:"status"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	DurationSeconds *float64        `json:"duration_seconds,omitempty"`
	Message         string          `json:"message"`
	OutputData      json.RawMessage `json:"output_data,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
}

// ProgressFromRecord builds the wire payload for a stage record's current state
func ProgressFromRecord(rec *StageRecord) ProgressUpdate {
	u := ProgressUpdate{
		RunID:        rec.RunID,
		StageName:    rec.Name,
		StageOrder:   rec.Order,
		Status:       rec.Status,
		StartedAt:    rec.StartedAt,
		CompletedAt:  rec.CompletedAt,
		Message:      rec.Message,
		OutputData:   rec.Output,
		ErrorMessage: rec.ErrorMessage,
	}
	if rec.CompletedAt != nil {
		d := rec.DurationSeconds
		u.DurationSeconds = &d
	}
	return u
}
