package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/chuahwb/ai-content-creation-sub005/internal/chain"
	"github.com/chuahwb/ai-content-creation-sub005/internal/domain"
	"github.com/chuahwb/ai-content-creation-sub005/internal/jobstore"
	"github.com/chuahwb/ai-content-creation-sub005/internal/registry"
	"github.com/chuahwb/ai-content-creation-sub005/internal/service"
)

// SubmitRunRequest is the request body for creating a run
type SubmitRunRequest struct {
	Mode        string         `json:"mode"`
	Prompt      string         `json:"prompt"`
	Platform    string         `json:"platform,omitempty"`
	NumVariants int            `json:"num_variants,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

// SubmitRefinementRequest is the request body for refining a run's output
type SubmitRefinementRequest struct {
	ParentKind      string `json:"parent_kind"`
	ParentImageID   string `json:"parent_image_id"`
	GenerationIndex *int   `json:"generation_index,omitempty"`
	Type            string `json:"type"`
	Instruction     string `json:"instruction,omitempty"`
}

// RunResponse is the API response for a run
type RunResponse struct {
	ID           string          `json:"id"`
	Mode         string          `json:"mode"`
	Status       string          `json:"status"`
	Prompt       string          `json:"prompt"`
	Platform     string          `json:"platform,omitempty"`
	NumVariants  int             `json:"num_variants,omitempty"`
	CostUSD      float64         `json:"cost_usd"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    string          `json:"created_at"`
	StartedAt    *string         `json:"started_at,omitempty"`
	CompletedAt  *string         `json:"completed_at,omitempty"`
	Stages       []StageResponse `json:"stages,omitempty"`
}

// StageResponse is the API response for one stage record
type StageResponse struct {
	Name            string          `json:"name"`
	Order           int             `json:"order"`
	Status          string          `json:"status"`
	Message         string          `json:"message,omitempty"`
	Output          json.RawMessage `json:"output,omitempty"`
	Error           string          `json:"error,omitempty"`
	ErrorKind       string          `json:"error_kind,omitempty"`
	DurationSeconds float64         `json:"duration_seconds,omitempty"`
}

// RefinementResponse is the API response for a refinement job
type RefinementResponse struct {
	ID              string  `json:"id"`
	ParentRunID     string  `json:"parent_run_id"`
	ParentKind      string  `json:"parent_kind"`
	ParentImageID   string  `json:"parent_image_id"`
	GenerationIndex *int    `json:"generation_index,omitempty"`
	Type            string  `json:"type"`
	Status          string  `json:"status"`
	RunID           string  `json:"run_id"`
	Instruction     string  `json:"instruction,omitempty"`
	Summary         string  `json:"summary,omitempty"`
	ArtifactRef     string  `json:"artifact_ref,omitempty"`
	CostUSD         float64 `json:"cost_usd"`
	Error           string  `json:"error,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

// StatusResponse is the API response for overall orchestrator status
type StatusResponse struct {
	Total          int `json:"total"`
	Pending        int `json:"pending"`
	Running        int `json:"running"`
	Completed      int `json:"completed"`
	Failed         int `json:"failed"`
	Cancelled      int `json:"cancelled"`
	ActiveRuns     int `json:"active_runs"`
	AvailableSlots int `json:"available_slots"`
}

// LogResponse is the API response for a run's log lines
type LogResponse struct {
	RunID string        `json:"run_id"`
	Lines []LogLineItem `json:"lines"`
}

// LogLineItem is one log line
type LogLineItem struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

func runToResponse(run *domain.Run) RunResponse {
	resp := RunResponse{
		ID:          run.ID,
		Mode:        string(run.Mode),
		Status:      string(run.Status),
		Prompt:      run.Input.Prompt,
		Platform:    run.Input.Platform,
		NumVariants: run.Input.NumVariants,
		CostUSD:     run.CostUSD,
		Error:       run.ErrorMessage,
		CreatedAt:   run.CreatedAt.Format(time.RFC3339),
	}
	if run.StartedAt != nil {
		t := run.StartedAt.Format(time.RFC3339)
		resp.StartedAt = &t
	}
	if run.CompletedAt != nil {
		t := run.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &t
	}
	for _, rec := range run.Stages {
		resp.Stages = append(resp.Stages, StageResponse{
			Name:            rec.Name,
			Order:           rec.Order,
			Status:          string(rec.Status),
			Message:         rec.Message,
			Output:          rec.Output,
			Error:           rec.ErrorMessage,
			ErrorKind:       string(rec.ErrorKind),
			DurationSeconds: rec.DurationSeconds,
		})
	}
	return resp
}

func refinementToResponse(job *domain.RefinementJob) RefinementResponse {
	return RefinementResponse{
		ID:              job.ID,
		ParentRunID:     job.ParentRunID,
		ParentKind:      string(job.Parent.Kind),
		ParentImageID:   job.Parent.ID,
		GenerationIndex: job.Parent.GenerationIndex,
		Type:            string(job.Type),
		Status:          string(job.Status),
		RunID:           job.RunID,
		Instruction:     job.Instruction,
		Summary:         job.Summary,
		ArtifactRef:     job.ArtifactRef,
		CostUSD:         job.CostUSD,
		Error:           job.ErrorMessage,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339),
	}
}

// mapError translates service and store errors to HTTP status codes
func mapError(w http.ResponseWriter, err error) {
	var cfgErr *registry.ConfigError
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotCancellable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, chain.ErrMissingParent),
		errors.Is(err, chain.ErrParentNotCompleted),
		errors.Is(err, chain.ErrCyclicAncestry):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	}
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		runs, err := s.svc.Runs(jobstore.ListOptions{})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		status := StatusResponse{
			Total:          len(runs),
			ActiveRuns:     s.svc.ActiveRuns(),
			AvailableSlots: s.svc.AvailableSlots(),
		}
		for _, run := range runs {
			switch run.Status {
			case domain.RunPending:
				status.Pending++
			case domain.RunRunning:
				status.Running++
			case domain.RunCompleted:
				status.Completed++
			case domain.RunFailed:
				status.Failed++
			case domain.RunCancelled:
				status.Cancelled++
			}
		}

		writeJSON(w, status)
	}
}

func (s *Server) modesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		modes := s.registry.Modes()
		names := make([]string, len(modes))
		for i, m := range modes {
			names[i] = string(m)
		}
		writeJSON(w, names)
	}
}

func (s *Server) runsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			s.listRuns(w, r)
		case http.MethodPost:
			s.submitRun(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	opts := jobstore.ListOptions{
		Mode:   domain.RunMode(r.URL.Query().Get("mode")),
		Status: domain.RunStatus(r.URL.Query().Get("status")),
	}
	runs, err := s.svc.Runs(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	responses := make([]RunResponse, len(runs))
	for i, run := range runs {
		responses[i] = runToResponse(run)
	}
	writeJSON(w, responses)
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	var req SubmitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mode := domain.RunMode(req.Mode)
	if mode == domain.ModeRefinement {
		writeError(w, http.StatusBadRequest, "refinements are submitted against a run, use /api/runs/{id}/refinements")
		return
	}

	run, err := s.svc.SubmitRun(mode, domain.InputSnapshot{
		Prompt:      req.Prompt,
		Platform:    req.Platform,
		NumVariants: req.NumVariants,
		Params:      req.Params,
	}, registry.Flags{})
	if err != nil {
		mapError(w, err)
		return
	}

	writeJSONStatus(w, http.StatusAccepted, runToResponse(run))
}

// runHandler dispatches /api/runs/{id} and its sub-resources
func (s *Server) runHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/runs/")
		if path == "" {
			writeError(w, http.StatusBadRequest, "run ID required")
			return
		}

		parts := strings.SplitN(path, "/", 2)
		runID := parts[0]
		action := ""
		if len(parts) == 2 {
			action = parts[1]
		}

		switch {
		case action == "" && r.Method == http.MethodGet:
			s.getRun(w, runID)
		case action == "cancel" && r.Method == http.MethodPost:
			s.cancelRun(w, runID)
		case action == "logs" && r.Method == http.MethodGet:
			s.runLogs(w, runID)
		case action == "refinements" && r.Method == http.MethodGet:
			s.listRefinements(w, runID)
		case action == "refinements" && r.Method == http.MethodPost:
			s.submitRefinement(w, r, runID)
		case action == "events" && r.Method == http.MethodGet:
			s.runEvents(w, r, runID)
		case action == "ws" && r.Method == http.MethodGet:
			s.runSocket(w, r, runID)
		default:
			writeError(w, http.StatusNotFound, "unknown run endpoint")
		}
	}
}

func (s *Server) getRun(w http.ResponseWriter, runID string) {
	run, err := s.svc.Run(runID)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, runToResponse(run))
}

func (s *Server) cancelRun(w http.ResponseWriter, runID string) {
	if err := s.svc.Cancel(runID); err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "cancelling"})
}

func (s *Server) runLogs(w http.ResponseWriter, runID string) {
	if _, err := s.svc.Run(runID); err != nil {
		mapError(w, err)
		return
	}
	entries, err := s.svc.Logs(runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := LogResponse{RunID: runID, Lines: make([]LogLineItem, len(entries))}
	for i, e := range entries {
		resp.Lines[i] = LogLineItem{
			Timestamp: e.Timestamp.Format(time.RFC3339),
			Level:     e.Level,
			Message:   e.Message,
		}
	}
	writeJSON(w, resp)
}

func (s *Server) listRefinements(w http.ResponseWriter, runID string) {
	jobs, err := s.svc.Refinements(runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	responses := make([]RefinementResponse, len(jobs))
	for i, job := range jobs {
		responses[i] = refinementToResponse(job)
	}
	writeJSON(w, responses)
}

func (s *Server) submitRefinement(w http.ResponseWriter, r *http.Request, runID string) {
	var req SubmitRefinementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kind := domain.ParentKind(req.ParentKind)
	if kind == "" {
		kind = domain.ParentOriginal
	}

	job, err := s.svc.SubmitRefinement(service.RefinementRequest{
		ParentRunID: runID,
		Parent: domain.ParentRef{
			Kind:            kind,
			ID:              req.ParentImageID,
			GenerationIndex: req.GenerationIndex,
		},
		Type:        domain.RefinementType(req.Type),
		Instruction: req.Instruction,
	})
	if err != nil {
		mapError(w, err)
		return
	}

	writeJSONStatus(w, http.StatusAccepted, refinementToResponse(job))
}

// refinementHandler dispatches /api/refinements/{id} and its sub-resources
func (s *Server) refinementHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/refinements/")
		if path == "" {
			writeError(w, http.StatusBadRequest, "refinement ID required")
			return
		}

		parts := strings.SplitN(path, "/", 2)
		jobID := parts[0]
		action := ""
		if len(parts) == 2 {
			action = parts[1]
		}

		switch {
		case action == "" && r.Method == http.MethodGet:
			job, err := s.svc.Refinement(jobID)
			if err != nil {
				mapError(w, err)
				return
			}
			writeJSON(w, refinementToResponse(job))
		case action == "cancel" && r.Method == http.MethodPost:
			if err := s.svc.CancelRefinement(jobID); err != nil {
				mapError(w, err)
				return
			}
			writeJSON(w, map[string]string{"status": "cancelling"})
		default:
			writeError(w, http.StatusNotFound, "unknown refinement endpoint")
		}
	}
}
