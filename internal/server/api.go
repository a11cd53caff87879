package server

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/jonathan/auto-analyzer/internal/pipeline"
	"github.com/jonathan/auto-analyzer/internal/workspace"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// RunResponse is the body returned for a finished run.
type RunResponse struct {
	Run      *pipeline.RunResult `json:"run"`
	Snapshot *workspace.Snapshot `json:"snapshot,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// RunListResponse is the body of GET /api/runs.
type RunListResponse struct {
	Runs  []*pipeline.RunResult `json:"runs"`
	Count int                   `json:"count"`
}

// handleCreateRun runs the pipeline on an uploaded CSV and returns the run as JSON.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	release, err := s.acquireRun()
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	defer release()

	input, cleanup, err := s.saveUpload(w, r)
	defer cleanup()
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	run, err := s.runner.RunWithProgress(r.Context(), input, nil)
	if err != nil {
		s.logger.Error("analysis failed", "error", err)
		s.jsonResponse(w, HTTPStatus(err), RunResponse{Run: run, Error: err.Error()})
		return
	}

	snapshot, err := s.layout.Inspect()
	if err != nil {
		s.jsonResponse(w, http.StatusInternalServerError, RunResponse{Run: run, Error: err.Error()})
		return
	}
	s.jsonResponse(w, http.StatusOK, RunResponse{Run: run, Snapshot: snapshot})
}

// handleRunStream runs the pipeline, streaming progress events and then the run.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	release, err := s.acquireRun()
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	defer release()

	input, cleanup, err := s.saveUpload(w, r)
	defer cleanup()
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	stream, err := openEventStream(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	run, err := s.runner.RunWithProgress(r.Context(), input, func(event pipeline.ProgressEvent) {
		if err := stream.send("progress", event); err != nil {
			s.logger.Warn("dropped progress event", "state", event.State, "error", err)
		}
	})
	if err != nil {
		s.logger.Error("streaming analysis failed", "error", err)
		if err := stream.fail(err); err != nil {
			s.logger.Warn("failed to send error event", "error", err)
		}
		return
	}
	if err := stream.send("complete", run); err != nil {
		s.logger.Warn("failed to send complete event", "run_id", run.ID, "error", err)
	}
}

// handleListRuns returns recent runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.errorResponse(w, http.StatusNotFound, "Run history is not enabled")
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			err := &ErrValidation{Field: "limit", Message: "must be a positive integer"}
			s.errorResponse(w, HTTPStatus(err), err.Error())
			return
		}
		limit = min(n, maxListLimit)
	}

	runs, err := s.history.ListRuns(r.Context(), limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to list runs: "+err.Error())
		return
	}
	if runs == nil {
		runs = []*pipeline.RunResult{}
	}
	s.jsonResponse(w, http.StatusOK, RunListResponse{Runs: runs, Count: len(runs)})
}

// handleGetRun returns one run by ID.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.errorResponse(w, http.StatusNotFound, "Run history is not enabled")
		return
	}

	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid run ID format")
		return
	}

	run, err := s.history.GetRun(r.Context(), runID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to load run: "+err.Error())
		return
	}
	if run == nil {
		s.errorResponse(w, http.StatusNotFound, "Run not found")
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}
