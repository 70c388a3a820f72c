package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"autoredeem/internal/core"
	"autoredeem/internal/store"
)

type runResponse struct {
	ID          string `json:"id"`
	Mode        string `json:"mode"`
	CheckOnly   bool   `json:"check_only"`
	Status      string `json:"status"`
	ExitCode    int    `json:"exit_code"`
	ScheduledAt string `json:"scheduled_at"`
	StartedAt   string `json:"started_at"`
	EndedAt     string `json:"ended_at"`
	DurationMS  int64  `json:"duration_ms"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.opts.Runs == nil {
		writeError(w, http.StatusNotFound, "history_disabled", "run history is not enabled")
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	runs, err := s.opts.Runs.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list runs", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list runs")
		return
	}
	resp := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, runToResponse(run))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, runToResponse(run))
}

func (s *Server) handleRunLog(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	output := run.Output
	if tail := parseIntDefault(r.URL.Query().Get("tail"), 0); tail > 0 {
		lines := strings.Split(output, "\n")
		if len(lines) > tail {
			lines = lines[len(lines)-tail:]
		}
		output = strings.Join(lines, "\n")
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(output))
}

func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) (*core.Run, bool) {
	if s.opts.Runs == nil {
		writeError(w, http.StatusNotFound, "history_disabled", "run history is not enabled")
		return nil, false
	}
	runID := chi.URLParam(r, "runID")
	run, err := s.opts.Runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "run not found")
		} else {
			s.logger.Error("get run", "run_id", runID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load run")
		}
		return nil, false
	}
	return run, true
}

func runToResponse(run *core.Run) runResponse {
	return runResponse{
		ID:          run.ID,
		Mode:        string(run.Mode),
		CheckOnly:   run.CheckOnly,
		Status:      string(run.Status),
		ExitCode:    run.ExitCode,
		ScheduledAt: run.ScheduledAt.UTC().Format(time.RFC3339),
		StartedAt:   run.StartedAt.UTC().Format(time.RFC3339),
		EndedAt:     run.EndedAt.UTC().Format(time.RFC3339),
		DurationMS:  run.Duration().Milliseconds(),
	}
}
