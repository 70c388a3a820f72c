package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"autoredeem/internal/core"
)

const (
	defaultPreviewCount = 5
	maxPreviewCount     = 10
)

type schedulePreviewRequest struct {
	Cron            string `json:"cron,omitempty"`
	IntervalMinutes int    `json:"interval_minutes,omitempty"`
	From            string `json:"from,omitempty"`
	Count           int    `json:"count,omitempty"`
}

type schedulePreviewResponse struct {
	Valid     bool     `json:"valid"`
	Mode      string   `json:"mode,omitempty"`
	NextTimes []string `json:"next_times,omitempty"`
	Message   string   `json:"message,omitempty"`
}

var errOneShot = errors.New("runner is in one-shot mode; give cron or interval_minutes")

// handleSchedulePreview lists upcoming run times. Without cron or
// interval_minutes it previews the runner's own schedule, starting from the
// pending run when one is scheduled.
func (s *Server) handleSchedulePreview(w http.ResponseWriter, r *http.Request) {
	var req schedulePreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, schedulePreviewResponse{Message: "invalid JSON payload"})
		return
	}

	cfg, own, err := s.previewConfig(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, schedulePreviewResponse{Message: err.Error()})
		return
	}
	schedule, err := core.ScheduleFor(cfg, time.Minute)
	if err != nil {
		writeJSON(w, http.StatusOK, schedulePreviewResponse{Mode: string(cfg.Mode()), Message: err.Error()})
		return
	}

	count := req.Count
	if count <= 0 || count > maxPreviewCount {
		count = defaultPreviewCount
	}
	from := time.Now()
	if req.From != "" {
		parsed, err := time.Parse(time.RFC3339, req.From)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, schedulePreviewResponse{Message: "from must be an RFC3339 time"})
			return
		}
		from = parsed
	}

	times := s.upcoming(schedule, from.In(s.location), count, own && req.From == "")
	formatted := make([]string, 0, len(times))
	for _, t := range times {
		formatted = append(formatted, t.In(s.location).Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, schedulePreviewResponse{Valid: true, Mode: string(cfg.Mode()), NextTimes: formatted})
}

// previewConfig picks the schedule to preview and reports whether it is the runner's own.
func (s *Server) previewConfig(req schedulePreviewRequest) (core.RunConfig, bool, error) {
	expr := strings.TrimSpace(req.Cron)
	switch {
	case expr != "" && req.IntervalMinutes != 0:
		return core.RunConfig{}, false, errors.New("cron and interval_minutes are mutually exclusive")
	case expr != "":
		return core.RunConfig{CronExpr: expr}, false, nil
	case req.IntervalMinutes != 0:
		return core.RunConfig{IntervalMinutes: req.IntervalMinutes}, false, nil
	}
	own := s.opts.RunConfig
	if !own.Periodic() {
		return core.RunConfig{}, false, errOneShot
	}
	return core.RunConfig{IntervalMinutes: own.IntervalMinutes, CronExpr: own.CronExpr}, true, nil
}

func (s *Server) upcoming(schedule cron.Schedule, from time.Time, count int, fromPending bool) []time.Time {
	if fromPending && s.opts.Status != nil {
		if next := s.opts.Status.Snapshot().NextRunAt; next != nil && next.After(from) {
			return append([]time.Time{*next}, core.NextOccurrences(schedule, *next, count-1)...)
		}
	}
	return core.NextOccurrences(schedule, from, count)
}
