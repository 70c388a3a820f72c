package api

import (
	"net/http"
	"time"
)

type statusResponse struct {
	Mode            string  `json:"mode"`
	IntervalMinutes int     `json:"interval_minutes,omitempty"`
	Cron            string  `json:"cron,omitempty"`
	CheckOnly       bool    `json:"check_only"`
	Running         bool    `json:"running"`
	StopRequested   bool    `json:"stop_requested"`
	Runs            int     `json:"runs"`
	LastStatus      string  `json:"last_status,omitempty"`
	LastRunAt       *string `json:"last_run_at,omitempty"`
	NextRunAt       *string `json:"next_run_at,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.opts.Status.Snapshot()
	cfg := s.opts.RunConfig
	writeJSON(w, http.StatusOK, statusResponse{
		Mode:            string(cfg.Mode()),
		IntervalMinutes: cfg.IntervalMinutes,
		Cron:            cfg.CronExpr,
		CheckOnly:       cfg.CheckOnly,
		Running:         snap.Running,
		StopRequested:   snap.StopRequested,
		Runs:            snap.Runs,
		LastStatus:      string(snap.LastStatus),
		LastRunAt:       s.formatOptional(snap.LastRunAt),
		NextRunAt:       s.formatOptional(snap.NextRunAt),
	})
}

func (s *Server) formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.In(s.location).Format(time.RFC3339)
	return &formatted
}
