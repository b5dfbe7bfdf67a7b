package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ahrav/vulnscan-armada/internal/app/scheduling"
	"github.com/ahrav/vulnscan-armada/internal/domain/task"
)

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type scheduleRequest struct {
	StartAt         time.Time `json:"start_at"`
	EndAt           time.Time `json:"end_at"`
	SlackWebhookURL string    `json:"slack_webhook_url"`
}

type scheduleResponse struct {
	TaskUUID string `json:"task_uuid"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn(r.Context(), "readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "not ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ready"})
}

// handleCycle runs one cycle of the named state synchronously and reports
// whether its queue could be read.
func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	p, err := task.ParseProgress(chi.URLParam(r, "state"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	ok := s.cycles.Handle(r.Context(), p)
	s.metrics.cycles.WithLabelValues(p.String(), boolLabel(ok)).Inc()
	writeJSON(w, http.StatusOK, ok)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	scanUUID, err := uuid.Parse(chi.URLParam(r, "scanUUID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scan uuid")
		return
	}

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Warn(r.Context(), "failed to decode schedule request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	taskUUID, err := s.scheduler.Schedule(r.Context(), scanUUID, req.StartAt, req.EndAt, req.SlackWebhookURL)
	if err != nil {
		s.writeScheduleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, scheduleResponse{TaskUUID: taskUUID.String()})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	scanUUID, err := uuid.Parse(chi.URLParam(r, "scanUUID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scan uuid")
		return
	}

	if err := s.scheduler.Cancel(r.Context(), scanUUID); err != nil {
		s.writeScheduleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeScheduleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, scheduling.ErrInvalidWindow):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, task.ErrScanNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, task.ErrScanAlreadyScheduled), errors.Is(err, scheduling.ErrNotScheduled):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error(r.Context(), "schedule request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
