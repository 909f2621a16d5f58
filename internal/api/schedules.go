package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"convertd/internal/records"
	"convertd/internal/scheduling"
)

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if !s.decode(w, r, &req) {
		return
	}
	job, err := s.deps.Schedules.Create(r.Context(), scheduling.CreateRequest{
		AccountID:     accountFrom(r),
		FileID:        req.FileID,
		Name:          req.Name,
		TargetFormat:  req.TargetFormat,
		Schedule:      req.Schedule,
		Options:       records.Options{Quality: req.Options.Quality, Resolution: req.Options.Resolution},
		NotifyAddress: req.NotifyAddress,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.deps.Schedules.List(r.Context(), accountFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*records.ScheduledJob{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"schedules": jobs})
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Schedules.Delete(r.Context(), accountFrom(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePauseSchedule(w http.ResponseWriter, r *http.Request) {
	s.setScheduleActive(w, r, false)
}

func (s *Server) handleResumeSchedule(w http.ResponseWriter, r *http.Request) {
	s.setScheduleActive(w, r, true)
}

func (s *Server) setScheduleActive(w http.ResponseWriter, r *http.Request, active bool) {
	job, err := s.deps.Schedules.SetActive(r.Context(), accountFrom(r), chi.URLParam(r, "id"), active)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}
