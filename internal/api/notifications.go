package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"convertd/internal/notifications"
	"convertd/internal/queue"
	"convertd/internal/records"
	"convertd/internal/services"
)

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	unread := r.URL.Query().Get("unread")
	unreadOnly := unread == "1" || strings.EqualFold(unread, "true")
	list, err := s.deps.Records.ListNotifications(r.Context(), accountFrom(r), unreadOnly, queryInt(r, "limit", 50))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*records.Notification{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

func (s *Server) handleReadNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Records.MarkNotificationRead(r.Context(), accountFrom(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	var req DigestRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, digest, err := notifications.SendDigest(r.Context(), s.deps.Records, s.deps.Notifier, accountFrom(r), req.Email, s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, DigestResponse{
		JobID:       id,
		Total:       digest.Total,
		Succeeded:   digest.Succeeded,
		Failed:      digest.Failed,
		StorageUsed: digest.StorageUsed,
	})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queueSvc.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleQueueDead(w http.ResponseWriter, r *http.Request) {
	var jobType queue.Type
	if value := r.URL.Query().Get("type"); value != "" {
		parsed, ok := queue.ParseType(value)
		if !ok {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "dead jobs", "unknown job type "+value, nil))
			return
		}
		jobType = parsed
	}
	jobs, err := s.queueSvc.Dead(r.Context(), jobType, queryInt(r, "limit", 50))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}
