package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"convertd/internal/conversion"
	"convertd/internal/logging"
	"convertd/internal/records"
	"convertd/internal/services"
)

func (s *Server) handleCreateConversion(w http.ResponseWriter, r *http.Request) {
	var req ConversionRequest
	if !s.decode(w, r, &req) {
		return
	}
	conv, err := s.deps.Submitter.Submit(r.Context(), conversion.Request{
		AccountID:     accountFrom(r),
		FileID:        req.FileID,
		TargetFormat:  req.TargetFormat,
		Options:       records.Options{Quality: req.Options.Quality, Resolution: req.Options.Resolution},
		NotifyAddress: req.NotifyAddress,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, s.conversionView(r, conv))
}

func (s *Server) handleListConversions(w http.ResponseWriter, r *http.Request) {
	filter := records.ConversionFilter{AccountID: accountFrom(r), Limit: queryInt(r, "limit", 50)}
	if value := r.URL.Query().Get("status"); value != "" {
		status, ok := records.ParseConversionStatus(value)
		if !ok {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "list conversions", "unknown status "+value, nil))
			return
		}
		filter.Status = status
	}
	list, err := s.deps.Records.ListConversions(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]ConversionView, 0, len(list))
	for _, conv := range list {
		views = append(views, s.conversionView(r, conv))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"conversions": views})
}

func (s *Server) handleGetConversion(w http.ResponseWriter, r *http.Request) {
	conv, err := s.deps.Records.GetConversionForAccount(r.Context(), accountFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.conversionView(r, conv))
}

func (s *Server) handleCancelConversion(w http.ResponseWriter, r *http.Request) {
	account := accountFrom(r)
	id := chi.URLParam(r, "id")
	ok, err := s.deps.Submitter.Cancel(r.Context(), account, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		writeErrorBody(w, http.StatusConflict, "conversion is no longer pending")
		return
	}
	conv, err := s.deps.Records.GetConversionForAccount(r.Context(), account, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.conversionView(r, conv))
}

// conversionView attaches a fresh download link to complete conversions.
func (s *Server) conversionView(r *http.Request, conv *records.Conversion) ConversionView {
	view := ConversionView{
		ID:               conv.ID,
		FileID:           conv.FileID,
		SourceFormat:     conv.SourceFormat,
		TargetFormat:     conv.TargetFormat,
		Status:           string(conv.Status),
		Progress:         conv.Progress,
		Attempt:          conv.Attempt,
		JobID:            conv.JobID,
		ErrorMessage:     conv.ErrorMessage,
		LastAttemptError: conv.LastAttemptError,
		OutputSize:       conv.OutputSize,
		CreatedAt:        formatTime(conv.CreatedAt),
		StartedAt:        formatTimePtr(conv.StartedAt),
		CompletedAt:      formatTimePtr(conv.CompletedAt),
	}
	if conv.Status == records.StatusComplete {
		url, err := s.deps.Objects.PresignGet(r.Context(), conv.OutputKey, s.deps.Config.Storage.DownloadExpiry())
		if err != nil {
			s.logger.Warn("download link not issued", logging.String(logging.FieldConversionID, conv.ID), logging.Error(err))
		} else {
			view.DownloadURL = url
		}
	}
	return view
}
