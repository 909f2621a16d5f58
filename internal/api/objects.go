package api

import (
	"errors"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"convertd/internal/dispatch"
	"convertd/internal/objectstore"
)

// handleObjectGet serves presigned downloads for the local object store.
func (s *Server) handleObjectGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if !s.verifySignature(w, r, http.MethodGet, key) {
		return
	}
	file, err := s.local.Open(key)
	if errors.Is(err, objectstore.ErrNotFound) {
		writeErrorBody(w, http.StatusNotFound, "object not found")
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", dispatch.ContentType(FormatFromName(key), file.Name()))
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(key)+`"`)
	http.ServeContent(w, r, path.Base(key), info.ModTime(), file)
}

// handleObjectPut accepts presigned uploads for the local object store.
func (s *Server) handleObjectPut(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if !s.verifySignature(w, r, http.MethodPut, key) {
		return
	}
	size, err := s.local.Write(key, r.Body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"key": key, "size": size})
}

func (s *Server) verifySignature(w http.ResponseWriter, r *http.Request, method, key string) bool {
	query := r.URL.Query()
	err := s.local.Verify(method, key, query.Get("expires"), query.Get("signature"))
	switch {
	case err == nil:
		return true
	case errors.Is(err, objectstore.ErrSignatureExpired):
		writeErrorBody(w, http.StatusForbidden, "link expired")
	default:
		writeErrorBody(w, http.StatusForbidden, "invalid signature")
	}
	return false
}
