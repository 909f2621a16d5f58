package api

import (
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"convertd/internal/dispatch"
	"convertd/internal/records"
	"convertd/internal/services"
)

type fileResponse struct {
	File   *records.SourceFile `json:"file"`
	Upload *UploadURL          `json:"upload,omitempty"`
}

// FileKey returns the object key for an upload named name.
func FileKey(accountID, name string) string {
	return fmt.Sprintf("users/%s/uploads/%s/%s", accountID, uuid.NewString(), path.Base(name))
}

// FormatFromName derives a format from a file extension.
func FormatFromName(name string) string {
	return dispatch.NormalizeFormat(strings.TrimPrefix(path.Ext(name), "."))
}

func (s *Server) handleCreateFile(w http.ResponseWriter, r *http.Request) {
	var req FileRequest
	if !s.decode(w, r, &req) {
		return
	}
	account := accountFrom(r)
	format := dispatch.NormalizeFormat(req.Format)
	if format == "" {
		format = FormatFromName(req.Name)
	}
	if format == "" {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "file", "format is required when the name has no extension", nil))
		return
	}
	key := strings.TrimSpace(req.Key)
	if key == "" {
		key = FileKey(account, req.Name)
	}
	if !strings.HasPrefix(key, "users/"+account+"/") {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "file", "key must live under the account prefix", nil))
		return
	}

	file := &records.SourceFile{AccountID: account, Key: key, Format: format, Name: req.Name, Size: req.Size}
	if err := s.deps.Records.CreateSourceFile(r.Context(), file); err != nil {
		s.writeError(w, r, err)
		return
	}
	upload, err := s.uploadURL(r, file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, fileResponse{File: file, Upload: upload})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.deps.Records.ListSourceFiles(r.Context(), accountFrom(r), queryInt(r, "limit", 50))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if files == nil {
		files = []*records.SourceFile{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	file, err := s.deps.Records.GetSourceFile(r.Context(), accountFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	upload, err := s.uploadURL(r, file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, upload)
}

func (s *Server) uploadURL(r *http.Request, file *records.SourceFile) (*UploadURL, error) {
	ttl := s.deps.Config.Storage.UploadExpiry()
	url, err := s.deps.Objects.PresignPut(r.Context(), file.Key, dispatch.ContentType(file.Format, ""), ttl)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "api", "presign upload", "", err)
	}
	return &UploadURL{URL: url, Key: file.Key, ExpiresAt: formatTime(s.now().Add(ttl))}, nil
}
