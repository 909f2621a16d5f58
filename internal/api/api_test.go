package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"convertd/internal/api"
	"convertd/internal/conversion"
	"convertd/internal/logging"
	"convertd/internal/objectstore"
	"convertd/internal/queue"
	"convertd/internal/records"
	"convertd/internal/scheduling"
	"convertd/internal/testsupport"
)

type harness struct {
	handler http.Handler
	queue   queue.Queue
	records *records.Store
	objects *objectstore.Local
}

func newHarness(t *testing.T, token string) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.API.Token = token
	q := testsupport.MustOpenQueue(t, cfg)
	store := testsupport.MustOpenRecords(t, cfg)
	objects, err := objectstore.NewLocal(cfg.Storage.LocalDir, cfg.Storage.LocalPublicURL, cfg.Storage.URLSigningKey)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	srv, err := api.New(api.Deps{
		Config:    cfg,
		Records:   store,
		Queue:     q,
		Objects:   objects,
		Submitter: conversion.NewSubmitter(store, q, 0),
		Schedules: scheduling.NewManager(store, q, 0),
		Logger:    logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	return &harness{handler: srv.Handler(), queue: q, records: store, objects: objects}
}

func (h *harness) do(t *testing.T, method, target, account string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if account != "" {
		req.Header.Set("X-Account-ID", account)
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

// signedPath strips the public base so the URL can be replayed in-process.
func signedPath(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return u.RequestURI()
}

func (h *harness) createFile(t *testing.T, account, name string) (*records.SourceFile, api.UploadURL) {
	t.Helper()
	w := h.do(t, http.MethodPost, "/api/files", account, api.FileRequest{Name: name})
	if w.Code != http.StatusCreated {
		t.Fatalf("create file: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		File   records.SourceFile `json:"file"`
		Upload api.UploadURL      `json:"upload"`
	}
	decodeBody(t, w, &resp)
	return &resp.File, resp.Upload
}

func TestHealth(t *testing.T) {
	h := newHarness(t, "")
	w := h.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("health: %d %s", w.Code, w.Body.String())
	}
}

func TestAuthAndAccountRequired(t *testing.T) {
	h := newHarness(t, "secret")

	w := h.do(t, http.MethodGet, "/api/conversions", "acct", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/conversions", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "X-Account-ID") {
		t.Fatalf("expected 400 without account, got %d %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/conversions", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("X-Account-ID", "acct")
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token and account, got %d", rec.Code)
	}
}

func TestUploadAndConversionLifecycle(t *testing.T) {
	h := newHarness(t, "")
	file, upload := h.createFile(t, "acct", "Photo.PNG")
	if file.Format != "png" || !strings.HasPrefix(file.Key, "users/acct/uploads/") {
		t.Fatalf("unexpected file %#v", file)
	}

	put := h.do(t, http.MethodPut, signedPath(t, upload.URL), "", testsupport.PNG(t, 4, 4))
	if put.Code != http.StatusOK {
		t.Fatalf("signed upload: %d %s", put.Code, put.Body.String())
	}
	if f, err := h.objects.Open(file.Key); err != nil {
		t.Fatalf("upload not stored: %v", err)
	} else {
		f.Close()
	}

	w := h.do(t, http.MethodPost, "/api/conversions", "acct", map[string]any{"fileId": file.ID})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing target, got %d", w.Code)
	}
	var verr struct {
		Fields map[string]string `json:"fields"`
	}
	decodeBody(t, w, &verr)
	if verr.Fields["targetFormat"] != "is required" {
		t.Fatalf("unexpected field errors %#v", verr.Fields)
	}

	w = h.do(t, http.MethodPost, "/api/conversions", "acct", api.ConversionRequest{
		FileID: file.ID, TargetFormat: "jpg", Options: api.OptionsRequest{Quality: 150},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for quality, got %d", w.Code)
	}

	w = h.do(t, http.MethodPost, "/api/conversions", "acct", api.ConversionRequest{FileID: file.ID, TargetFormat: "mp3"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unsupported pair, got %d %s", w.Code, w.Body.String())
	}

	w = h.do(t, http.MethodPost, "/api/conversions", "acct", api.ConversionRequest{
		FileID: file.ID, TargetFormat: "jpg", Options: api.OptionsRequest{Quality: 70},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit: %d %s", w.Code, w.Body.String())
	}
	var conv api.ConversionView
	decodeBody(t, w, &conv)
	if conv.Status != string(records.StatusPending) || conv.JobID == "" {
		t.Fatalf("unexpected conversion %#v", conv)
	}
	job, err := h.queue.Get(context.Background(), conv.JobID)
	if err != nil || job.Priority != 70 {
		t.Fatalf("queued job: %#v, %v", job, err)
	}

	if w := h.do(t, http.MethodGet, "/api/conversions/"+conv.ID, "other", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign account, got %d", w.Code)
	}
	if w := h.do(t, http.MethodGet, "/api/conversions?status=bogus", "acct", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", w.Code)
	}
	w = h.do(t, http.MethodGet, "/api/conversions?status=pending", "acct", nil)
	var list struct {
		Conversions []api.ConversionView `json:"conversions"`
	}
	decodeBody(t, w, &list)
	if len(list.Conversions) != 1 || list.Conversions[0].ID != conv.ID {
		t.Fatalf("unexpected list %#v", list)
	}

	w = h.do(t, http.MethodPost, "/api/conversions/"+conv.ID+"/cancel", "acct", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}
	decodeBody(t, w, &conv)
	if conv.Status != string(records.StatusCancelled) {
		t.Fatalf("expected CANCELLED, got %s", conv.Status)
	}
	if w := h.do(t, http.MethodPost, "/api/conversions/"+conv.ID+"/cancel", "acct", nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second cancel, got %d", w.Code)
	}
}

func TestCompletedConversionCarriesDownloadURL(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	file, _ := h.createFile(t, "acct", "a.png")
	conv := &records.Conversion{AccountID: "acct", FileID: file.ID, SourceFormat: "png", TargetFormat: "jpg", OutputKey: "users/acct/images/2026-03-09/out.jpg"}
	if err := h.records.CreateConversion(ctx, conv); err != nil {
		t.Fatalf("CreateConversion: %v", err)
	}
	if ok, _, err := h.records.MarkProcessing(ctx, conv.ID, records.Lease{JobID: "j", Token: "t", Attempt: 1}); err != nil || !ok {
		t.Fatalf("MarkProcessing = %v, %v", ok, err)
	}
	if _, err := h.objects.Write(conv.OutputKey, strings.NewReader("jpeg bytes")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if ok, err := h.records.MarkComplete(ctx, conv.ID, "t", 10); err != nil || !ok {
		t.Fatalf("MarkComplete = %v, %v", ok, err)
	}

	w := h.do(t, http.MethodGet, "/api/conversions/"+conv.ID, "acct", nil)
	var view api.ConversionView
	decodeBody(t, w, &view)
	if view.DownloadURL == "" {
		t.Fatalf("expected download url, got %#v", view)
	}

	download := h.do(t, http.MethodGet, signedPath(t, view.DownloadURL), "", nil)
	if download.Code != http.StatusOK || download.Body.String() != "jpeg bytes" {
		t.Fatalf("download: %d %q", download.Code, download.Body.String())
	}
	if ct := download.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("unexpected content type %q", ct)
	}

	tampered := strings.Replace(signedPath(t, view.DownloadURL), "signature=", "signature=00", 1)
	if w := h.do(t, http.MethodGet, tampered, "", nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for tampered link, got %d", w.Code)
	}
}

func TestScheduleRoutes(t *testing.T) {
	h := newHarness(t, "")
	file, _ := h.createFile(t, "acct", "report.docx")

	w := h.do(t, http.MethodPost, "/api/schedules", "acct", api.ScheduleRequest{
		FileID: file.ID, Name: "nightly", TargetFormat: "pdf", Schedule: "daily", NotifyAddress: "not-an-email",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad email, got %d", w.Code)
	}
	w = h.do(t, http.MethodPost, "/api/schedules", "acct", api.ScheduleRequest{
		FileID: file.ID, Name: "nightly", TargetFormat: "pdf", Schedule: "daily",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create schedule: %d %s", w.Code, w.Body.String())
	}
	var sched records.ScheduledJob
	decodeBody(t, w, &sched)

	w = h.do(t, http.MethodPost, "/api/schedules/"+sched.ID+"/pause", "acct", nil)
	decodeBody(t, w, &sched)
	if w.Code != http.StatusOK || sched.Active {
		t.Fatalf("pause: %d active=%v", w.Code, sched.Active)
	}

	w = h.do(t, http.MethodGet, "/api/schedules", "acct", nil)
	var list struct {
		Schedules []records.ScheduledJob `json:"schedules"`
	}
	decodeBody(t, w, &list)
	if len(list.Schedules) != 1 {
		t.Fatalf("expected one schedule, got %d", len(list.Schedules))
	}

	if w := h.do(t, http.MethodDelete, "/api/schedules/"+sched.ID, "acct", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", w.Code, w.Body.String())
	}
	if w := h.do(t, http.MethodDelete, "/api/schedules/"+sched.ID, "acct", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", w.Code)
	}
}

func TestQueueNotificationAndDigestRoutes(t *testing.T) {
	h := newHarness(t, "")

	w := h.do(t, http.MethodGet, "/api/queue/stats", "acct", nil)
	var stats api.QueueStats
	decodeBody(t, w, &stats)
	if _, ok := stats["conversion"]["waiting"]; !ok {
		t.Fatalf("stats should be zero-filled: %#v", stats)
	}
	if w := h.do(t, http.MethodGet, "/api/queue/dead?type=bogus", "acct", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown type, got %d", w.Code)
	}

	w = h.do(t, http.MethodGet, "/api/notifications?unread=1", "acct", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"notifications":[]`) {
		t.Fatalf("notifications: %d %s", w.Code, w.Body.String())
	}

	w = h.do(t, http.MethodPost, "/api/digest", "acct", api.DigestRequest{Email: "owner@example.com"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("digest: %d %s", w.Code, w.Body.String())
	}
	var digest api.DigestResponse
	decodeBody(t, w, &digest)
	job, err := h.queue.Get(context.Background(), digest.JobID)
	if err != nil || job.Type != queue.TypeNotification {
		t.Fatalf("digest job: %#v, %v", job, err)
	}
	if digest.StorageUsed != "0 B" {
		t.Fatalf("unexpected storage %q", digest.StorageUsed)
	}
}
