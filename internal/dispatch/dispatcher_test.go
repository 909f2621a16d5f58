package dispatch_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"convertd/internal/config"
	"convertd/internal/dispatch"
	"convertd/internal/logging"
	"convertd/internal/objectstore"
	"convertd/internal/services"
	"convertd/internal/testsupport"
)

type harness struct {
	cfg        *config.Config
	store      *objectstore.Local
	dispatcher *dispatch.Dispatcher
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store, err := objectstore.NewLocal(cfg.Storage.LocalDir, cfg.Storage.LocalPublicURL, cfg.Storage.URLSigningKey)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return &harness{
		cfg:        cfg,
		store:      store,
		dispatcher: dispatch.New(cfg, store, logging.NewNop()),
	}
}

func (h *harness) seed(t *testing.T, key string, data []byte) {
	t.Helper()
	if _, err := h.store.Write(key, bytes.NewReader(data)); err != nil {
		t.Fatalf("seed %s: %v", key, err)
	}
}

func (h *harness) read(t *testing.T, key string) []byte {
	t.Helper()
	f, err := h.store.Open(key)
	if err != nil {
		t.Fatalf("open %s: %v", key, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	return data
}

func assertWorkspaceEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		t.Fatalf("read workspace: %v", err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("workspace not cleaned up: %v", names)
	}
}

func argAfter(args []string, flag string) string {
	idx := slices.Index(args, flag)
	if idx < 0 || idx+1 >= len(args) {
		return ""
	}
	return args[idx+1]
}

func TestDispatchRasterResizesAndStores(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "users/a/uploads/photo.png", testsupport.PNG(t, 40, 20))

	res, err := h.dispatcher.Dispatch(context.Background(), dispatch.Request{
		SourceKey:    "users/a/uploads/photo.png",
		SourceFormat: "png",
		TargetFormat: "jpg",
		OutputKey:    "users/a/images/out.jpg",
		Options:      dispatch.Options{Quality: 70, Resolution: "20x10"},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Strategy != dispatch.StrategyRaster {
		t.Fatalf("unexpected strategy %s", res.Strategy)
	}
	if res.ContentType != "image/jpeg" {
		t.Fatalf("unexpected content type %q", res.ContentType)
	}
	data := h.read(t, "users/a/images/out.jpg")
	if int64(len(data)) != res.Size || res.Size == 0 {
		t.Fatalf("size mismatch: result %d, stored %d", res.Size, len(data))
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "jpeg" || cfg.Width != 20 || cfg.Height != 10 {
		t.Fatalf("unexpected output %s %dx%d", format, cfg.Width, cfg.Height)
	}
	assertWorkspaceEmpty(t, h.dispatcher.WorkDir())
}

func TestDispatchRasterEmbedWritesPDF(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "in/scan.png", testsupport.PNG(t, 30, 50))

	res, err := h.dispatcher.Dispatch(context.Background(), dispatch.Request{
		SourceKey:    "in/scan.png",
		SourceFormat: "png",
		TargetFormat: "pdf",
		OutputKey:    "out/scan.pdf",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Strategy != dispatch.StrategyRasterEmbed || res.ContentType != "application/pdf" {
		t.Fatalf("unexpected result %#v", res)
	}
	if data := h.read(t, "out/scan.pdf"); !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("output is not a pdf: %q", data[:min(len(data), 16)])
	}
	assertWorkspaceEmpty(t, h.dispatcher.WorkDir())
}

func TestDispatchDocumentRunsLibreOffice(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "in/report.docx", []byte("fake docx"))

	var gotName string
	var gotArgs []string
	h.dispatcher.WithCommandRunner(func(_ context.Context, name string, args ...string) error {
		gotName = name
		gotArgs = args
		input := args[len(args)-1]
		base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		produced := filepath.Join(argAfter(args, "--outdir"), base+".pdf")
		return os.WriteFile(produced, []byte("%PDF-1.7 converted"), 0o644)
	})

	res, err := h.dispatcher.Dispatch(context.Background(), dispatch.Request{
		SourceKey:    "in/report.docx",
		SourceFormat: "docx",
		TargetFormat: "pdf",
		OutputKey:    "out/report.pdf",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if gotName != "soffice" {
		t.Fatalf("expected soffice, got %q", gotName)
	}
	if argAfter(gotArgs, "--convert-to") != "pdf" || !slices.Contains(gotArgs, "--headless") {
		t.Fatalf("unexpected args %v", gotArgs)
	}
	if input := gotArgs[len(gotArgs)-1]; !strings.HasPrefix(filepath.Base(input), "ly-in-") || filepath.Ext(input) != ".docx" {
		t.Fatalf("unexpected input path %q", input)
	}
	if res.Size != int64(len("%PDF-1.7 converted")) {
		t.Fatalf("unexpected size %d", res.Size)
	}
	assertWorkspaceEmpty(t, h.dispatcher.WorkDir())
}

func TestDispatchDocumentUsesGotenbergForPDF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/forms/libreoffice/convert" {
			http.NotFound(w, r)
			return
		}
		file, header, err := r.FormFile("files")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		if filepath.Ext(header.Filename) != ".odt" {
			http.Error(w, "bad name", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("%PDF-1.7 from gotenberg"))
	}))
	defer srv.Close()

	h := newHarness(t)
	h.cfg.Converters.DocumentBackend = config.DocumentGotenberg
	h.cfg.Converters.GotenbergURL = srv.URL
	h.dispatcher = dispatch.New(h.cfg, h.store, logging.NewNop())
	h.dispatcher.WithCommandRunner(func(context.Context, string, ...string) error {
		t.Fatal("libreoffice must not run for gotenberg pdf targets")
		return nil
	})
	h.seed(t, "in/letter.odt", []byte("fake odt"))

	if _, err := h.dispatcher.Dispatch(context.Background(), dispatch.Request{
		SourceKey:    "in/letter.odt",
		SourceFormat: "odt",
		TargetFormat: "pdf",
		OutputKey:    "out/letter.pdf",
	}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := string(h.read(t, "out/letter.pdf")); got != "%PDF-1.7 from gotenberg" {
		t.Fatalf("unexpected output %q", got)
	}
	assertWorkspaceEmpty(t, h.dispatcher.WorkDir())
}

func TestDispatchMediaAudioTargetIgnoresResolution(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "in/clip.mp4", []byte("fake mp4"))

	var gotArgs []string
	h.dispatcher.WithCommandRunner(func(_ context.Context, name string, args ...string) error {
		gotArgs = args
		return os.WriteFile(args[len(args)-1], []byte("ID3 audio"), 0o644)
	})

	res, err := h.dispatcher.Dispatch(context.Background(), dispatch.Request{
		SourceKey:    "in/clip.mp4",
		SourceFormat: "mp4",
		TargetFormat: "mp3",
		OutputKey:    "out/clip.mp3",
		Options:      dispatch.Options{Resolution: "1280x720"},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Strategy != dispatch.StrategyMedia || res.ContentType != "audio/mpeg" {
		t.Fatalf("unexpected result %#v", res)
	}
	if slices.Contains(gotArgs, "-s") || !slices.Contains(gotArgs, "-vn") {
		t.Fatalf("audio target args should drop video and resolution: %v", gotArgs)
	}
	if out := gotArgs[len(gotArgs)-1]; !strings.HasPrefix(filepath.Base(out), "ly-out-") || filepath.Ext(out) != ".mp3" {
		t.Fatalf("unexpected output path %q", out)
	}
	assertWorkspaceEmpty(t, h.dispatcher.WorkDir())
}

func TestDispatchMediaVideoTargetPassesResolution(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "in/clip.mov", []byte("fake mov"))

	var gotArgs []string
	h.dispatcher.WithCommandRunner(func(_ context.Context, _ string, args ...string) error {
		gotArgs = args
		return os.WriteFile(args[len(args)-1], []byte("video"), 0o644)
	})
	if _, err := h.dispatcher.Dispatch(context.Background(), dispatch.Request{
		SourceKey:    "in/clip.mov",
		SourceFormat: "mov",
		TargetFormat: "webm",
		OutputKey:    "out/clip.webm",
		Options:      dispatch.Options{Resolution: "640x360"},
	}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if argAfter(gotArgs, "-s") != "640x360" {
		t.Fatalf("expected resolution flag, got %v", gotArgs)
	}
}

func TestDispatchMediaValidationRejectsWrongStreams(t *testing.T) {
	h := newHarness(t)
	probe := filepath.Join(testsupport.BaseDir(h.cfg), "bin", "ffprobe")
	testsupport.WriteScript(t, probe, "#!/bin/sh\necho '{\"streams\":[{\"codec_type\":\"audio\"}],\"format\":{}}'\n")
	h.cfg.Converters.ValidateMediaOutput = true
	h.cfg.Converters.FFprobeBinary = probe
	h.dispatcher = dispatch.New(h.cfg, h.store, logging.NewNop())
	h.dispatcher.WithCommandRunner(func(_ context.Context, _ string, args ...string) error {
		return os.WriteFile(args[len(args)-1], []byte("video"), 0o644)
	})
	h.seed(t, "in/clip.avi", []byte("fake avi"))

	_, err := h.dispatcher.Dispatch(context.Background(), dispatch.Request{
		SourceKey:    "in/clip.avi",
		SourceFormat: "avi",
		TargetFormat: "mp4",
		OutputKey:    "out/clip.mp4",
	})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if _, statErr := h.store.Open("out/clip.mp4"); statErr == nil {
		t.Fatal("rejected output must not be stored")
	}
	assertWorkspaceEmpty(t, h.dispatcher.WorkDir())
}

func TestDispatchToolFailureIsRetryableAndCleansUp(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "in/song.wav", []byte("RIFF"))
	h.dispatcher.WithCommandRunner(func(_ context.Context, _ string, args ...string) error {
		_ = os.WriteFile(args[len(args)-1], []byte("partial"), 0o644)
		return errors.New("exit status 1")
	})

	_, err := h.dispatcher.Dispatch(context.Background(), dispatch.Request{
		SourceKey:    "in/song.wav",
		SourceFormat: "wav",
		TargetFormat: "flac",
		OutputKey:    "out/song.flac",
	})
	if !errors.Is(err, services.ErrExternalTool) || !services.Retryable(err) {
		t.Fatalf("expected retryable external tool error, got %v", err)
	}
	assertWorkspaceEmpty(t, h.dispatcher.WorkDir())
}

func TestDispatchUnsupportedPairIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "in/archive.zip", []byte("PK"))
	h.dispatcher.WithCommandRunner(func(context.Context, string, ...string) error {
		t.Fatal("no strategy may run for an unsupported pair")
		return nil
	})

	_, err := h.dispatcher.Dispatch(context.Background(), dispatch.Request{
		SourceKey:    "in/archive.zip",
		SourceFormat: "zip",
		TargetFormat: "pdf",
		OutputKey:    "out/archive.pdf",
	})
	var unsupported *dispatch.UnsupportedConversionError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedConversionError, got %v", err)
	}
	if unsupported.Source != "zip" || unsupported.Target != "pdf" {
		t.Fatalf("unexpected error fields %#v", unsupported)
	}
	assertWorkspaceEmpty(t, h.dispatcher.WorkDir())
}

func TestDispatchMissingSourceIsNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.dispatcher.Dispatch(context.Background(), dispatch.Request{
		SourceKey:    "in/missing.png",
		SourceFormat: "png",
		TargetFormat: "gif",
		OutputKey:    "out/missing.gif",
	})
	if !errors.Is(err, services.ErrNotFound) || services.Retryable(err) {
		t.Fatalf("expected terminal not found error, got %v", err)
	}
	assertWorkspaceEmpty(t, h.dispatcher.WorkDir())
}

func TestDispatchCorruptImageIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "in/broken.png", []byte("not an image"))
	_, err := h.dispatcher.Dispatch(context.Background(), dispatch.Request{
		SourceKey:    "in/broken.png",
		SourceFormat: "png",
		TargetFormat: "jpg",
		OutputKey:    "out/broken.jpg",
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	assertWorkspaceEmpty(t, h.dispatcher.WorkDir())
}

func TestContentType(t *testing.T) {
	if got := dispatch.ContentType("MP3", ""); got != "audio/mpeg" {
		t.Fatalf("ContentType(mp3) = %q", got)
	}
	if got := dispatch.ContentType("odp", ""); got != "application/octet-stream" {
		t.Fatalf("ContentType without file = %q", got)
	}
	path := filepath.Join(t.TempDir(), "page.html")
	if err := os.WriteFile(path, []byte("<!DOCTYPE html><html><body>hi</body></html>"), 0o644); err != nil {
		t.Fatalf("write html: %v", err)
	}
	if got := dispatch.ContentType("html", path); !strings.HasPrefix(got, "text/html") {
		t.Fatalf("ContentType(html) = %q", got)
	}
}
