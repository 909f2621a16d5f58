package ffprobe

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestResultHelpers(t *testing.T) {
	result := Result{
		Streams: []Stream{
			{CodecType: "video"},
			{CodecType: "audio"},
			{CodecType: "AUDIO"},
		},
		Format: Format{Duration: "123.45", Size: "1000"},
	}
	if got := result.StreamCount(KindVideo); got != 1 {
		t.Fatalf("expected 1 video stream, got %d", got)
	}
	if got := result.StreamCount(KindAudio); got != 2 {
		t.Fatalf("expected 2 audio streams, got %d", got)
	}
	if result.DurationSeconds() != 123.45 {
		t.Fatalf("unexpected duration: %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 1000 {
		t.Fatalf("unexpected size: %d", result.SizeBytes())
	}
}

func TestResultHelpersHandleInvalidNumbers(t *testing.T) {
	result := Result{Format: Format{Duration: "bad", Size: "-1"}}
	if !math.IsNaN(result.DurationSeconds()) {
		t.Fatalf("expected duration NaN, got %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 0 {
		t.Fatalf("expected size 0, got %d", result.SizeBytes())
	}
}

func writeProbe(t *testing.T, report string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffprobe")
	script := "#!/bin/sh\ncat <<'JSON'\n" + report + "\nJSON\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write probe stub: %v", err)
	}
	return path
}

func TestVerifyAcceptsExpectedStream(t *testing.T) {
	probe := writeProbe(t, `{"streams":[{"index":0,"codec_type":"audio","codec_name":"mp3"}],"format":{"format_name":"mp3"}}`)
	result, err := Verify(context.Background(), probe, "/tmp/out.mp3", KindAudio)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Format.FormatName != "mp3" {
		t.Fatalf("unexpected format: %q", result.Format.FormatName)
	}
}

func TestVerifyRejectsMissingStream(t *testing.T) {
	probe := writeProbe(t, `{"streams":[{"index":0,"codec_type":"audio"}],"format":{}}`)
	_, err := Verify(context.Background(), probe, "/tmp/out.mp4", KindVideo)
	if !errors.Is(err, ErrMissingStream) {
		t.Fatalf("expected ErrMissingStream, got %v", err)
	}
}

func TestInspectReportsToolFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ffprobe")
	if err := os.WriteFile(path, []byte("#!/bin/sh\necho broken >&2\nexit 1\n"), 0o755); err != nil {
		t.Fatalf("write probe stub: %v", err)
	}
	if _, err := Inspect(context.Background(), path, "/tmp/in.mp4"); err == nil {
		t.Fatal("expected error from failing ffprobe")
	}
}
