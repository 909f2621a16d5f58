package objectstore

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newLocal(t *testing.T) *Local {
	t.Helper()
	store, err := NewLocal(filepath.Join(t.TempDir(), "objects"), "http://127.0.0.1:7488/objects", "secret")
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return store
}

func TestLocalPutGetDelete(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()
	src := filepath.Join(t.TempDir(), "in.txt")
	if err := os.WriteFile(src, []byte("converted"), 0o644); err != nil {
		t.Fatal(err)
	}
	key := "users/a1/documents/2026-03-02/out.txt"
	n, err := store.Put(ctx, key, src, "text/plain")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if n != int64(len("converted")) {
		t.Fatalf("Put size = %d", n)
	}

	dst := filepath.Join(t.TempDir(), "copy.txt")
	if err := store.Get(ctx, key, dst); err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, _ := os.ReadFile(dst)
	if string(data) != "converted" {
		t.Fatalf("unexpected content %q", data)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Get(ctx, key, dst); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), "users")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected empty parents pruned, got %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("deleting a missing key should succeed: %v", err)
	}
}

func TestLocalPresignedURLRoundTrip(t *testing.T) {
	store := newLocal(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	raw, err := store.PresignGet(context.Background(), "users/a1/images/2026-03-02/a b.png", time.Hour)
	if err != nil {
		t.Fatalf("PresignGet: %v", err)
	}
	if !strings.HasPrefix(raw, "http://127.0.0.1:7488/objects/users/a1/images/2026-03-02/a%20b.png?") {
		t.Fatalf("unexpected url %s", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	key := strings.TrimPrefix(u.Path, "/objects/")
	q := u.Query()
	if err := store.Verify("GET", key, q.Get("expires"), q.Get("signature")); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := store.Verify("PUT", key, q.Get("expires"), q.Get("signature")); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("GET signature must not authorize PUT, got %v", err)
	}
	if err := store.Verify("GET", key+"x", q.Get("expires"), q.Get("signature")); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("signature must bind the key, got %v", err)
	}

	now = now.Add(time.Hour + time.Second)
	if err := store.Verify("GET", key, q.Get("expires"), q.Get("signature")); !errors.Is(err, ErrSignatureExpired) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestLocalWriteThenOpen(t *testing.T) {
	store := newLocal(t)
	if _, err := store.Write("uploads/a1/report.docx", strings.NewReader("docx bytes")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f, err := store.Open("uploads/a1/report.docx")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	f.Close()
	if _, err := store.Open("uploads/a1/missing.docx"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
