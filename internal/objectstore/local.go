package objectstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"convertd/internal/fileutil"
)

var (
	// ErrSignatureInvalid is returned for tampered or foreign URLs.
	ErrSignatureInvalid = errors.New("signature invalid")
	// ErrSignatureExpired is returned once a URL's expiry has passed.
	ErrSignatureExpired = errors.New("signature expired")
)

// Local keeps objects in a directory tree. Presigned URLs point at the
// daemon's /objects route and carry an HMAC over method, key and expiry.
type Local struct {
	root    string
	baseURL string
	key     []byte
	now     func() time.Time
}

var _ Store = (*Local)(nil)

// NewLocal creates the root directory if needed.
func NewLocal(root, baseURL, signingKey string) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("objectstore: local directory is required")
	}
	if signingKey == "" {
		return nil, errors.New("objectstore: url signing key is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create object root: %w", err)
	}
	return &Local{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     []byte(signingKey),
		now:     time.Now,
	}, nil
}

// SetClock replaces the time source used for signing and verification.
func (l *Local) SetClock(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

// Root returns the backing directory.
func (l *Local) Root() string { return l.root }

func (l *Local) path(key string) (string, error) {
	return fileutil.SafeJoin(l.root, key)
}

// Get copies key to dst.
func (l *Local) Get(_ context.Context, key, dst string) error {
	src, err := l.path(key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if _, err := fileutil.CopyFile(src, dst); err != nil {
		return fmt.Errorf("copy object %s: %w", key, err)
	}
	return nil
}

// Put copies src under key with integrity verification.
func (l *Local) Put(_ context.Context, key, src, _ string) (int64, error) {
	dst, err := l.path(key)
	if err != nil {
		return 0, err
	}
	n, err := fileutil.CopyFileVerified(src, dst)
	if err != nil {
		return 0, fmt.Errorf("store object %s: %w", key, err)
	}
	return n, nil
}

// Write stores the contents of r under key. It backs presigned uploads.
func (l *Local) Write(key string, r io.Reader) (int64, error) {
	dst, err := l.path(key)
	if err != nil {
		return 0, err
	}
	return fileutil.WriteAtomic(dst, r)
}

// Open returns a reader for key. It backs presigned downloads.
func (l *Local) Open(key string) (*os.File, error) {
	src, err := l.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(src)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return f, err
}

// Delete removes key and prunes empty parent directories.
func (l *Local) Delete(_ context.Context, key string) error {
	target, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	for dir := filepath.Dir(target); dir != l.root && strings.HasPrefix(dir, l.root); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break
		}
	}
	return nil
}

// PresignGet returns a signed download URL.
func (l *Local) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	return l.sign("GET", key, ttl)
}

// PresignPut returns a signed upload URL.
func (l *Local) PresignPut(_ context.Context, key, _ string, ttl time.Duration) (string, error) {
	return l.sign("PUT", key, ttl)
}

func (l *Local) sign(method, key string, ttl time.Duration) (string, error) {
	if _, err := l.path(key); err != nil {
		return "", err
	}
	expires := l.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", l.signature(method, key, expires))
	escaped := (&url.URL{Path: key}).EscapedPath()
	return l.baseURL + "/" + strings.TrimPrefix(escaped, "/") + "?" + q.Encode(), nil
}

func (l *Local) signature(method, key string, expires int64) string {
	mac := hmac.New(sha256.New, l.key)
	fmt.Fprintf(mac, "%s\n%s\n%d", method, key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a presigned request for method on key.
func (l *Local) Verify(method, key, expiresParam, signature string) error {
	expires, err := strconv.ParseInt(expiresParam, 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	expected := l.signature(method, key, expires)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureInvalid
	}
	if l.now().Unix() > expires {
		return ErrSignatureExpired
	}
	return nil
}
