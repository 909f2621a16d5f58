// Package objectstore moves source files and conversion outputs in and out of
// the object store and mints time-limited access URLs.
//
// Two backends are available: S3 (or any S3-compatible endpoint) through
// aws-sdk-go, and a local directory whose URLs are HMAC signed and served by
// the daemon's HTTP API.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"convertd/internal/config"
)

// ErrNotFound is returned when an object key does not exist.
var ErrNotFound = errors.New("object not found")

// Store is the object store contract used by the pipeline.
type Store interface {
	// Get downloads key into the local file dst.
	Get(ctx context.Context, key, dst string) error
	// Put uploads the local file src under key and returns its size.
	Put(ctx context.Context, key, src, contentType string) (int64, error)
	Delete(ctx context.Context, key string) error
	// PresignGet returns a download URL valid for ttl.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	// PresignPut returns an upload URL valid for ttl.
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
}

// Open builds the backend selected by cfg.Storage.Backend.
func Open(cfg *config.Config) (Store, error) {
	if cfg == nil {
		return nil, errors.New("objectstore: config is required")
	}
	switch cfg.Storage.Backend {
	case config.StorageS3:
		return NewS3(cfg.Storage)
	case config.StorageLocal, "":
		return NewLocal(cfg.Storage.LocalDir, cfg.Storage.LocalPublicURL, cfg.Storage.URLSigningKey)
	default:
		return nil, fmt.Errorf("objectstore: unknown backend %q", cfg.Storage.Backend)
	}
}
