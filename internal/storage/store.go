// Package storage moves objects between buckets and the local scratch area.
//
// Two implementations are provided: S3Store for AWS S3 and S3-compatible
// services (MinIO, LocalStack), and LocalStore which maps buckets onto
// directories for development and tests.
package storage

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"

	"github.com/JonMunkholm/csvrefinery/internal/core"
)

// ErrNotFound is returned (wrapped) when the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// ErrPreconditionFailed is returned (wrapped) when a conditional upload finds
// the object at a different version than expected.
var ErrPreconditionFailed = errors.New("precondition failed")

// Store downloads objects from any bucket and uploads into one destination bucket.
// Errors are *core.Error of KindStore.
type Store interface {
	// Download fetches bucket/key into the scratch area and returns the local path.
	Download(ctx context.Context, bucket, key string) (string, error)
	// Upload writes the file at localPath to key in the destination bucket,
	// replacing any existing object.
	Upload(ctx context.Context, key, localPath string) error
}

// VersionedStore is a Store that supports optimistic concurrency.
// A version is an opaque token (the S3 ETag); the empty version means
// "the object does not exist".
type VersionedStore interface {
	Store
	// DownloadVersion is Download that also returns the object's version.
	DownloadVersion(ctx context.Context, bucket, key string) (localPath, version string, err error)
	// UploadIfVersion uploads only if the object is still at version.
	// Returns an error wrapping ErrPreconditionFailed otherwise.
	UploadIfVersion(ctx context.Context, key, localPath, version string) error
}

type scratchDirKey struct{}

// WithScratchDir returns a context whose downloads land in dir.
func WithScratchDir(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, scratchDirKey{}, dir)
}

// ScratchDir returns the directory set by WithScratchDir, or fallback.
func ScratchDir(ctx context.Context, fallback string) string {
	if dir, ok := ctx.Value(scratchDirKey{}).(string); ok && dir != "" {
		return dir
	}
	return fallback
}

// localPathFor returns where a downloaded key is written.
// Only the key's base name is kept.
func localPathFor(ctx context.Context, fallback, key string) (string, error) {
	dir := ScratchDir(ctx, fallback)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, path.Base(key)), nil
}

// requireBucket fails uploads when no destination bucket is configured.
func requireBucket(op, bucket string) error {
	if bucket == "" {
		return core.Errorf(core.KindConfiguration, op, "REFINED_BUCKET_NAME is not set")
	}
	return nil
}
