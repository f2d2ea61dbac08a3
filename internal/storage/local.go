package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/JonMunkholm/csvrefinery/internal/core"
	"github.com/JonMunkholm/csvrefinery/internal/logging"
)

// LocalStore implements VersionedStore on the local filesystem.
// Bucket b, key k lives at root/b/k. Versions are content hashes.
type LocalStore struct {
	mu         sync.Mutex
	root       string
	bucket     string
	scratchDir string
}

// NewLocalStore creates a store rooted at root that uploads into bucket.
func NewLocalStore(root, bucket, scratchDir string) (*LocalStore, error) {
	if err := os.MkdirAll(filepath.Join(root, bucket), 0o755); err != nil {
		return nil, fmt.Errorf("creating bucket directory: %w", err)
	}
	return &LocalStore{root: root, bucket: bucket, scratchDir: scratchDir}, nil
}

// Path returns where bucket/key is stored.
func (s *LocalStore) Path(bucket, key string) string {
	return filepath.Join(s.root, bucket, filepath.FromSlash(key))
}

// Download implements Store.
func (s *LocalStore) Download(ctx context.Context, bucket, key string) (string, error) {
	p, _, err := s.DownloadVersion(ctx, bucket, key)
	return p, err
}

// DownloadVersion implements VersionedStore.
func (s *LocalStore) DownloadVersion(ctx context.Context, bucket, key string) (string, string, error) {
	op := fmt.Sprintf("download %s/%s", bucket, key)

	s.mu.Lock()
	defer s.mu.Unlock()

	src, err := os.Open(s.Path(bucket, key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", "", core.E(core.KindStore, op, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key))
	}
	if err != nil {
		return "", "", core.E(core.KindStore, op, err)
	}
	defer src.Close()

	local, err := localPathFor(ctx, s.scratchDir, key)
	if err != nil {
		return "", "", core.E(core.KindStore, op, err)
	}

	h := sha256.New()
	if err := writeFile(local, io.TeeReader(src, h)); err != nil {
		return "", "", core.E(core.KindStore, op, err)
	}

	logging.FromContext(ctx).Debug("object downloaded", "bucket", bucket, "key", key, "path", local)
	return local, hex.EncodeToString(h.Sum(nil)), nil
}

// Upload implements Store.
func (s *LocalStore) Upload(ctx context.Context, key, localPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(ctx, key, localPath)
}

// UploadIfVersion implements VersionedStore.
func (s *LocalStore) UploadIfVersion(ctx context.Context, key, localPath, version string) error {
	op := fmt.Sprintf("upload %s/%s", s.bucket, key)
	if err := requireBucket(op, s.bucket); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.version(key)
	if err != nil {
		return core.E(core.KindStore, op, err)
	}
	if current != version {
		return core.E(core.KindStore, op, fmt.Errorf("%w: have %q, want %q", ErrPreconditionFailed, current, version))
	}
	return s.put(ctx, key, localPath)
}

// version returns the content hash of key in the destination bucket, or "".
func (s *LocalStore) version(key string) (string, error) {
	f, err := os.Open(s.Path(s.bucket, key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (s *LocalStore) put(ctx context.Context, key, localPath string) error {
	op := fmt.Sprintf("upload %s/%s", s.bucket, key)
	if err := requireBucket(op, s.bucket); err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return core.E(core.KindStore, op, err)
	}
	defer src.Close()

	dst := s.Path(s.bucket, key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return core.E(core.KindStore, op, err)
	}
	if err := writeFile(dst, src); err != nil {
		return core.E(core.KindStore, op, err)
	}

	logging.FromContext(ctx).Info("object uploaded", "bucket", s.bucket, "key", key)
	return nil
}
