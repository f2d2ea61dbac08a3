package testutil

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/JonMunkholm/csvrefinery/internal/core"
	"github.com/JonMunkholm/csvrefinery/internal/storage"
)

// MemoryStore implements storage.VersionedStore in memory for testing.
// Versions are per-key write counters.
type MemoryStore struct {
	mu       sync.Mutex
	bucket   string
	scratch  string
	objects  map[string][]byte
	versions map[string]int

	downloads   []string
	uploads     []string
	conditional int

	// DownloadErr and UploadErr, when set, fail every call.
	DownloadErr error
	UploadErr   error
	// UploadErrFor fails uploads of specific keys.
	UploadErrFor map[string]error
	// BeforeConditionalUpload runs before each UploadIfVersion compares
	// versions; call counts from 1.
	BeforeConditionalUpload func(call int)
}

// NewMemoryStore creates an empty store uploading into bucket.
func NewMemoryStore(t testing.TB, bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:       bucket,
		scratch:      t.TempDir(),
		objects:      make(map[string][]byte),
		versions:     make(map[string]int),
		UploadErrFor: make(map[string]error),
	}
}

func objectID(bucket, key string) string {
	return bucket + "/" + key
}

// Put stores data directly, bypassing error injection.
func (m *MemoryStore) Put(bucket, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := objectID(bucket, key)
	m.objects[id] = append([]byte(nil), data...)
	m.versions[id]++
}

// Get returns the stored object.
func (m *MemoryStore) Get(bucket, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[objectID(bucket, key)]
	return data, ok
}

// Downloads returns every "bucket/key" passed to Download, in order.
func (m *MemoryStore) Downloads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.downloads...)
}

// Uploads returns every key passed to Upload or UploadIfVersion, in order.
func (m *MemoryStore) Uploads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.uploads...)
}

// ConditionalUploads returns the number of UploadIfVersion calls.
func (m *MemoryStore) ConditionalUploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conditional
}

// Download implements storage.Store.
func (m *MemoryStore) Download(ctx context.Context, bucket, key string) (string, error) {
	p, _, err := m.DownloadVersion(ctx, bucket, key)
	return p, err
}

// DownloadVersion implements storage.VersionedStore.
func (m *MemoryStore) DownloadVersion(ctx context.Context, bucket, key string) (string, string, error) {
	op := "download " + objectID(bucket, key)

	m.mu.Lock()
	m.downloads = append(m.downloads, objectID(bucket, key))
	data, ok := m.objects[objectID(bucket, key)]
	version := m.versionLocked(bucket, key)
	m.mu.Unlock()

	if m.DownloadErr != nil {
		return "", "", core.E(core.KindStore, op, m.DownloadErr)
	}
	if !ok {
		return "", "", core.E(core.KindStore, op, fmt.Errorf("%w: %s", storage.ErrNotFound, key))
	}

	dir := storage.ScratchDir(ctx, m.scratch)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", core.E(core.KindStore, op, err)
	}
	local := filepath.Join(dir, path.Base(key))
	if err := os.WriteFile(local, data, 0o644); err != nil {
		return "", "", core.E(core.KindStore, op, err)
	}
	return local, version, nil
}

// Upload implements storage.Store.
func (m *MemoryStore) Upload(_ context.Context, key, localPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putLocked(key, localPath)
}

// UploadIfVersion implements storage.VersionedStore.
func (m *MemoryStore) UploadIfVersion(_ context.Context, key, localPath, version string) error {
	m.mu.Lock()
	m.conditional++
	call := m.conditional
	m.mu.Unlock()

	if m.BeforeConditionalUpload != nil {
		m.BeforeConditionalUpload(call)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if current := m.versionLocked(m.bucket, key); current != version {
		m.uploads = append(m.uploads, key)
		return core.E(core.KindStore, "upload "+key,
			fmt.Errorf("%w: have %q, want %q", storage.ErrPreconditionFailed, current, version))
	}
	return m.putLocked(key, localPath)
}

func (m *MemoryStore) versionLocked(bucket, key string) string {
	v, ok := m.versions[objectID(bucket, key)]
	if !ok {
		return ""
	}
	return strconv.Itoa(v)
}

func (m *MemoryStore) putLocked(key, localPath string) error {
	m.uploads = append(m.uploads, key)
	op := "upload " + objectID(m.bucket, key)

	if m.UploadErr != nil {
		return core.E(core.KindStore, op, m.UploadErr)
	}
	if err := m.UploadErrFor[key]; err != nil {
		return core.E(core.KindStore, op, err)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return core.E(core.KindStore, op, err)
	}
	id := objectID(m.bucket, key)
	m.objects[id] = data
	m.versions[id]++
	return nil
}
