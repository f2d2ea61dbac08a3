// Package ledger maintains the append-only JSON logs that record every
// refined and quarantined file.
//
// A log is a single object in the refined bucket:
//
//	{
//	  "ingested_files": [
//	    {"timestamp": "2025-01-01T10:00:00.123456+00:00", "file": "refined/2025/01/01/data.parquet"}
//	  ]
//	}
//
// Updates are read-modify-write. Without conditional writes two concurrent
// invocations can lose one entry (last writer wins).
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/JonMunkholm/csvrefinery/internal/core"
	"github.com/JonMunkholm/csvrefinery/internal/logging"
	"github.com/JonMunkholm/csvrefinery/internal/storage"
)

// Well-known log object keys.
const (
	RefinementLogKey = "refinement-log.json"
	QuarantineLogKey = "quarantine-log.json"
)

// Category is a top-level key of a log document.
type Category string

const (
	Ingested    Category = "ingested_files"
	Quarantined Category = "quarantined_files"
)

// TimestampLayout is ISO-8601 local time with microseconds and offset.
const TimestampLayout = "2006-01-02T15:04:05.000000-07:00"

// Entry records one file.
type Entry struct {
	Timestamp string `json:"timestamp"`
	File      string `json:"file"`
}

// Document is the decoded content of a log object.
// Categories other than Ingested and Quarantined are preserved as-is.
type Document map[Category][]Entry

// Options configures a Store.
type Options struct {
	Bucket             string // Bucket holding the logs; empty is a ConfigurationError at first use
	ConditionalWrites  bool   // Use versioned writes when the backing store supports them
	MaxConflictRetries int    // Extra attempts after a precondition failure
}

// Store reads and writes log documents through an object store.
type Store struct {
	objects storage.Store
	opts    Options
	now     func() time.Time
}

// New creates a log store.
func New(objects storage.Store, opts Options) *Store {
	if opts.MaxConflictRetries < 0 {
		opts.MaxConflictRetries = 0
	}
	return &Store{objects: objects, opts: opts, now: time.Now}
}

// Fetch downloads and decodes the log at logKey.
// A missing object yields an empty document.
func (s *Store) Fetch(ctx context.Context, logKey string) (Document, error) {
	doc, _, err := s.fetch(ctx, logKey, false)
	return doc, err
}

// fetch returns the document and, when versioned is set and supported, its version.
func (s *Store) fetch(ctx context.Context, logKey string, versioned bool) (Document, string, error) {
	logger := logging.WithFields(ctx, "log_key", logKey)

	if s.opts.Bucket == "" {
		return nil, "", core.Errorf(core.KindConfiguration, "fetch log", "REFINED_BUCKET_NAME is not set")
	}

	var (
		local   string
		version string
		err     error
	)
	vs, canVersion := s.objects.(storage.VersionedStore)
	if versioned && canVersion {
		local, version, err = vs.DownloadVersion(ctx, s.opts.Bucket, logKey)
	} else {
		local, err = s.objects.Download(ctx, s.opts.Bucket, logKey)
	}
	if errors.Is(err, storage.ErrNotFound) {
		logger.Warn("log not found, starting a new one")
		return Document{}, "", nil
	}
	if err != nil {
		return nil, "", core.E(core.KindLogAccess, "fetch log", err)
	}

	data, err := os.ReadFile(local)
	if err != nil {
		return nil, "", core.E(core.KindLogAccess, "fetch log", err)
	}

	doc := Document{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, "", core.E(core.KindLogAccess, "fetch log", fmt.Errorf("decode %s: %w", logKey, err))
	}
	if doc == nil {
		// The object held JSON null.
		doc = Document{}
	}
	return doc, version, nil
}

// Append returns a copy of doc with an entry for file added under category.
// doc itself is not modified.
func (s *Store) Append(doc Document, category Category, file string) Document {
	out := make(Document, len(doc)+1)
	for k, v := range doc {
		out[k] = append([]Entry(nil), v...)
	}
	out[category] = append(out[category], Entry{
		Timestamp: s.now().Format(TimestampLayout),
		File:      file,
	})
	return out
}

// Persist encodes doc and uploads it to logKey, replacing prior content.
func (s *Store) Persist(ctx context.Context, logKey string, doc Document) error {
	return s.persist(ctx, logKey, doc, nil)
}

// persist uploads doc; when version is non-nil the upload is conditional on it.
func (s *Store) persist(ctx context.Context, logKey string, doc Document, version *string) error {
	if s.opts.Bucket == "" {
		return core.Errorf(core.KindConfiguration, "persist log", "REFINED_BUCKET_NAME is not set")
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return core.E(core.KindLogPersist, "persist log", err)
	}

	dir := storage.ScratchDir(ctx, os.TempDir())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return core.E(core.KindLogPersist, "persist log", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(logKey)+".*")
	if err != nil {
		return core.E(core.KindLogPersist, "persist log", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return core.E(core.KindLogPersist, "persist log", err)
	}
	if err := tmp.Close(); err != nil {
		return core.E(core.KindLogPersist, "persist log", err)
	}

	vs, canVersion := s.objects.(storage.VersionedStore)
	if version != nil && canVersion {
		err = vs.UploadIfVersion(ctx, logKey, tmp.Name(), *version)
	} else {
		err = s.objects.Upload(ctx, logKey, tmp.Name())
	}
	if err != nil {
		return core.E(core.KindLogPersist, "persist log", err)
	}

	logging.FromContext(ctx).Info("log updated", "log_key", logKey, "bucket", s.opts.Bucket)
	return nil
}

// Record fetches the log at logKey, appends file under category and persists it.
//
// With conditional writes enabled the upload only succeeds if the log is
// unchanged since it was fetched; on conflict the whole cycle is repeated up
// to MaxConflictRetries more times.
func (s *Store) Record(ctx context.Context, logKey string, category Category, file string) (Document, error) {
	_, canVersion := s.objects.(storage.VersionedStore)
	conditional := s.opts.ConditionalWrites && canVersion

	attempts := 1
	if conditional {
		attempts += s.opts.MaxConflictRetries
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		doc, version, err := s.fetch(ctx, logKey, conditional)
		if err != nil {
			return nil, err
		}
		doc = s.Append(doc, category, file)

		var cond *string
		if conditional {
			cond = &version
		}
		err = s.persist(ctx, logKey, doc, cond)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, storage.ErrPreconditionFailed) {
			return nil, err
		}

		lastErr = err
		logging.FromContext(ctx).Warn("log changed concurrently, retrying",
			"log_key", logKey,
			"attempt", attempt,
		)
	}
	return nil, core.E(core.KindLogPersist, "record log",
		fmt.Errorf("gave up after %d attempts: %w", attempts, lastErr))
}

// CategoryFor maps a final ingestion status to its log category and key.
func CategoryFor(quarantined bool) (logKey string, category Category) {
	if quarantined {
		return QuarantineLogKey, Quarantined
	}
	return RefinementLogKey, Ingested
}
