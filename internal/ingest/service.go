// Package ingest orchestrates one ingestion: download, validate, convert,
// publish and log, with quarantine routing when any step after the
// download fails.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/csvrefinery/internal/columnar"
	"github.com/JonMunkholm/csvrefinery/internal/core"
	"github.com/JonMunkholm/csvrefinery/internal/ledger"
	"github.com/JonMunkholm/csvrefinery/internal/logging"
	"github.com/JonMunkholm/csvrefinery/internal/storage"
	"github.com/JonMunkholm/csvrefinery/internal/trigger"
)

// Recorder receives every outcome after the invocation finishes.
type Recorder interface {
	Record(ctx context.Context, o *Outcome) error
}

// DefaultQuarantineTimeout bounds quarantine work after the invocation's own
// deadline has passed.
const DefaultQuarantineTimeout = 30 * time.Second

// Config holds the orchestrator settings.
type Config struct {
	Zones      Zones
	ScratchDir string // Per-invocation scratch directories are created below this
	// QuarantineTimeout bounds the quarantine upload and log update when the
	// invocation context has already expired.
	QuarantineTimeout time.Duration
}

// Service runs ingestions. It holds no per-invocation state and is safe for
// concurrent use when its collaborators are.
type Service struct {
	store     storage.Store
	validator *core.Validator
	writer    *columnar.Writer
	logs      *ledger.Store
	recorder  Recorder
	cfg       Config

	newID func() string
	now   func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithRecorder mirrors outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// NewService wires the orchestrator to its collaborators.
func NewService(store storage.Store, validator *core.Validator, writer *columnar.Writer, logs *ledger.Store, cfg Config, opts ...Option) *Service {
	if cfg.Zones == (Zones{}) {
		cfg.Zones = DefaultZones()
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	if cfg.QuarantineTimeout <= 0 {
		cfg.QuarantineTimeout = DefaultQuarantineTimeout
	}

	s := &Service{
		store:     store,
		validator: validator,
		writer:    writer,
		logs:      logs,
		cfg:       cfg,
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle ingests one raw object.
//
// On success the Parquet artifact is in the refined zone and logged. When a
// step after the download fails, the raw file is copied to the quarantine
// zone, the quarantine log is updated and the original error is returned.
// If quarantining itself fails, that error is returned instead.
//
// Cancellation of ctx is not a file failure: the raw file is left in place,
// nothing is quarantined and the context error is returned. A deadline that
// expires mid-run still quarantines, on a fresh bounded context.
func (s *Service) Handle(ctx context.Context, obj trigger.Object) (*Outcome, error) {
	id := s.newID()
	ctx = logging.WithInvocation(ctx, id)
	logger := logging.WithFields(ctx, "bucket", obj.Bucket, "key", obj.Key)

	out := &Outcome{
		InvocationID: id,
		Bucket:       obj.Bucket,
		RawKey:       obj.Key,
		Stage:        StageStart,
		StartedAt:    s.now(),
	}
	defer s.finish(ctx, out)

	if err := obj.Validate(); err != nil {
		return s.fail(ctx, out, err)
	}
	if !s.cfg.Zones.InRaw(obj.Key) {
		return s.fail(ctx, out, core.Errorf(core.KindInvalidTrigger, "check zone",
			"key %q is outside the raw zone %q", obj.Key, s.cfg.Zones.Raw))
	}

	scratch := filepath.Join(s.cfg.ScratchDir, id)
	ctx = storage.WithScratchDir(ctx, scratch)

	logger.Info("ingestion started")

	// Raw downloads get their own directory so a raw base name can never
	// collide with a log document fetched into scratch.
	local, err := s.store.Download(storage.WithScratchDir(ctx, filepath.Join(scratch, "raw")), obj.Bucket, obj.Key)
	if err != nil {
		return s.fail(ctx, out, err)
	}
	out.Stage = StageDownloaded

	if err := s.refine(ctx, obj, local, scratch, out); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			logger.Warn("ingestion interrupted, raw file left in place", "stage", out.Stage)
			return s.fail(ctx, out, err)
		}
		return s.quarantine(ctx, obj, local, out, err)
	}

	out.Status = StatusRefined
	logger.Info("ingestion completed",
		"dest_key", out.DestKey,
		"rows", out.Rows,
		"bytes", out.Bytes,
	)
	return out, nil
}

// refine runs validate, convert, publish and log, advancing out.Stage.
func (s *Service) refine(ctx context.Context, obj trigger.Object, local, scratch string, out *Outcome) error {
	ds, err := s.validator.ValidateFile(ctx, local)
	if err != nil {
		return err
	}
	out.Stage = StageValidated
	out.Rows = ds.Rows

	refinedKey := s.cfg.Zones.RefinedKey(obj.Key)
	outDir := filepath.Join(scratch, "refined")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return core.E(core.KindConversion, "create output dir", err)
	}

	art, err := s.writer.Write(ctx, ds, filepath.Join(outDir, path.Base(refinedKey)))
	if err != nil {
		return err
	}
	out.Stage = StageConverted
	out.Bytes = art.Bytes

	if err := s.store.Upload(ctx, refinedKey, art.Path); err != nil {
		return err
	}
	out.Stage = StagePublished
	out.DestKey = refinedKey

	logKey, category := ledger.CategoryFor(false)
	if _, err := s.logs.Record(ctx, logKey, category, refinedKey); err != nil {
		return err
	}
	out.Stage = StageLogUpdated
	return nil
}

// quarantine copies the raw file aside, logs it and returns cause.
func (s *Service) quarantine(ctx context.Context, obj trigger.Object, local string, out *Outcome, cause error) (*Outcome, error) {
	logger := logging.WithFields(ctx, "key", obj.Key)
	logger.Warn("ingestion failed, quarantining raw file",
		"stage", out.Stage,
		"kind", core.KindOf(cause).String(),
	)

	failedAt := out.Stage
	out.Stage = StageQuarantining
	out.DestKey = ""

	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), s.cfg.QuarantineTimeout)
		defer cancel()
	}

	quarantineKey := s.cfg.Zones.QuarantineKey(obj.Key)
	if err := s.store.Upload(ctx, quarantineKey, local); err != nil {
		return s.fail(ctx, out, fmt.Errorf("quarantine %s: %w", quarantineKey, err))
	}
	out.DestKey = quarantineKey

	logKey, category := ledger.CategoryFor(true)
	if _, err := s.logs.Record(ctx, logKey, category, quarantineKey); err != nil {
		return s.fail(ctx, out, fmt.Errorf("quarantine log: %w", err))
	}
	out.Stage = StageQuarantineLogUpdated
	out.Status = StatusQuarantined

	logger.Info("raw file quarantined", "dest_key", quarantineKey)
	return s.fail(ctx, out, fmt.Errorf("ingest %s after %s: %w", obj.Key, failedAt, cause))
}

// fail records err on out and logs it once.
func (s *Service) fail(ctx context.Context, out *Outcome, err error) (*Outcome, error) {
	if out.Status == "" {
		out.Status = StatusFailed
	}
	out.setErr(err)

	logging.FromContext(ctx).Error("ingestion error",
		"key", out.RawKey,
		"stage", out.Stage,
		"kind", out.ErrorKind,
		"code", out.ErrorCode,
		"error", err,
	)
	return out, err
}

// finish stamps the duration and hands the outcome to the recorder.
// Recorder failures are logged and never change the result.
func (s *Service) finish(ctx context.Context, out *Outcome) {
	out.Duration = s.now().Sub(out.StartedAt)
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(context.WithoutCancel(ctx), out); err != nil {
		logging.FromContext(ctx).Warn("failed to record outcome", "error", err)
	}
}
