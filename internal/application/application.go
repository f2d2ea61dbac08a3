// Package application assembles the pipeline from configuration. Every entry
// point (function handler, HTTP server, queue worker) builds the same graph.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/csvrefinery/internal/columnar"
	"github.com/JonMunkholm/csvrefinery/internal/config"
	"github.com/JonMunkholm/csvrefinery/internal/core"
	_ "github.com/JonMunkholm/csvrefinery/internal/core/tables" // Register all schemas
	"github.com/JonMunkholm/csvrefinery/internal/history"
	"github.com/JonMunkholm/csvrefinery/internal/ingest"
	"github.com/JonMunkholm/csvrefinery/internal/ledger"
	"github.com/JonMunkholm/csvrefinery/internal/storage"
)

// App holds the wired pipeline and the resources it owns.
type App struct {
	Service *ingest.Service
	Limiter *ingest.Limiter
	History *history.Recorder // nil when DATABASE_URL is unset

	pool *pgxpool.Pool
}

// New builds the pipeline described by cfg.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	schema, ok := core.GetSchema(cfg.Pipeline.Schema)
	if !ok {
		return nil, core.Errorf(core.KindConfiguration, "build pipeline",
			"unknown schema %q (registered: %s)", cfg.Pipeline.Schema, strings.Join(core.Schemas(), ", "))
	}

	store, err := NewStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	writer, err := columnar.NewWriter(columnar.Options{
		Compression:  cfg.Pipeline.Compression,
		RowGroupSize: cfg.Pipeline.RowGroupSize,
	})
	if err != nil {
		return nil, core.E(core.KindConfiguration, "build pipeline", err)
	}

	logs := ledger.New(store, ledger.Options{
		Bucket:             cfg.Storage.RefinedBucket,
		ConditionalWrites:  cfg.Log.ConditionalWrites,
		MaxConflictRetries: cfg.Log.MaxConflictRetries,
	})

	a := &App{
		Limiter: ingest.NewLimiter(cfg.Pipeline.MaxConcurrent, cfg.Pipeline.MaxWaitTime),
	}

	var opts []ingest.Option
	if cfg.Database.HistoryEnabled() {
		if err := a.openHistory(ctx, cfg.Database); err != nil {
			return nil, err
		}
		opts = append(opts, ingest.WithRecorder(a.History))
	}

	a.Service = ingest.NewService(
		store,
		core.NewValidator(schema),
		writer,
		logs,
		ingest.Config{
			Zones: ingest.Zones{
				Raw:        cfg.Pipeline.RawPrefix,
				Refined:    cfg.Pipeline.RefinedPrefix,
				Quarantine: cfg.Pipeline.QuarantinePrefix,
			},
			ScratchDir: cfg.Storage.ScratchDir,
		},
		opts...,
	)

	slog.Info("pipeline ready",
		"schema", schema.Key,
		"backend", cfg.Storage.Backend,
		"refined_bucket", cfg.Storage.RefinedBucket,
		"compression", cfg.Pipeline.Compression,
		"history", a.History != nil,
	)
	return a, nil
}

// NewStore returns the object store selected by cfg.Backend.
func NewStore(ctx context.Context, cfg config.StorageConfig) (storage.VersionedStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "local":
		store, err := storage.NewLocalStore(cfg.LocalRoot, cfg.RefinedBucket, cfg.ScratchDir)
		if err != nil {
			return nil, core.E(core.KindConfiguration, "build store", err)
		}
		return store, nil
	case "s3", "":
		client, err := storage.NewS3Client(ctx, storage.S3Options{
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.UsePathStyle,
		})
		if err != nil {
			return nil, core.E(core.KindConfiguration, "build store", err)
		}
		return storage.NewS3Store(client, cfg.RefinedBucket, cfg.ScratchDir), nil
	default:
		return nil, core.Errorf(core.KindConfiguration, "build store", "unknown storage backend %q", cfg.Backend)
	}
}

func (a *App) openHistory(ctx context.Context, cfg config.DatabaseConfig) error {
	pool, err := history.NewPool(ctx, history.PoolOptions{
		URL:             cfg.URL,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
		MaxConnIdleTime: cfg.MaxConnIdleTime,
	})
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}

	rec := history.NewRecorder(pool)
	if err := rec.EnsureSchema(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("open history: %w", err)
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to history database", "name", strings.TrimPrefix(u.Path, "/"))
	}

	a.pool = pool
	a.History = rec
	return nil
}

// Close releases the database pool, if any.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}
