// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables (optionally overlaid by a
// YAML file) with sensible defaults and validates all settings on startup to
// fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Pipeline PipelineConfig
	Log      LogConfig
	Database DatabaseConfig
	Kafka    KafkaConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout must cover a whole ingestion (default: 11m)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"11m"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// MaxBodyBytes caps the size of an event notification body (default: 1MB)
	MaxBodyBytes int64 `env:"SERVER_MAX_BODY_BYTES" default:"1048576"`
}

// StorageConfig holds object store settings.
type StorageConfig struct {
	// Backend selects the object store: s3 or local (default: s3)
	Backend string `env:"STORAGE_BACKEND" default:"s3"`

	// RefinedBucket receives refined, quarantined and log objects.
	// Not required at load: a missing value fails the first log access.
	RefinedBucket string `env:"REFINED_BUCKET_NAME"`

	// Region is the AWS region; falls back to AWS_DEFAULT_REGION
	Region string `env:"AWS_REGION" envAlt:"AWS_DEFAULT_REGION"`

	// Endpoint overrides the S3 endpoint for MinIO or LocalStack
	Endpoint string `env:"S3_ENDPOINT"`

	// UsePathStyle addresses buckets by path instead of subdomain (default: false)
	UsePathStyle bool `env:"S3_USE_PATH_STYLE" default:"false"`

	// LocalRoot is the directory holding one subdirectory per bucket for the local backend
	LocalRoot string `env:"STORAGE_LOCAL_ROOT" default:"./data"`

	// ScratchDir holds per-invocation working files (default: /tmp)
	ScratchDir string `env:"SCRATCH_DIR" default:"/tmp"`
}

// PipelineConfig holds ingestion settings.
type PipelineConfig struct {
	// Schema is the registered schema raw files are validated against
	Schema string `env:"SCHEMA_KEY" default:"fraud_transactions"`

	// RawPrefix, RefinedPrefix and QuarantinePrefix are the zone key prefixes
	RawPrefix        string `env:"RAW_PREFIX" default:"raw/"`
	RefinedPrefix    string `env:"REFINED_PREFIX" default:"refined/"`
	QuarantinePrefix string `env:"QUARANTINE_PREFIX" default:"quarantine/"`

	// Compression is the Parquet codec: snappy, zstd, gzip or none (default: snappy)
	Compression string `env:"PARQUET_COMPRESSION" default:"snappy"`

	// RowGroupSize is the number of rows per Parquet row group (default: 65536)
	RowGroupSize int `env:"PARQUET_ROW_GROUP_SIZE" default:"65536"`

	// MaxConcurrent is the maximum number of parallel ingestions in the server (default: 4)
	MaxConcurrent int `env:"INGEST_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long a request waits for an ingestion slot (default: 30s)
	MaxWaitTime time.Duration `env:"INGEST_MAX_WAIT_TIME" default:"30s"`

	// Timeout bounds a single ingestion in the server and worker (default: 10m)
	Timeout time.Duration `env:"INGEST_TIMEOUT" default:"10m"`
}

// LogConfig holds append-log settings.
type LogConfig struct {
	// ConditionalWrites guards log updates with If-Match (default: false)
	ConditionalWrites bool `env:"LOG_CONDITIONAL_WRITES" default:"false"`

	// MaxConflictRetries is the number of re-reads after a concurrent update (default: 3)
	MaxConflictRetries int `env:"LOG_MAX_CONFLICT_RETRIES" default:"3"`
}

// DatabaseConfig holds the optional outcome-history database settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string; empty disables history.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 5)
	MaxConns int `env:"DB_MAX_CONNS" default:"5"`

	// MinConns is the minimum number of connections to keep open (default: 0)
	MinConns int `env:"DB_MIN_CONNS" default:"0"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// KafkaConfig holds the notification consumer settings for cmd/worker.
type KafkaConfig struct {
	// Brokers is a comma-separated list of host:port
	Brokers []string `env:"KAFKA_BROKERS"`

	// Topic carries bucket notifications
	Topic string `env:"KAFKA_TOPIC" default:"bucket-notifications"`

	// GroupID is the consumer group (default: csvrefinery)
	GroupID string `env:"KAFKA_GROUP_ID" default:"csvrefinery"`

	// SessionTimeout and HeartbeatInterval tune group membership
	SessionTimeout    time.Duration `env:"KAFKA_SESSION_TIMEOUT" default:"30s"`
	HeartbeatInterval time.Duration `env:"KAFKA_HEARTBEAT_INTERVAL" default:"3s"`

	// AutoOffsetReset is where a new group starts: earliest or latest (default: earliest)
	AutoOffsetReset string `env:"KAFKA_AUTO_OFFSET_RESET" default:"earliest"`
}

// SecurityConfig holds HTTP API security settings.
type SecurityConfig struct {
	// RequireAPIKey enforces X-API-Key on /v1 routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// HistoryEnabled reports whether outcomes are mirrored to Postgres.
func (c *DatabaseConfig) HistoryEnabled() bool {
	return c.URL != ""
}
