package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileEnv names the optional YAML file whose keys are environment variable
// names. Values from the file apply only where the variable is unset.
const FileEnv = "CONFIG_FILE"

// lookupFunc returns the raw value for an environment variable name.
type lookupFunc func(name string) string

// Load reads configuration from environment variables and the optional
// CONFIG_FILE overlay. It applies defaults for unset values and validates the result.
func Load() (*Config, error) {
	lookup := lookupFunc(os.Getenv)

	if path := os.Getenv(FileEnv); path != "" {
		overlay, err := readOverlay(path)
		if err != nil {
			return nil, fmt.Errorf("config load: %w", err)
		}
		lookup = withOverlay(lookup, overlay)
	}

	return load(lookup)
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

func load(lookup lookupFunc) (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem(), lookup); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// readOverlay parses a flat YAML mapping. Scalars of any YAML type are
// accepted and rendered back to their string form; lists become comma-joined.
func readOverlay(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			continue
		case []any:
			parts := make([]string, len(val))
			for i, p := range val {
				parts[i] = fmt.Sprint(p)
			}
			out[k] = strings.Join(parts, ",")
		case map[string]any:
			return nil, fmt.Errorf("parse %s: key %s: nested mappings are not supported", path, k)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out, nil
}

func withOverlay(base lookupFunc, overlay map[string]string) lookupFunc {
	return func(name string) string {
		if v := base(name); v != "" {
			return v
		}
		return overlay[name]
	}
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value, lookup lookupFunc) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal, lookup); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		// Try primary env var, then alternate
		value := lookup(envName)
		if value == "" && envAlt != "" {
			value = lookup(envAlt)
		}

		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, "SERVER_MAX_BODY_BYTES must be positive")
	}

	// Storage
	switch strings.ToLower(c.Storage.Backend) {
	case "s3":
	case "local":
		if c.Storage.LocalRoot == "" {
			errs = append(errs, "STORAGE_LOCAL_ROOT is required when STORAGE_BACKEND is local")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORAGE_BACKEND (%q) must be one of: s3, local", c.Storage.Backend))
	}
	if c.Storage.ScratchDir == "" {
		errs = append(errs, "SCRATCH_DIR must not be empty")
	}

	// Pipeline
	prefixes := map[string]string{
		"RAW_PREFIX":        c.Pipeline.RawPrefix,
		"REFINED_PREFIX":    c.Pipeline.RefinedPrefix,
		"QUARANTINE_PREFIX": c.Pipeline.QuarantinePrefix,
	}
	for _, name := range []string{"RAW_PREFIX", "REFINED_PREFIX", "QUARANTINE_PREFIX"} {
		if !strings.HasSuffix(prefixes[name], "/") {
			errs = append(errs, fmt.Sprintf("%s (%q) must end with /", name, prefixes[name]))
		}
	}
	if c.Pipeline.RawPrefix == c.Pipeline.RefinedPrefix || c.Pipeline.RawPrefix == c.Pipeline.QuarantinePrefix {
		errs = append(errs, "RAW_PREFIX must differ from REFINED_PREFIX and QUARANTINE_PREFIX")
	}
	validCodecs := map[string]bool{"snappy": true, "zstd": true, "gzip": true, "none": true, "uncompressed": true}
	if !validCodecs[strings.ToLower(c.Pipeline.Compression)] {
		errs = append(errs, fmt.Sprintf("PARQUET_COMPRESSION (%q) must be one of: snappy, zstd, gzip, none", c.Pipeline.Compression))
	}
	if c.Pipeline.RowGroupSize <= 0 {
		errs = append(errs, "PARQUET_ROW_GROUP_SIZE must be positive")
	}
	if c.Pipeline.MaxConcurrent <= 0 {
		errs = append(errs, "INGEST_MAX_CONCURRENT must be positive")
	}
	if c.Pipeline.MaxWaitTime <= 0 {
		errs = append(errs, "INGEST_MAX_WAIT_TIME must be positive")
	}
	if c.Pipeline.Timeout <= 0 {
		errs = append(errs, "INGEST_TIMEOUT must be positive")
	}

	// Log
	if c.Log.MaxConflictRetries < 0 {
		errs = append(errs, "LOG_MAX_CONFLICT_RETRIES must be non-negative")
	}

	// Database (optional)
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}

	// Kafka
	validOffsets := map[string]bool{"earliest": true, "latest": true}
	if !validOffsets[strings.ToLower(c.Kafka.AutoOffsetReset)] {
		errs = append(errs, fmt.Sprintf("KAFKA_AUTO_OFFSET_RESET (%q) must be one of: earliest, latest", c.Kafka.AutoOffsetReset))
	}
	if c.Kafka.HeartbeatInterval <= 0 || c.Kafka.SessionTimeout <= c.Kafka.HeartbeatInterval {
		errs = append(errs, "KAFKA_SESSION_TIMEOUT must exceed a positive KAFKA_HEARTBEAT_INTERVAL")
	}

	// Security
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// ValidateKafka checks the settings only the notification worker needs.
func (c *Config) ValidateKafka() error {
	var errs []string
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, "KAFKA_BROKERS is required")
	}
	if c.Kafka.Topic == "" {
		errs = append(errs, "KAFKA_TOPIC is required")
	}
	if c.Kafka.GroupID == "" {
		errs = append(errs, "KAFKA_GROUP_ID is required")
	}
	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// String returns a safe string representation of the config for logging.
// Sensitive values like database URLs are masked.
func (c *Config) String() string {
	dbURL := "[UNSET]"
	if c.Database.URL != "" {
		dbURL = "[MASKED]"
	}

	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	b.WriteString(fmt.Sprintf("Storage: {Backend: %q, RefinedBucket: %q, Region: %q, Endpoint: %q}, ",
		c.Storage.Backend, c.Storage.RefinedBucket, c.Storage.Region, c.Storage.Endpoint))
	b.WriteString(fmt.Sprintf("Pipeline: {Schema: %q, Compression: %q, RowGroupSize: %d, MaxConcurrent: %d}, ",
		c.Pipeline.Schema, c.Pipeline.Compression, c.Pipeline.RowGroupSize, c.Pipeline.MaxConcurrent))
	b.WriteString(fmt.Sprintf("Log: {ConditionalWrites: %v, MaxConflictRetries: %d}, ",
		c.Log.ConditionalWrites, c.Log.MaxConflictRetries))
	b.WriteString(fmt.Sprintf("Database: {URL: %s, MaxConns: %d, MinConns: %d}, ",
		dbURL, c.Database.MaxConns, c.Database.MinConns))
	b.WriteString(fmt.Sprintf("Kafka: {Brokers: %v, Topic: %q, GroupID: %q}, ",
		c.Kafka.Brokers, c.Kafka.Topic, c.Kafka.GroupID))
	b.WriteString(fmt.Sprintf("Security: {RequireAPIKey: %v, APIKeys: %d configured}, ",
		c.Security.RequireAPIKey, len(c.Security.APIKeys)))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
