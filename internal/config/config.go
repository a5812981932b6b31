// Package config provides configuration for the MeshVault shared context
// store. Values come from an optional YAML file (MESHVAULT_CONFIG) with
// environment variables taking precedence, and every knob has a documented
// default and a validated range.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the MeshVault server.
type Config struct {
	Port      int             `yaml:"port"`
	Version   string          `yaml:"version"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	Limits    LimitsConfig    `yaml:"limits"`
	Retention RetentionConfig `yaml:"retention"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StorageConfig tunes the storage engine. Every acquired handle gets these
// settings applied and verified before use.
type StorageConfig struct {
	// Backend selects the driver implementation: "sqlite" (database/sql +
	// mattn/go-sqlite3) or "gorm" (gorm.io with the sqlite dialect).
	Backend string `yaml:"backend"`

	// Path is the database file location. ":memory:" is rejected because
	// the write-ahead concurrency mode requires a real file.
	Path string `yaml:"path"`

	// BusyTimeoutMS bounds how long a writer waits on a lock before the
	// caller gets a retryable connection error. Range 100..60000.
	BusyTimeoutMS int `yaml:"busy_timeout_ms"`

	// MinConns/MaxConns bound the connection pool. 1..64.
	MinConns int `yaml:"min_conns"`
	MaxConns int `yaml:"max_conns"`

	// CacheKB bounds the per-connection page cache. 256..1048576.
	CacheKB int `yaml:"cache_kb"`

	// MmapBytes caps the memory-map window. 0 disables mmap.
	MmapBytes int64 `yaml:"mmap_bytes"`
}

// AuthConfig tunes the identity layer.
type AuthConfig struct {
	// SigningSecret keys the HMAC-SHA256 token signature. Required.
	SigningSecret string `yaml:"signing_secret"`

	// EncryptionKey is the 64-char hex AES-256 key for token-at-rest
	// storage. Empty disables the secure_tokens store.
	EncryptionKey string `yaml:"encryption_key"`

	// TokenTTL is the default lifetime of issued tokens. 1m..168h.
	TokenTTL time.Duration `yaml:"token_ttl"`

	// Leeway is the clock-skew allowance applied to expiry checks. 0..5m.
	Leeway time.Duration `yaml:"leeway"`

	// Issuer and Audience are embedded in every issued token.
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

// LimitsConfig bounds caller-supplied payloads.
type LimitsConfig struct {
	// MaxMessageLength caps message content in bytes after normalization.
	// 1..1048576.
	MaxMessageLength int `yaml:"max_message_length"`

	// MaxMemoryEntries caps the number of memory entries per agent.
	// 1..1000000.
	MaxMemoryEntries int `yaml:"max_memory_entries"`

	// MaxMetadataBytes caps serialized metadata size. 1..1048576.
	MaxMetadataBytes int `yaml:"max_metadata_bytes"`
}

// RetentionConfig drives the background janitor.
type RetentionConfig struct {
	// AuditDays is how long audit events are kept. 1..3650.
	AuditDays int `yaml:"audit_days"`

	// SessionDays is how long inactive sessions are kept. 1..3650.
	SessionDays int `yaml:"session_days"`

	// Schedule is an optional 5-field cron expression for janitor runs.
	// Empty falls back to Interval.
	Schedule string `yaml:"schedule"`

	// Interval is the fixed sleep between janitor cycles when Schedule is
	// empty. 1m..24h.
	Interval time.Duration `yaml:"interval"`

	// SubscriptionIdle is how long a subscription may go untouched before
	// the stale sweep removes it.
	SubscriptionIdle time.Duration `yaml:"subscription_idle"`
}

// TelemetryConfig controls optional OTLP tracing.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Load reads configuration from the optional YAML file named by
// MESHVAULT_CONFIG, then applies environment overrides and defaults.
// The result is not yet validated; call Validate before use.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("MESHVAULT_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:    8080,
		Version: "0.4.0",
		Storage: StorageConfig{
			Backend:       "sqlite",
			Path:          "meshvault.db",
			BusyTimeoutMS: 5000,
			MinConns:      1,
			MaxConns:      10,
			CacheKB:       2048,
			MmapBytes:     64 << 20,
		},
		Auth: AuthConfig{
			TokenTTL: time.Hour,
			Leeway:   30 * time.Second,
			Issuer:   "meshvault",
			Audience: "meshvault-agents",
		},
		Limits: LimitsConfig{
			MaxMessageLength: 65536,
			MaxMemoryEntries: 10000,
			MaxMetadataBytes: 16384,
		},
		Retention: RetentionConfig{
			AuditDays:        30,
			SessionDays:      90,
			Interval:         time.Hour,
			SubscriptionIdle: 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "meshvault",
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Port = envInt("MESHVAULT_PORT", cfg.Port)
	cfg.Version = envStr("MESHVAULT_VERSION", cfg.Version)

	cfg.Storage.Backend = envStr("MESHVAULT_DB_BACKEND", cfg.Storage.Backend)
	cfg.Storage.Path = envStr("MESHVAULT_DB_PATH", cfg.Storage.Path)
	cfg.Storage.BusyTimeoutMS = envInt("MESHVAULT_DB_BUSY_TIMEOUT_MS", cfg.Storage.BusyTimeoutMS)
	cfg.Storage.MinConns = envInt("MESHVAULT_DB_MIN_CONNS", cfg.Storage.MinConns)
	cfg.Storage.MaxConns = envInt("MESHVAULT_DB_MAX_CONNS", cfg.Storage.MaxConns)
	cfg.Storage.CacheKB = envInt("MESHVAULT_DB_CACHE_KB", cfg.Storage.CacheKB)
	cfg.Storage.MmapBytes = envInt64("MESHVAULT_DB_MMAP_BYTES", cfg.Storage.MmapBytes)

	cfg.Auth.SigningSecret = envStr("MESHVAULT_SIGNING_SECRET", cfg.Auth.SigningSecret)
	cfg.Auth.EncryptionKey = envStr("MESHVAULT_ENCRYPTION_KEY", cfg.Auth.EncryptionKey)
	cfg.Auth.TokenTTL = envDuration("MESHVAULT_TOKEN_TTL", cfg.Auth.TokenTTL)
	cfg.Auth.Leeway = envDuration("MESHVAULT_TOKEN_LEEWAY", cfg.Auth.Leeway)
	cfg.Auth.Issuer = envStr("MESHVAULT_TOKEN_ISSUER", cfg.Auth.Issuer)
	cfg.Auth.Audience = envStr("MESHVAULT_TOKEN_AUDIENCE", cfg.Auth.Audience)

	cfg.Limits.MaxMessageLength = envInt("MESHVAULT_MAX_MESSAGE_LENGTH", cfg.Limits.MaxMessageLength)
	cfg.Limits.MaxMemoryEntries = envInt("MESHVAULT_MAX_MEMORY_ENTRIES", cfg.Limits.MaxMemoryEntries)
	cfg.Limits.MaxMetadataBytes = envInt("MESHVAULT_MAX_METADATA_BYTES", cfg.Limits.MaxMetadataBytes)

	cfg.Retention.AuditDays = envInt("MESHVAULT_AUDIT_RETENTION_DAYS", cfg.Retention.AuditDays)
	cfg.Retention.SessionDays = envInt("MESHVAULT_SESSION_RETENTION_DAYS", cfg.Retention.SessionDays)
	cfg.Retention.Schedule = envStr("MESHVAULT_JANITOR_SCHEDULE", cfg.Retention.Schedule)
	cfg.Retention.Interval = envDuration("MESHVAULT_JANITOR_INTERVAL", cfg.Retention.Interval)
	cfg.Retention.SubscriptionIdle = envDuration("MESHVAULT_SUBSCRIPTION_IDLE", cfg.Retention.SubscriptionIdle)

	cfg.Telemetry.Enabled = envBool("OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.OTLPEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	cfg.Telemetry.ServiceName = envStr("OTEL_SERVICE_NAME", cfg.Telemetry.ServiceName)
}

// Validate checks every knob against its documented range.
func (c *Config) Validate() error {
	if c.Storage.Backend != "sqlite" && c.Storage.Backend != "gorm" {
		return fmt.Errorf("config: storage.backend must be \"sqlite\" or \"gorm\", got %q", c.Storage.Backend)
	}
	if c.Storage.Path == "" || c.Storage.Path == ":memory:" {
		return fmt.Errorf("config: storage.path must be a file path (WAL mode needs a real file)")
	}
	if err := intRange("storage.busy_timeout_ms", c.Storage.BusyTimeoutMS, 100, 60000); err != nil {
		return err
	}
	if err := intRange("storage.min_conns", c.Storage.MinConns, 1, 64); err != nil {
		return err
	}
	if err := intRange("storage.max_conns", c.Storage.MaxConns, 1, 64); err != nil {
		return err
	}
	if c.Storage.MinConns > c.Storage.MaxConns {
		return fmt.Errorf("config: storage.min_conns %d exceeds max_conns %d", c.Storage.MinConns, c.Storage.MaxConns)
	}
	if err := intRange("storage.cache_kb", c.Storage.CacheKB, 256, 1<<20); err != nil {
		return err
	}
	if c.Storage.MmapBytes < 0 {
		return fmt.Errorf("config: storage.mmap_bytes must be >= 0")
	}

	if c.Auth.SigningSecret == "" {
		return fmt.Errorf("config: auth.signing_secret is required")
	}
	if c.Auth.EncryptionKey != "" {
		key, err := hex.DecodeString(c.Auth.EncryptionKey)
		if err != nil || len(key) != 32 {
			return fmt.Errorf("config: auth.encryption_key must be 64 hex chars (32 bytes)")
		}
	}
	if c.Auth.TokenTTL < time.Minute || c.Auth.TokenTTL > 168*time.Hour {
		return fmt.Errorf("config: auth.token_ttl %s outside [1m, 168h]", c.Auth.TokenTTL)
	}
	if c.Auth.Leeway < 0 || c.Auth.Leeway > 5*time.Minute {
		return fmt.Errorf("config: auth.leeway %s outside [0, 5m]", c.Auth.Leeway)
	}

	if err := intRange("limits.max_message_length", c.Limits.MaxMessageLength, 1, 1<<20); err != nil {
		return err
	}
	if err := intRange("limits.max_memory_entries", c.Limits.MaxMemoryEntries, 1, 1000000); err != nil {
		return err
	}
	if err := intRange("limits.max_metadata_bytes", c.Limits.MaxMetadataBytes, 1, 1<<20); err != nil {
		return err
	}

	if err := intRange("retention.audit_days", c.Retention.AuditDays, 1, 3650); err != nil {
		return err
	}
	if err := intRange("retention.session_days", c.Retention.SessionDays, 1, 3650); err != nil {
		return err
	}
	if c.Retention.Interval < time.Minute || c.Retention.Interval > 24*time.Hour {
		return fmt.Errorf("config: retention.interval %s outside [1m, 24h]", c.Retention.Interval)
	}
	return nil
}

// EncryptionKeyBytes decodes the configured token-at-rest key.
// Returns nil when no key is configured.
func (c *AuthConfig) EncryptionKeyBytes() []byte {
	if c.EncryptionKey == "" {
		return nil
	}
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil
	}
	return key
}

func intRange(name string, v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("config: %s %d outside [%d, %d]", name, v, min, max)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
