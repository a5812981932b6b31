package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := defaults()
	cfg.Auth.SigningSecret = "s3cret"
	return cfg
}

func TestDefaultsValidate(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("default backend = %q", cfg.Storage.Backend)
	}
	if cfg.Auth.TokenTTL != time.Hour {
		t.Errorf("default token ttl = %s", cfg.Auth.TokenTTL)
	}
}

func TestValidateRejectsBadKnobs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"memory path", func(c *Config) { c.Storage.Path = ":memory:" }},
		{"busy timeout too low", func(c *Config) { c.Storage.BusyTimeoutMS = 50 }},
		{"min above max conns", func(c *Config) { c.Storage.MinConns = 32; c.Storage.MaxConns = 4 }},
		{"missing signing secret", func(c *Config) { c.Auth.SigningSecret = "" }},
		{"short encryption key", func(c *Config) { c.Auth.EncryptionKey = "abcd" }},
		{"non-hex encryption key", func(c *Config) { c.Auth.EncryptionKey = "zz" + c.Auth.EncryptionKey }},
		{"ttl too short", func(c *Config) { c.Auth.TokenTTL = time.Second }},
		{"negative leeway", func(c *Config) { c.Auth.Leeway = -time.Second }},
		{"zero message length", func(c *Config) { c.Limits.MaxMessageLength = 0 }},
		{"audit retention too long", func(c *Config) { c.Retention.AuditDays = 9999 }},
		{"janitor interval too long", func(c *Config) { c.Retention.Interval = 48 * time.Hour }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("bad config validated")
			}
		})
	}
}

func TestEncryptionKeyBytes(t *testing.T) {
	a := AuthConfig{}
	if a.EncryptionKeyBytes() != nil {
		t.Error("empty key should decode to nil")
	}
	a.EncryptionKey = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	if got := a.EncryptionKeyBytes(); len(got) != 32 {
		t.Errorf("decoded key length = %d, want 32", len(got))
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MESHVAULT_CONFIG", "")
	t.Setenv("MESHVAULT_PORT", "9090")
	t.Setenv("MESHVAULT_DB_BACKEND", "gorm")
	t.Setenv("MESHVAULT_TOKEN_TTL", "2h")
	t.Setenv("MESHVAULT_JANITOR_SCHEDULE", "*/5 * * * *")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Port)
	}
	if cfg.Storage.Backend != "gorm" {
		t.Errorf("backend = %q, want gorm", cfg.Storage.Backend)
	}
	if cfg.Auth.TokenTTL != 2*time.Hour {
		t.Errorf("ttl = %s, want 2h", cfg.Auth.TokenTTL)
	}
	if cfg.Retention.Schedule != "*/5 * * * *" {
		t.Errorf("schedule = %q", cfg.Retention.Schedule)
	}
}

func TestYAMLFileThenEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meshvault.yaml")
	yaml := `
port: 7070
storage:
  backend: gorm
  path: /tmp/from-yaml.db
auth:
  signing_secret: from-yaml
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MESHVAULT_CONFIG", path)
	t.Setenv("MESHVAULT_PORT", "7071") // env wins over file

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 7071 {
		t.Errorf("port = %d, want env override 7071", cfg.Port)
	}
	if cfg.Storage.Path != "/tmp/from-yaml.db" {
		t.Errorf("path = %q, want yaml value", cfg.Storage.Path)
	}
	if cfg.Auth.SigningSecret != "from-yaml" {
		t.Errorf("signing secret = %q", cfg.Auth.SigningSecret)
	}
}
