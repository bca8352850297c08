package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_valid(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  read_timeout: 15s
identity:
  enabled: true
  issuer: https://auth.example.com
  audience: worksync
  algorithms: [HS256, HS384]
store:
  driver: memory
idempotency:
  enabled: true
  driver: redis
  default_ttl: 12h
observability:
  log_level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Identity.Issuer != "https://auth.example.com" {
		t.Errorf("Identity.Issuer = %q", cfg.Identity.Issuer)
	}
	if cfg.Identity.Audience != "worksync" {
		t.Errorf("Identity.Audience = %q", cfg.Identity.Audience)
	}
	if len(cfg.Identity.Algorithms) != 2 {
		t.Errorf("Identity.Algorithms = %v, want 2 entries", cfg.Identity.Algorithms)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Idempotency.Driver != "redis" {
		t.Errorf("Idempotency.Driver = %q, want redis", cfg.Idempotency.Driver)
	}
	if cfg.Idempotency.DefaultTTL != 12*time.Hour {
		t.Errorf("Idempotency.DefaultTTL = %v, want 12h", cfg.Idempotency.DefaultTTL)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("Observability.LogLevel = %q, want debug", cfg.Observability.LogLevel)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_missing_identity_issuer(t *testing.T) {
	path := writeConfig(t, `
identity:
  enabled: true
  audience: worksync
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() without identity.issuer should return error")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Store.Driver != "postgres" {
		t.Errorf("default Store.Driver = %q, want postgres", cfg.Store.Driver)
	}
	if cfg.Identity.SecretEnv != "WORKSYNC_JWT_SECRET" {
		t.Errorf("default Identity.SecretEnv = %q", cfg.Identity.SecretEnv)
	}
	if cfg.Idempotency.DefaultTTL != 24*time.Hour {
		t.Errorf("default Idempotency.DefaultTTL = %v, want 24h", cfg.Idempotency.DefaultTTL)
	}
	if !cfg.Observability.Metrics.Enabled {
		t.Error("default Observability.Metrics.Enabled = false, want true")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WORKSYNC_SERVER_PORT", "7070")
	t.Setenv("WORKSYNC_STORE_DRIVER", "memory")
	t.Setenv("WORKSYNC_OBSERVABILITY_LOG_LEVEL", "warn")

	path := writeConfig(t, `
identity:
  enabled: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want env override 7070", cfg.Server.Port)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q, want env override memory", cfg.Store.Driver)
	}
	if cfg.Observability.LogLevel != "warn" {
		t.Errorf("Observability.LogLevel = %q, want env override warn", cfg.Observability.LogLevel)
	}
}

func TestEnvOverrides_priority_over_file(t *testing.T) {
	t.Setenv("WORKSYNC_IDENTITY_ISSUER", "https://env.example.com")

	path := writeConfig(t, `
identity:
  enabled: true
  issuer: https://file.example.com
  audience: worksync
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Identity.Issuer != "https://env.example.com" {
		t.Errorf("Identity.Issuer = %q, want env value", cfg.Identity.Issuer)
	}
}

func TestValidate_invalid_port(t *testing.T) {
	cfg := Defaults()
	cfg.Identity.Enabled = false
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with port 0 should return error")
	}
}

func TestValidate_unknown_store_driver(t *testing.T) {
	cfg := Defaults()
	cfg.Identity.Enabled = false
	cfg.Store.Driver = "cassandra"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with unknown store driver should return error")
	}
}
