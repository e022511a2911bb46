package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EMR_AUTH_SECRET", "unit-test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.Addr)
	}
	if cfg.AuthMode != "revalidate" {
		t.Fatalf("unexpected auth mode %q", cfg.AuthMode)
	}
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("unexpected ttl %s", cfg.AccessTokenTTL)
	}
	if cfg.ObjectStorageEnabled() {
		t.Fatal("object storage should be off without credentials")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("EMR_AUTH_SECRET", "unit-test-secret")
	t.Setenv("EMR_AUTH_MODE", "stateless")
	t.Setenv("EMR_ACCESS_TOKEN_TTL", "45m")
	t.Setenv("EMR_RATE_LIMIT_RPS", "5.5")
	t.Setenv("EMR_MINIO_ENDPOINT", "minio.local:9000")
	t.Setenv("EMR_MINIO_ACCESS_KEY", "ak")
	t.Setenv("EMR_MINIO_SECRET_KEY", "sk")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthMode != "stateless" || cfg.AccessTokenTTL != 45*time.Minute {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.RateLimitPerSecond != 5.5 {
		t.Fatalf("unexpected rps %v", cfg.RateLimitPerSecond)
	}
	if !cfg.ObjectStorageEnabled() {
		t.Fatal("object storage should be on")
	}
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	t.Setenv("EMR_AUTH_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without EMR_AUTH_SECRET")
	}
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	t.Setenv("EMR_AUTH_SECRET", "unit-test-secret")
	t.Setenv("EMR_AUTH_MODE", "sometimes")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown auth mode")
	}
}
