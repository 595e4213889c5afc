package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.RestrictedRole != "dotproj_user" {
		t.Fatalf("RestrictedRole = %q", cfg.Database.RestrictedRole)
	}
	if cfg.Cache.Header != "ETag" {
		t.Fatalf("Cache.Header = %q", cfg.Cache.Header)
	}
	if cfg.Scheduler.Spec != "@every 60s" {
		t.Fatalf("Scheduler.Spec = %q", cfg.Scheduler.Spec)
	}
	if len(cfg.Worker.Queues) != 4 {
		t.Fatalf("Worker.Queues = %v", cfg.Worker.Queues)
	}
	if cfg.Location() != time.UTC {
		t.Fatalf("Location() = %v, want UTC", cfg.Location())
	}
}

func TestLoadEnvFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(file, []byte("CACHE_HEADER=X-Resource-Version\nWORKER_CONCURRENCY=9\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() {
		os.Unsetenv("CACHE_HEADER")
		os.Unsetenv("WORKER_CONCURRENCY")
	})

	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Cache.Header != "X-Resource-Version" {
		t.Fatalf("Cache.Header = %q", cfg.Cache.Header)
	}
	if cfg.Worker.Concurrency != 9 {
		t.Fatalf("Worker.Concurrency = %d", cfg.Worker.Concurrency)
	}
}

func TestLoadRejectsUnsafeRole(t *testing.T) {
	t.Setenv("DATABASE_RESTRICTED_ROLE", `user"; DROP TABLE x`)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatal("Load() error = nil, want invalid role error")
	}
}

func TestLoggerFormatter(t *testing.T) {
	cfg := Config{GoAppEnvironment: Production, LogLevel: "debug"}
	logger := cfg.Logger()
	if _, ok := logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("Formatter = %T, want JSON", logger.Formatter)
	}
	if logger.Level != logrus.DebugLevel {
		t.Fatalf("Level = %v", logger.Level)
	}
}

func TestProductionRequiresJWTSecret(t *testing.T) {
	t.Setenv("GO_APP_ENV", Production)
	missing := filepath.Join(t.TempDir(), "missing.env")

	if _, err := Load(missing); err == nil || !strings.Contains(err.Error(), "AUTH_JWT_SECRET") {
		t.Fatalf("Load() error = %v, want AUTH_JWT_SECRET error", err)
	}

	t.Setenv("AUTH_JWT_SECRET", "  ")
	if _, err := Load(missing); err == nil {
		t.Fatal("Load() accepted a blank secret in production")
	}

	t.Setenv("AUTH_JWT_SECRET", "a-long-private-secret")
	cfg, err := Load(missing)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.InsecureJWTSecret() {
		t.Fatal("InsecureJWTSecret() = true for a private secret")
	}
}

func TestDevelopmentAllowsDefaultSecret(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != DevJWTSecret || !cfg.InsecureJWTSecret() {
		t.Fatalf("JWTSecret = %q, insecure = %v", cfg.Auth.JWTSecret, cfg.InsecureJWTSecret())
	}
}
