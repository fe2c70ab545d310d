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
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("expected defaults, got %v", err)
	}
	if cfg.APIBase != "http://localhost:5000/api" || !cfg.MockFallback {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.MaxUploadBytes != 16<<20 {
		t.Fatalf("unexpected max upload %d", cfg.MaxUploadBytes)
	}
	if cfg.PredictTimeout != 0 {
		t.Fatalf("expected no prediction timeout by default, got %v", cfg.PredictTimeout)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
prediction:
  api_base: http://model:5000/api
  timeout: 3s
  mock_fallback: false
upload:
  max_bytes: 10485760
session:
  ttl: 1h
`)
	t.Setenv("API_BASE", "http://override/api")
	t.Setenv("SESSION_TTL", "30m")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config, got %v", err)
	}
	if cfg.APIBase != "http://override/api" {
		t.Fatalf("expected env to win, got %s", cfg.APIBase)
	}
	if cfg.PredictTimeout != 3*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.PredictTimeout)
	}
	if cfg.MockFallback {
		t.Fatal("expected mock fallback to be disabled by file")
	}
	if cfg.MaxUploadBytes != 10<<20 {
		t.Fatalf("unexpected max upload %d", cfg.MaxUploadBytes)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Fatalf("unexpected session ttl %v", cfg.SessionTTL)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	if _, err := Load(writeConfig(t, "prediction: [")); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := Load(writeConfig(t, "prediction:\n  timeout: soon\n")); err == nil {
		t.Fatal("expected duration error")
	}
}

func TestEnvAllowedTypes(t *testing.T) {
	t.Setenv("ALLOWED_TYPES", "image/png, ,image/webp")
	t.Setenv("MOCK_FALLBACK", "not-a-bool")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected config, got %v", err)
	}
	if len(cfg.AllowedTypes) != 2 || cfg.AllowedTypes[1] != "image/webp" {
		t.Fatalf("unexpected allowed types %v", cfg.AllowedTypes)
	}
	if !cfg.MockFallback {
		t.Fatal("expected invalid bool to keep default")
	}
}
