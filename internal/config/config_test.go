package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if cfg.LLM.Provider != "mock" {
		t.Errorf("expected provider 'mock', got %q", cfg.LLM.Provider)
	}
	if cfg.Storage.Backend != "local" {
		t.Errorf("expected backend 'local', got %q", cfg.Storage.Backend)
	}
	if cfg.Analysis.NPSScale != 10 {
		t.Errorf("expected nps_scale 10, got %d", cfg.Analysis.NPSScale)
	}
	if cfg.Analysis.OptionalPrefix != "（任意）" {
		t.Errorf("unexpected optional prefix %q", cfg.Analysis.OptionalPrefix)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
llm:
  provider: openai
  base_url: https://api.openai.com/v1/chat/completions
  model: gpt-4o
server:
  port: 9000
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.LLM.Provider != "openai" {
		t.Errorf("expected provider 'openai', got %q", cfg.LLM.Provider)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	// Defaults should still be set for unspecified fields
	if cfg.LLM.TimeoutSeconds != 15 {
		t.Errorf("expected default timeout, got %v", cfg.LLM.TimeoutSeconds)
	}
	if cfg.Jobs.MaxRetries != 3 {
		t.Errorf("expected default max_retries, got %d", cfg.Jobs.MaxRetries)
	}
}

func TestParseRejectsBadNPSScale(t *testing.T) {
	if _, err := parse([]byte("analysis:\n  nps_scale: 7\n")); err == nil {
		t.Error("expected error for nps_scale 7")
	}
}

func TestParseRejectsUnknownBackend(t *testing.T) {
	if _, err := parse([]byte("storage:\n  backend: ftp\n")); err == nil {
		t.Error("expected error for backend 'ftp'")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Jobs.Workers != 2 {
		t.Errorf("expected 2 workers, got %d", cfg.Jobs.Workers)
	}
}

func TestDatabasePath(t *testing.T) {
	cfg := &Config{}
	if cfg.DatabasePath() == "" {
		t.Error("expected non-empty default database path")
	}

	cfg.Database.Path = "/custom/lecfeed.db"
	if cfg.DatabasePath() != "/custom/lecfeed.db" {
		t.Errorf("expected '/custom/lecfeed.db', got %q", cfg.DatabasePath())
	}
}
