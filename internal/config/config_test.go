package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/aria
llm:
  catalog_path: ./models.yaml
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Fatalf("expected default http_port 8080, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Session.ContextWindow != 50 {
		t.Fatalf("expected default context_window 50, got %d", cfg.Session.ContextWindow)
	}
	if cfg.Swarm.ConvergenceThreshold != 0.7 {
		t.Fatalf("expected default convergence_threshold 0.7, got %v", cfg.Swarm.ConvergenceThreshold)
	}
	if cfg.Session.AgentContextLimit != 8 {
		t.Fatalf("expected default agent_context_limit 8, got %d", cfg.Session.AgentContextLimit)
	}
	if cfg.Heartbeat.MainInterval.String() != "30s" {
		t.Fatalf("expected default main heartbeat interval 30s, got %v", cfg.Heartbeat.MainInterval)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/aria
llm:
  catalog_path: ./models.yaml
bogus_top_level_field: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidatesDatabaseURL(t *testing.T) {
	path := writeConfig(t, `
llm:
  catalog_path: ./models.yaml
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "database.url") {
		t.Fatalf("expected database.url error, got %v", err)
	}
}

func TestLoadValidatesCatalogPath(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/aria
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "catalog_path") {
		t.Fatalf("expected catalog_path error, got %v", err)
	}
}

func TestLoadRejectsDuplicateAgentIDs(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/aria
llm:
  catalog_path: ./models.yaml
agents:
  - agent_id: main
    model: claude-main
  - agent_id: main
    model: claude-main-2
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "duplicate agent_id") {
		t.Fatalf("expected duplicate agent_id error, got %v", err)
	}
}

func TestLoadRejectsInvalidConvergenceThreshold(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/aria
llm:
  catalog_path: ./models.yaml
swarm:
  convergence_threshold: 1.5
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "convergence_threshold") {
		t.Fatalf("expected convergence_threshold error, got %v", err)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://override@localhost/aria")
	t.Setenv("ARIA_API_KEY", "override-key")
	t.Setenv("LITELLM_BASE_URL", "https://litellm.internal")

	path := writeConfig(t, `
database:
  url: postgres://default@localhost/aria
llm:
  catalog_path: ./models.yaml
auth:
  api_key: placeholder
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.URL != "postgres://override@localhost/aria" {
		t.Fatalf("expected database url override, got %q", cfg.Database.URL)
	}
	if cfg.Auth.APIKey != "override-key" {
		t.Fatalf("expected ARIA_API_KEY override, got %q", cfg.Auth.APIKey)
	}
	if cfg.LLM.BaseURL != "https://litellm.internal" {
		t.Fatalf("expected LITELLM_BASE_URL override, got %q", cfg.LLM.BaseURL)
	}
}

func TestLoadExpandsEnvInterpolation(t *testing.T) {
	t.Setenv("ARIA_TEST_DB_HOST", "db.internal")

	path := writeConfig(t, `
database:
  url: postgres://${ARIA_TEST_DB_HOST}/aria
llm:
  catalog_path: ./models.yaml
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.URL != "postgres://db.internal/aria" {
		t.Fatalf("expected expanded database url, got %q", cfg.Database.URL)
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "aria.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
