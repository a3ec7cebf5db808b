// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

package scoring

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("SCORING_CONFIG_FILE", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/geopulse")
	t.Setenv("INSTANCE_ID", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Port != DefaultPort {
		t.Errorf("port = %s, want %s", cfg.Port, DefaultPort)
	}
	if cfg.BatchSize != 10 {
		t.Errorf("batch size = %d, want 10", cfg.BatchSize)
	}
	if cfg.NumRuns != 1 {
		t.Errorf("num runs = %d, want 1", cfg.NumRuns)
	}
	if cfg.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.GroundedMaxRPM != DefaultGroundedRPM {
		t.Errorf("grounded rpm = %d, want %d", cfg.GroundedMaxRPM, DefaultGroundedRPM)
	}
	if len(cfg.GroundedModels) == 0 {
		t.Error("expected a default grounded model chain")
	}
	if cfg.InstanceID != "scorer-1" {
		t.Errorf("instance id = %s", cfg.InstanceID)
	}
}

func TestLoadConfigYAMLOverlay(t *testing.T) {
	yamlBody := `
batch_size: 5
num_runs: 3
timeout_seconds: 60
grounded_max_rpm: 9
grounded_models:
  - name: gemini-2.5-pro
    grounded: true
  - name: gemini-2.0-flash
    grounded: false
openai_model: gpt-4o
recent_context:
  Moldova: "EU accession talks accelerated this spring"
`
	path := filepath.Join(t.TempDir(), "scoring.yaml")
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SCORING_CONFIG_FILE", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.BatchSize != 5 || cfg.NumRuns != 3 {
		t.Errorf("overlay not applied: batch=%d runs=%d", cfg.BatchSize, cfg.NumRuns)
	}
	if cfg.CallTimeout != 60*time.Second {
		t.Errorf("timeout = %v, want 60s", cfg.CallTimeout)
	}
	if cfg.GroundedMaxRPM != 9 {
		t.Errorf("grounded rpm = %d, want 9", cfg.GroundedMaxRPM)
	}
	if len(cfg.GroundedModels) != 2 || cfg.GroundedModels[0].Name != "gemini-2.5-pro" {
		t.Errorf("model chain not applied: %+v", cfg.GroundedModels)
	}
	if !cfg.GroundedModels[0].Grounded || cfg.GroundedModels[1].Grounded {
		t.Errorf("grounded flags not applied: %+v", cfg.GroundedModels)
	}
	if cfg.OpenAIModel != "gpt-4o" {
		t.Errorf("openai model = %s", cfg.OpenAIModel)
	}
	if cfg.RecentContext["Moldova"] == "" {
		t.Error("recent-context addenda not loaded")
	}
}

func TestLoadConfigPartialOverlayKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scoring.yaml")
	if err := os.WriteFile(path, []byte("num_runs: 5\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SCORING_CONFIG_FILE", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.NumRuns != 5 {
		t.Errorf("num runs = %d, want 5", cfg.NumRuns)
	}
	if cfg.BatchSize != DefaultBatchSize {
		t.Errorf("batch size = %d, want default %d", cfg.BatchSize, DefaultBatchSize)
	}
}

func TestLoadConfigInvalidFile(t *testing.T) {
	t.Setenv("SCORING_CONFIG_FILE", "/nonexistent/scoring.yaml")
	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for missing config file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("batch_size: [not a number"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SCORING_CONFIG_FILE", path)
	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for malformed YAML")
	}
}
