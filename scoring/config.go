// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

package scoring

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"geopulse/platform/scoring/llm"
	"geopulse/platform/scoring/llm/gemini"
)

// Defaults for the scoring pipeline. Overridable via the YAML config file.
const (
	DefaultPort        = "8090"
	DefaultBatchSize   = 10
	DefaultNumRuns     = 1
	DefaultMaxAttempts = 3
	DefaultCallTimeout = 120 * time.Second
	DefaultGroundedRPM = 10
)

// ModelConfig is one entry in a YAML model chain.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Grounded bool   `yaml:"grounded"`
}

// FileConfig is the optional YAML overlay loaded from SCORING_CONFIG_FILE.
// Zero values mean "keep the default".
type FileConfig struct {
	BatchSize      int               `yaml:"batch_size"`
	NumRuns        int               `yaml:"num_runs"`
	MaxAttempts    int               `yaml:"max_attempts"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	GroundedMaxRPM int               `yaml:"grounded_max_rpm"`
	GroundedModels []ModelConfig     `yaml:"grounded_models"`
	OpenAIModel    string            `yaml:"openai_model"`
	RecentContext  map[string]string `yaml:"recent_context"`
}

// Config carries everything the scoring service needs to start.
type Config struct {
	Port         string
	DatabaseURL  string
	RedisURL     string
	OpenAIAPIKey string
	GeminiAPIKey string
	InstanceID   string

	BatchSize      int
	NumRuns        int
	MaxAttempts    int
	CallTimeout    time.Duration
	GroundedMaxRPM int
	GroundedModels []llm.ModelOption
	OpenAIModel    string
	RecentContext  map[string]string
}

// LoadConfig reads configuration from the environment, then applies the
// optional YAML overlay named by SCORING_CONFIG_FILE.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:         getEnv("PORT", DefaultPort),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		InstanceID:   getEnv("INSTANCE_ID", "scorer-1"),

		BatchSize:      DefaultBatchSize,
		NumRuns:        DefaultNumRuns,
		MaxAttempts:    DefaultMaxAttempts,
		CallTimeout:    DefaultCallTimeout,
		GroundedMaxRPM: DefaultGroundedRPM,
		GroundedModels: gemini.DefaultFallbackModels(),
		RecentContext:  map[string]string{},
	}

	if path := os.Getenv("SCORING_CONFIG_FILE"); path != "" {
		overlay, err := loadFileConfig(path)
		if err != nil {
			return nil, err
		}
		applyFileConfig(cfg, overlay)
	}

	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("batch_size must be at least 1, got %d", cfg.BatchSize)
	}
	if cfg.NumRuns < 1 {
		return nil, fmt.Errorf("num_runs must be at least 1, got %d", cfg.NumRuns)
	}

	return cfg, nil
}

func loadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &fc, nil
}

func applyFileConfig(cfg *Config, fc *FileConfig) {
	if fc.BatchSize > 0 {
		cfg.BatchSize = fc.BatchSize
	}
	if fc.NumRuns > 0 {
		cfg.NumRuns = fc.NumRuns
	}
	if fc.MaxAttempts > 0 {
		cfg.MaxAttempts = fc.MaxAttempts
	}
	if fc.TimeoutSeconds > 0 {
		cfg.CallTimeout = time.Duration(fc.TimeoutSeconds) * time.Second
	}
	if fc.GroundedMaxRPM > 0 {
		cfg.GroundedMaxRPM = fc.GroundedMaxRPM
	}
	if len(fc.GroundedModels) > 0 {
		models := make([]llm.ModelOption, 0, len(fc.GroundedModels))
		for _, m := range fc.GroundedModels {
			models = append(models, llm.ModelOption{Name: m.Name, Grounded: m.Grounded})
		}
		cfg.GroundedModels = models
	}
	if fc.OpenAIModel != "" {
		cfg.OpenAIModel = fc.OpenAIModel
	}
	if len(fc.RecentContext) > 0 {
		cfg.RecentContext = fc.RecentContext
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
