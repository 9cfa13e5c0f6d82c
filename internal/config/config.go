// Package config loads sheriff configuration from the workspace dot-directory.
// Configuration lives in .sheriff/config.yaml (or config.json); a missing file
// yields defaults so a fresh workspace works without any setup.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all sheriff configuration.
type Config struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`

	// Resource quota for task execution and mission pausing
	Quota QuotaConfig `yaml:"quota" json:"quota"`

	// Delivery gate thresholds
	Gate GateConfig `yaml:"gate" json:"gate"`

	// Remote strategist (code generation + semantic review)
	Strategist StrategistConfig `yaml:"strategist" json:"strategist"`

	// Retry policy
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Logging
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// QuotaConfig bounds what a single task execution and a whole mission may consume.
type QuotaConfig struct {
	MaxExecutionSeconds int `yaml:"max_execution_seconds" json:"max_execution_seconds"`
	MaxMemoryMB         int `yaml:"max_memory_mb" json:"max_memory_mb"`

	// Cumulative resource units before the mission pauses (0 disables pausing).
	PauseThresholdUnits int `yaml:"pause_threshold_units" json:"pause_threshold_units"`
}

// GateConfig holds the delivery-gate policy minimums.
type GateConfig struct {
	MinQualityScore  float64 `yaml:"min_quality_score" json:"min_quality_score"`
	MinTestCoverage  float64 `yaml:"min_test_coverage" json:"min_test_coverage"`
	MinCoreCoverage  float64 `yaml:"min_core_coverage" json:"min_core_coverage"`
	MinLogicScore    float64 `yaml:"min_logic_score" json:"min_logic_score"`
	CorePathFragment string  `yaml:"core_path_fragment" json:"core_path_fragment"`
}

// StrategistConfig configures the remote collaborators.
type StrategistConfig struct {
	Provider string `yaml:"provider" json:"provider"`
	APIKey   string `yaml:"api_key" json:"api_key"`
	Model    string `yaml:"model" json:"model"`
	BaseURL  string `yaml:"base_url" json:"base_url"`
	Timeout  string `yaml:"timeout" json:"timeout"`
}

// RetryConfig controls healing and consensus retry budgets.
type RetryConfig struct {
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// When true, consensus rejections draw from their own budget instead of
	// the task's shared retry budget.
	ConsensusSeparateBudget bool `yaml:"consensus_separate_budget" json:"consensus_separate_budget"`
	MaxConsensusRejections  int  `yaml:"max_consensus_rejections" json:"max_consensus_rejections"`

	// Circuit breaker for consecutive mission-level failures.
	BreakerMaxFailures  int `yaml:"breaker_max_failures" json:"breaker_max_failures"`
	BreakerResetSeconds int `yaml:"breaker_reset_seconds" json:"breaker_reset_seconds"`
}

// LoggingConfig mirrors the logging package configuration.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode" json:"debug_mode"`
	Categories map[string]bool `yaml:"categories" json:"categories"`
	Level      string          `yaml:"level" json:"level"`
	JSONFormat bool            `yaml:"json_format" json:"json_format"`
}

// Default returns the baseline configuration. Gate thresholds default to
// quality >= 90, coverage >= 80, core coverage >= 90, logic >= 90.
func Default() *Config {
	return &Config{
		Name:    "sheriff",
		Version: "1.0.0",
		Quota: QuotaConfig{
			MaxExecutionSeconds: 30,
			MaxMemoryMB:         512,
			PauseThresholdUnits: 20000,
		},
		Gate: GateConfig{
			MinQualityScore:  90.0,
			MinTestCoverage:  80.0,
			MinCoreCoverage:  90.0,
			MinLogicScore:    90.0,
			CorePathFragment: "/core/",
		},
		Strategist: StrategistConfig{
			Provider: "sheriff-strategist",
			Model:    "strategist-v1",
			Timeout:  "120s",
		},
		Retry: RetryConfig{
			MaxRetries:              3,
			ConsensusSeparateBudget: false,
			MaxConsensusRejections:  3,
			BreakerMaxFailures:      5,
			BreakerResetSeconds:     300,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads configuration from <workspace>/.sheriff/config.yaml or
// config.json. A missing file is not an error; defaults are returned.
func Load(workspace string) (*Config, error) {
	cfg := Default()

	dir := filepath.Join(workspace, ".sheriff")
	candidates := []string{
		filepath.Join(dir, "config.yaml"),
		filepath.Join(dir, "config.json"),
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}

		if strings.HasSuffix(path, ".json") {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
		break
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as JSON so it stays hand-editable.
func (c *Config) Save(workspace string) error {
	dir := filepath.Join(workspace, ".sheriff")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// applyEnvOverrides lets secrets come from the environment instead of disk.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SHERIFF_API_KEY"); v != "" {
		c.Strategist.APIKey = v
	}
	if v := os.Getenv("SHERIFF_BASE_URL"); v != "" {
		c.Strategist.BaseURL = v
	}
	if v := os.Getenv("SHERIFF_MODEL"); v != "" {
		c.Strategist.Model = v
	}
}

// StrategistTimeout parses the strategist timeout with a safe fallback.
func (c *Config) StrategistTimeout() time.Duration {
	d, err := time.ParseDuration(c.Strategist.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// ExecutionTimeout returns the per-task sandbox wall-clock limit.
func (c *Config) ExecutionTimeout() time.Duration {
	if c.Quota.MaxExecutionSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Quota.MaxExecutionSeconds) * time.Second
}

// BreakerResetTimeout returns the circuit breaker recovery window.
func (c *Config) BreakerResetTimeout() time.Duration {
	if c.Retry.BreakerResetSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Retry.BreakerResetSeconds) * time.Second
}
