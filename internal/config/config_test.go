package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Quota.MaxExecutionSeconds)
	assert.Equal(t, 512, cfg.Quota.MaxMemoryMB)
	assert.Equal(t, 20000, cfg.Quota.PauseThresholdUnits)
	assert.Equal(t, 90.0, cfg.Gate.MinQualityScore)
	assert.Equal(t, 80.0, cfg.Gate.MinTestCoverage)
	assert.Equal(t, 90.0, cfg.Gate.MinCoreCoverage)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.False(t, cfg.Retry.ConsensusSeparateBudget)
}

func TestLoadJSONOverridesDefaults(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, ".sheriff")
	require.NoError(t, os.MkdirAll(dir, 0755))

	raw := `{
		"quota": {"max_execution_seconds": 10, "max_memory_mb": 128, "pause_threshold_units": 500},
		"gate": {"min_quality_score": 75.0, "min_test_coverage": 60.0, "min_core_coverage": 85.0, "min_logic_score": 70.0},
		"retry": {"max_retries": 5, "consensus_separate_budget": true, "max_consensus_rejections": 2}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(raw), 0644))

	cfg, err := Load(ws)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Quota.MaxExecutionSeconds)
	assert.Equal(t, 128, cfg.Quota.MaxMemoryMB)
	assert.Equal(t, 500, cfg.Quota.PauseThresholdUnits)
	assert.Equal(t, 75.0, cfg.Gate.MinQualityScore)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.True(t, cfg.Retry.ConsensusSeparateBudget)
}

func TestLoadYAML(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, ".sheriff")
	require.NoError(t, os.MkdirAll(dir, 0755))

	raw := "quota:\n  max_execution_seconds: 7\ngate:\n  min_logic_score: 95\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(raw), 0644))

	cfg, err := Load(ws)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Quota.MaxExecutionSeconds)
	assert.Equal(t, 95.0, cfg.Gate.MinLogicScore)
	// Untouched sections keep defaults.
	assert.Equal(t, 512, cfg.Quota.MaxMemoryMB)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SHERIFF_API_KEY", "sk-test-123")
	t.Setenv("SHERIFF_MODEL", "strategist-v2")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "sk-test-123", cfg.Strategist.APIKey)
	assert.Equal(t, "strategist-v2", cfg.Strategist.Model)
}

func TestSaveRoundTrip(t *testing.T) {
	ws := t.TempDir()

	cfg := Default()
	cfg.Quota.MaxMemoryMB = 256
	require.NoError(t, cfg.Save(ws))

	loaded, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, 256, loaded.Quota.MaxMemoryMB)
}

func TestDurationFallbacks(t *testing.T) {
	cfg := Default()
	cfg.Strategist.Timeout = "garbage"
	assert.Equal(t, 120*time.Second, cfg.StrategistTimeout())

	cfg.Quota.MaxExecutionSeconds = 0
	assert.Equal(t, 30*time.Second, cfg.ExecutionTimeout())

	cfg.Retry.BreakerResetSeconds = -1
	assert.Equal(t, 5*time.Minute, cfg.BreakerResetTimeout())
}
