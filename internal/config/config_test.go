package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	ws := t.TempDir()
	cfg, err := Load(filepath.Join(ws, "nope.yaml"), ws)
	require.NoError(t, err)

	assert.Equal(t, "termai", cfg.Name)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 3, cfg.Framework.MaxStepRetries)
	assert.Equal(t, 50, cfg.Framework.MaxTotalSteps)
	assert.Equal(t, 0.5, cfg.Framework.ActivationThreshold)
	assert.Equal(t, ws, cfg.Execution.WorkingDirectory)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	ws := t.TempDir()
	path := filepath.Join(ws, "config.yaml")
	data := []byte("llm:\n  provider: gemini\n  model: gemini-2.0-flash\nframework:\n  max_step_retries: 5\n")
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path, ws)
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.Model)
	assert.Equal(t, 5, cfg.Framework.MaxStepRetries)
	// Unset fields fall back to defaults.
	assert.Equal(t, 50, cfg.Framework.MaxTotalSteps)
	assert.Equal(t, 0.7, cfg.Framework.DefaultParseConfidence)
	assert.Equal(t, 10, cfg.Framework.HistoryLimit)
}

func TestLoad_EnvOverridesAPIKey(t *testing.T) {
	ws := t.TempDir()
	t.Setenv("TERMAI_API_KEY", "sk-from-env")

	cfg, err := Load(filepath.Join(ws, "nope.yaml"), ws)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.LLM.APIKey)
}

func TestLoad_MalformedYAML(t *testing.T) {
	ws := t.TempDir()
	path := filepath.Join(ws, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: [not: a map"), 0644))

	_, err := Load(path, ws)
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 30*time.Second, ParseDuration("30s", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("bogus", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("-5s", time.Minute))
}
