// Package config holds all TermAI engine configuration, loaded from a YAML
// file in the workspace (.termai/config.yaml by default). Missing fields get
// defaults; the LLM API key may be overridden by environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all engine configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM collaborator configuration
	LLM LLMConfig `yaml:"llm"`

	// Command execution settings
	Execution ExecutionConfig `yaml:"execution"`

	// Framework engine tuning
	Framework FrameworkConfig `yaml:"framework"`

	// Analytics persistence
	Analytics AnalyticsConfig `yaml:"analytics"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// AnalyticsConfig configures the execution-outcome log.
type AnalyticsConfig struct {
	// Path to the JSON snapshot file. Relative paths resolve against the
	// workspace directory.
	SnapshotPath string `yaml:"snapshot_path"`

	// Maximum retained execution records (oldest evicted first).
	MaxRecords int `yaml:"max_records"`
}

// Default returns the baseline configuration for a workspace.
func Default(workspace string) *Config {
	return &Config{
		Name:    "termai",
		Version: "0.1.0",
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			Timeout:  "120s",
		},
		Execution: ExecutionConfig{
			WorkingDirectory: workspace,
			DefaultTimeout:   "30s",
			MaxOutputBytes:   1024 * 1024,
			AllowedEnvVars:   []string{"PATH", "HOME", "LANG", "TERM"},
		},
		Framework: DefaultFrameworkConfig(),
		Analytics: AnalyticsConfig{
			SnapshotPath: filepath.Join(".termai", "analytics.json"),
			MaxRecords:   1000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path, applying defaults for absent fields.
// A missing file is not an error: defaults are returned.
func Load(path, workspace string) (*Config, error) {
	cfg := Default(workspace)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyDefaults(workspace)
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults(workspace)
	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyDefaults fills zero-valued fields after unmarshalling a partial file.
func (c *Config) applyDefaults(workspace string) {
	def := Default(workspace)
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = def.LLM.Provider
	}
	if c.LLM.Model == "" {
		c.LLM.Model = def.LLM.Model
	}
	if c.LLM.Timeout == "" {
		c.LLM.Timeout = def.LLM.Timeout
	}
	if c.Execution.WorkingDirectory == "" {
		c.Execution.WorkingDirectory = workspace
	}
	if c.Execution.DefaultTimeout == "" {
		c.Execution.DefaultTimeout = def.Execution.DefaultTimeout
	}
	if c.Execution.MaxOutputBytes <= 0 {
		c.Execution.MaxOutputBytes = def.Execution.MaxOutputBytes
	}
	if len(c.Execution.AllowedEnvVars) == 0 {
		c.Execution.AllowedEnvVars = def.Execution.AllowedEnvVars
	}
	c.Framework.applyDefaults()
	if c.Analytics.SnapshotPath == "" {
		c.Analytics.SnapshotPath = def.Analytics.SnapshotPath
	}
	if c.Analytics.MaxRecords <= 0 {
		c.Analytics.MaxRecords = def.Analytics.MaxRecords
	}
	if !filepath.IsAbs(c.Analytics.SnapshotPath) {
		c.Analytics.SnapshotPath = filepath.Join(workspace, c.Analytics.SnapshotPath)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

// applyEnvOverrides lets the environment supply secrets that should not live
// in the config file.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("TERMAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.LLM.Provider == "gemini" {
		c.LLM.APIKey = key
	}
}

// ParseDuration parses a duration string with a fallback for empty/invalid
// values.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
