package config

// LoggingConfig configures the categorized debug log files.
type LoggingConfig struct {
	// DebugMode enables file logging; when false nothing is written.
	DebugMode bool `yaml:"debug_mode"`

	// Categories toggles individual log categories; empty means all.
	Categories map[string]bool `yaml:"categories"`

	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}
