package config

// ExecutionConfig configures sandboxed command execution.
type ExecutionConfig struct {
	// Working directory commands run in (session context may override).
	WorkingDirectory string `yaml:"working_directory"`

	// Default wall-clock timeout for commands.
	DefaultTimeout string `yaml:"default_timeout"`

	// Maximum captured output bytes per command.
	MaxOutputBytes int64 `yaml:"max_output_bytes"`

	// Environment variables passed through to commands.
	AllowedEnvVars []string `yaml:"allowed_env_vars"`
}
