package config

// LLMConfig configures the LLM collaborator.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`

	// MaxConcurrentCalls caps in-flight API calls across all sessions.
	MaxConcurrentCalls int `yaml:"max_concurrent_calls"`
}
