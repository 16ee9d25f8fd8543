package llm

import (
	"context"
	"fmt"

	"github.com/RedClaus/TermAi-sub001/internal/config"
)

// NewFromConfig builds the Client named by the configuration.
func NewFromConfig(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIClientWithConfig(OpenAIConfig{
			APIKey:             cfg.APIKey,
			BaseURL:            cfg.BaseURL,
			Model:              cfg.Model,
			Timeout:            config.ParseDuration(cfg.Timeout, 0),
			MaxConcurrentCalls: int64(cfg.MaxConcurrentCalls),
		}), nil
	case "gemini":
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:             cfg.APIKey,
			Model:              cfg.Model,
			MaxConcurrentCalls: int64(cfg.MaxConcurrentCalls),
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
