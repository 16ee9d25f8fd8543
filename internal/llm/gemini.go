package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"google.golang.org/genai"

	"github.com/RedClaus/TermAi-sub001/internal/logging"
)

// GeminiClient implements Client using Google's Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
	sem    *semaphore.Weighted
}

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey             string
	Model              string
	MaxConcurrentCalls int64
}

// NewGeminiClient creates a Gemini-backed client.
func NewGeminiClient(ctx context.Context, config GeminiConfig) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if config.Model == "" {
		config.Model = "gemini-2.0-flash"
	}
	if config.MaxConcurrentCalls <= 0 {
		config.MaxConcurrentCalls = 4
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: config.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiClient{
		client: client,
		model:  config.Model,
		sem:    semaphore.NewWeighted(config.MaxConcurrentCalls),
	}, nil
}

// Complete sends a prompt and returns the completion.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system message.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCallFailed, err)
	}
	defer c.sem.Release(1)

	contents := []*genai.Content{
		genai.NewContentFromText(userPrompt, genai.RoleUser),
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.1),
	}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	start := time.Now()
	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		logging.APIError("gemini completion failed: model=%s err=%v", c.model, err)
		return "", fmt.Errorf("%w: %v", ErrCallFailed, err)
	}

	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("%w: no completion returned", ErrCallFailed)
	}

	logging.API("gemini completion ok: model=%s elapsed=%v", c.model, time.Since(start))
	return strings.TrimSpace(text), nil
}

// GetModel returns the current model.
func (c *GeminiClient) GetModel() string {
	return c.model
}
