// Package llm provides the language-model clients used by the framework
// engine. All providers satisfy the Client interface; the engine never
// depends on a concrete provider.
package llm

import (
	"context"
	"errors"
)

// ErrCallFailed wraps provider-level failures so callers can distinguish
// "the model call failed" from "the model said something unusable".
var ErrCallFailed = errors.New("llm call failed")

// Client defines the interface for LLM providers.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
