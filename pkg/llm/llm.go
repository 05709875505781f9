// Package llm provides single-turn chat completion clients for the
// providers Sift supports. Query expansion, reranking, evaluation, and
// answer synthesis all go through the Client interface.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoAPIKey indicates the provider was selected but no API key is
// configured.
var ErrNoAPIKey = errors.New("llm: api key not set")

// Request is a single-turn completion request.
type Request struct {
	// System is the optional system prompt.
	System string

	// Prompt is the user message.
	Prompt string

	// Temperature controls sampling randomness. Zero means deterministic
	// output where the provider supports it.
	Temperature float64

	// MaxTokens caps the response length. Zero uses the client default.
	MaxTokens int
}

// Client is a chat completion provider.
type Client interface {
	// Complete sends a single-turn request and returns the text response.
	Complete(ctx context.Context, req Request) (string, error)

	// ModelName returns the model identifier in use.
	ModelName() string
}

// Config holds provider selection and credentials.
type Config struct {
	// Provider selects the backend: anthropic or openai.
	Provider string

	// APIKey authenticates with the provider.
	APIKey string

	// Model is the model identifier. Empty uses the provider default.
	Model string

	// MaxTokens is the default response cap.
	MaxTokens int

	// BaseURL overrides the provider endpoint, for proxies and tests.
	BaseURL string
}

// New creates a Client for the configured provider.
func New(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	switch cfg.Provider {
	case "", "anthropic":
		return newAnthropicClient(cfg), nil
	case "openai":
		return newOpenAIClient(cfg), nil
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", cfg.Provider)
	}
}
