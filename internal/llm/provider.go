// Package llm provides the language model backends for Fairy.
// Supports Ollama (local, default) and Google Gemini (cloud).
package llm

import (
	"context"
	"fmt"
	"io"
	"iter"
	"time"
)

// Security limits to prevent unbounded memory usage
const (
	// MaxErrorBodySize limits how much error response body we read (1MB)
	MaxErrorBodySize = 1 * 1024 * 1024

	// MaxStreamedResponseSize limits total streamed response size (50MB)
	MaxStreamedResponseSize = 50 * 1024 * 1024
)

// readLimitedBody reads up to maxBytes from r, returning the bytes read.
func readLimitedBody(r io.Reader, maxBytes int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxBytes))
}

// Provider defines the interface for LLM providers.
type Provider interface {
	// Chat sends a message and returns the response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name returns the provider identifier.
	Name() string

	// Available returns true if the provider is configured and reachable.
	Available(ctx context.Context) bool
}

// StreamingProvider extends Provider with incremental output.
type StreamingProvider interface {
	Provider

	// ChatStream yields text fragments as they are generated. A non-nil
	// error ends the sequence.
	ChatStream(ctx context.Context, req *ChatRequest) iter.Seq2[string, error]
}

// ChatRequest represents a chat completion request.
type ChatRequest struct {
	// Model to use (provider-specific). Empty means the configured default.
	Model string `json:"model"`

	// SystemPrompt sets the assistant's behavior.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Messages in the conversation.
	Messages []Message `json:"messages"`

	// MaxTokens limits response length.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0-1.0).
	Temperature float64 `json:"temperature,omitempty"`

	// KeepAlive controls how long Ollama keeps the model loaded.
	// A pointer so that zero ("unload now") can be expressed.
	KeepAlive *time.Duration `json:"keep_alive,omitempty"`
}

// Message represents a conversation message.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`

	// Images are raw image bytes attached to the message.
	Images [][]byte `json:"images,omitempty"`
}

// ChatResponse contains the LLM's response.
type ChatResponse struct {
	Content          string        `json:"content"`
	Model            string        `json:"model"`
	TokensUsed       int           `json:"tokens_used,omitempty"`
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	Duration         time.Duration `json:"duration"`
	FinishReason     string        `json:"finish_reason,omitempty"`
}

// ProviderConfig contains configuration for an LLM provider.
type ProviderConfig struct {
	// Name identifies the provider (ollama, gemini).
	Name string

	// Endpoint is the API base URL.
	Endpoint string

	// APIKey for authentication.
	APIKey string

	// Model is the default model to use.
	Model string

	// MaxTokens default for responses.
	MaxTokens int

	// Temperature default.
	Temperature float64

	// Timeout for API calls.
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults for a provider.
func DefaultConfig(name string) *ProviderConfig {
	switch name {
	case "ollama":
		return &ProviderConfig{
			Name:        "ollama",
			Endpoint:    "http://127.0.0.1:11434",
			Model:       "llama3.2",
			MaxTokens:   2048,
			Temperature: 0.7,
			Timeout:     2 * time.Minute,
		}
	case "gemini":
		return &ProviderConfig{
			Name:        "gemini",
			Model:       "gemini-1.5-flash",
			MaxTokens:   2048,
			Temperature: 0.7,
			Timeout:     2 * time.Minute,
		}
	default:
		return &ProviderConfig{
			Name:        name,
			MaxTokens:   2048,
			Temperature: 0.7,
			Timeout:     2 * time.Minute,
		}
	}
}

// withDefaults fills empty fields from DefaultConfig.
func withDefaults(cfg *ProviderConfig, name string) *ProviderConfig {
	defaults := DefaultConfig(name)
	if cfg == nil {
		return defaults
	}
	c := *cfg
	if c.Endpoint == "" {
		c.Endpoint = defaults.Endpoint
	}
	if c.Model == "" {
		c.Model = defaults.Model
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = defaults.MaxTokens
	}
	if c.Temperature == 0 {
		c.Temperature = defaults.Temperature
	}
	if c.Timeout == 0 {
		c.Timeout = defaults.Timeout
	}
	c.Name = name
	return &c
}

// New creates the provider named by cfg.Name.
func New(ctx context.Context, cfg *ProviderConfig) (StreamingProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("provider config is required")
	}
	switch cfg.Name {
	case "", "ollama":
		return NewOllamaProvider(cfg), nil
	case "gemini":
		return NewGeminiProvider(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Name)
	}
}
