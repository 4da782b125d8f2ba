package llm

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiProvider implements the Provider interface for Google Gemini.
type GeminiProvider struct {
	config *ProviderConfig
	client *genai.Client
}

// NewGeminiProvider creates a new Gemini provider. The API key comes
// from cfg.APIKey; an empty Endpoint uses the public API.
func NewGeminiProvider(ctx context.Context, cfg *ProviderConfig) (*GeminiProvider, error) {
	cfg = withDefaults(cfg, "gemini")
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key not configured")
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiProvider{config: cfg, client: client}, nil
}

// Name returns the provider identifier.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Available reports whether an API key is configured.
func (p *GeminiProvider) Available(context.Context) bool {
	return p.config.APIKey != ""
}

// Chat sends a chat request to Gemini.
func (p *GeminiProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	model := p.model(req)

	resp, err := p.client.Models.GenerateContent(ctx, model, geminiContents(req.Messages), p.generateConfig(req))
	if err != nil {
		return nil, fmt.Errorf("Gemini generate failed: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in response")
	}

	out := &ChatResponse{
		Content:      resp.Text(),
		Model:        model,
		Duration:     time.Since(start),
		FinishReason: string(resp.Candidates[0].FinishReason),
	}
	if u := resp.UsageMetadata; u != nil {
		out.PromptTokens = int(u.PromptTokenCount)
		out.CompletionTokens = int(u.CandidatesTokenCount)
		out.TokensUsed = out.PromptTokens + out.CompletionTokens
	}
	return out, nil
}

// ChatStream yields reply fragments from Gemini's streaming endpoint.
func (p *GeminiProvider) ChatStream(ctx context.Context, req *ChatRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream := p.client.Models.GenerateContentStream(ctx, p.model(req), geminiContents(req.Messages), p.generateConfig(req))
		for resp, err := range stream {
			if err != nil {
				yield("", fmt.Errorf("Gemini stream failed: %w", err))
				return
			}
			if text := resp.Text(); text != "" {
				if !yield(text, nil) {
					return
				}
			}
		}
	}
}

// Describe sends one prompt plus one image and returns the text reply.
func (p *GeminiProvider) Describe(ctx context.Context, model, prompt string, image []byte, mimeType string) (string, error) {
	if model == "" {
		model = p.config.Model
	}
	parts := []*genai.Part{
		genai.NewPartFromText(prompt),
		genai.NewPartFromBytes(image, mimeType),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text()), nil
}

func (p *GeminiProvider) model(req *ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.config.Model
}

func (p *GeminiProvider) generateConfig(req *ChatRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	temp := req.Temperature
	if temp == 0 {
		temp = p.config.Temperature
	}
	cfg.Temperature = genai.Ptr(float32(temp))

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}
	cfg.MaxOutputTokens = int32(maxTokens)

	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	return cfg
}

// geminiContents converts messages to Gemini contents. Gemini uses
// "model" instead of "assistant" and has no system role in history.
func geminiContents(msgs []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, msg := range msgs {
		var role genai.Role = genai.RoleUser
		if msg.Role == "assistant" {
			role = genai.RoleModel
		}
		parts := []*genai.Part{genai.NewPartFromText(msg.Content)}
		for _, img := range msg.Images {
			parts = append(parts, genai.NewPartFromBytes(img, http.DetectContentType(img)))
		}
		out = append(out, genai.NewContentFromParts(parts, role))
	}
	return out
}
