package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TimeoutConfig defines the 3-phase timeout system for Ollama.
// Phase 1 (Connection): Time to establish HTTP connection and send headers
// Phase 2 (First Token): Time to receive first token after request sent (model loading happens here)
// Phase 3 (Streaming): Max time between tokens during response streaming
type TimeoutConfig struct {
	ConnectionTimeout time.Duration
	FirstTokenTimeout time.Duration
	StreamIdleTimeout time.Duration
}

// DefaultTimeoutConfig returns defaults for a local Ollama.
// Cold start (model loading) can take 30-90+ seconds depending on model size and hardware.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		ConnectionTimeout: 30 * time.Second,
		FirstTokenTimeout: 120 * time.Second,
		StreamIdleTimeout: 30 * time.Second,
	}
}

// RemoteTimeoutConfig returns more lenient timeouts for a remote Ollama server.
func RemoteTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		ConnectionTimeout: 60 * time.Second,
		FirstTokenTimeout: 300 * time.Second,
		StreamIdleTimeout: 60 * time.Second,
	}
}

// isRemoteEndpoint checks if the Ollama endpoint is a remote server (not localhost).
func isRemoteEndpoint(endpoint string) bool {
	u, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1", "host.docker.internal":
		return false
	}
	return true
}

// OllamaProvider talks to the Ollama HTTP API. It is the default brain
// and also serves the local vision model.
type OllamaProvider struct {
	config        *ProviderConfig
	client        *http.Client
	timeoutConfig TimeoutConfig
}

// OllamaOption is a functional option for configuring OllamaProvider.
type OllamaOption func(*OllamaProvider)

// WithTimeoutConfig sets custom timeout configuration for the Ollama provider.
func WithTimeoutConfig(cfg TimeoutConfig) OllamaOption {
	return func(p *OllamaProvider) {
		p.timeoutConfig = cfg
		if transport, ok := p.client.Transport.(*http.Transport); ok {
			transport.ResponseHeaderTimeout = cfg.FirstTokenTimeout
		}
	}
}

// WithFirstTokenTimeout sets the first token (cold start) timeout.
func WithFirstTokenTimeout(d time.Duration) OllamaOption {
	return func(p *OllamaProvider) {
		p.timeoutConfig.FirstTokenTimeout = d
	}
}

// WithStreamIdleTimeout sets the streaming idle timeout.
func WithStreamIdleTimeout(d time.Duration) OllamaOption {
	return func(p *OllamaProvider) {
		p.timeoutConfig.StreamIdleTimeout = d
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) OllamaOption {
	return func(p *OllamaProvider) {
		p.client = c
	}
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(cfg *ProviderConfig, opts ...OllamaOption) *OllamaProvider {
	cfg = withDefaults(cfg, "ollama")

	timeoutConfig := DefaultTimeoutConfig()
	if isRemoteEndpoint(cfg.Endpoint) {
		timeoutConfig = RemoteTimeoutConfig()
	}

	p := &OllamaProvider{
		config:        cfg,
		timeoutConfig: timeoutConfig,
		client: &http.Client{
			// No Client.Timeout: it would cover body reads and cut off long
			// streams. The first-token and idle timers bound the stream instead.
			Transport: &http.Transport{
				ResponseHeaderTimeout: timeoutConfig.FirstTokenTimeout,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
			},
		},
	}

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// Model returns the default model.
func (p *OllamaProvider) Model() string {
	return p.config.Model
}

// Available checks if Ollama is running and has at least one model.
func (p *OllamaProvider) Available(ctx context.Context) bool {
	models, err := p.Models(ctx)
	return err == nil && len(models) > 0
}

// Chat sends a chat request and collects the streamed reply.
func (p *OllamaProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	body, err := p.open(ctx, req)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var content strings.Builder
	var last ollamaChatResponse
	for chunk, err := range p.chunks(ctx, body) {
		if err != nil {
			return nil, err
		}
		content.WriteString(chunk.Message.Content)
		if last.Model == "" || chunk.Done {
			last = chunk
		}
	}
	if last.Model == "" {
		return nil, fmt.Errorf("empty response from Ollama")
	}

	return &ChatResponse{
		Content:          content.String(),
		Model:            last.Model,
		PromptTokens:     last.PromptEvalCount,
		CompletionTokens: last.EvalCount,
		TokensUsed:       last.PromptEvalCount + last.EvalCount,
		Duration:         time.Since(start),
		FinishReason:     "stop",
	}, nil
}

// ChatStream yields reply fragments as Ollama produces them.
func (p *OllamaProvider) ChatStream(ctx context.Context, req *ChatRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		body, err := p.open(ctx, req)
		if err != nil {
			yield("", err)
			return
		}
		defer body.Close()

		for chunk, err := range p.chunks(ctx, body) {
			if err != nil {
				yield("", err)
				return
			}
			if chunk.Message.Content == "" {
				continue
			}
			if !yield(chunk.Message.Content, nil) {
				return
			}
		}
	}
}

// Unload asks Ollama to evict a model from memory right away.
func (p *OllamaProvider) Unload(ctx context.Context, model string) error {
	zero := 0.0
	body, err := json.Marshal(ollamaGenerateRequest{Model: model, KeepAlive: &zero})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
		return fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Models lists the models installed on the server.
func (p *OllamaProvider) Models(ctx context.Context) ([]OllamaModel, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.Endpoint+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to Ollama at %s: %w", p.config.Endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
		return nil, fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return tags.Models, nil
}

// open posts a streaming chat request and returns the response body.
func (p *OllamaProvider) open(ctx context.Context, req *ChatRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
		return nil, fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}
	return resp.Body, nil
}

func (p *OllamaProvider) buildRequest(req *ChatRequest) ollamaChatRequest {
	out := ollamaChatRequest{
		Model:  req.Model,
		Stream: true,
	}
	if out.Model == "" {
		out.Model = p.config.Model
	}

	if req.SystemPrompt != "" {
		out.Messages = append(out.Messages, ollamaMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, msg := range req.Messages {
		out.Messages = append(out.Messages, ollamaMessage{
			Role:    msg.Role,
			Content: msg.Content,
			Images:  msg.Images,
		})
	}

	out.Options.Temperature = req.Temperature
	if out.Options.Temperature == 0 {
		out.Options.Temperature = p.config.Temperature
	}
	out.Options.NumPredict = req.MaxTokens
	if out.Options.NumPredict == 0 {
		out.Options.NumPredict = p.config.MaxTokens
	}

	if req.KeepAlive != nil {
		secs := req.KeepAlive.Seconds()
		out.KeepAlive = &secs
	}
	return out
}

// chunks decodes the NDJSON stream while enforcing the first-token and
// idle timeouts. The reader goroutine exits when ctx is cancelled, so
// callers must cancel ctx once they stop ranging.
func (p *OllamaProvider) chunks(ctx context.Context, body io.Reader) iter.Seq2[ollamaChatResponse, error] {
	return func(yield func(ollamaChatResponse, error) bool) {
		type streamChunk struct {
			chunk ollamaChatResponse
			err   error
		}

		chunkChan := make(chan streamChunk, 1)
		go func() {
			defer close(chunkChan)
			decoder := json.NewDecoder(body)
			for {
				var chunk ollamaChatResponse
				if err := decoder.Decode(&chunk); err != nil {
					if err != io.EOF {
						select {
						case <-ctx.Done():
						case chunkChan <- streamChunk{err: err}:
						}
					}
					return
				}
				select {
				case <-ctx.Done():
					return
				case chunkChan <- streamChunk{chunk: chunk}:
				}
				if chunk.Done {
					return
				}
			}
		}()

		var zero ollamaChatResponse
		var totalBytes int64
		start := time.Now()
		firstTokenTimer := time.NewTimer(p.timeoutConfig.FirstTokenTimeout)
		defer firstTokenTimer.Stop()
		var idleTimer *time.Timer

		for {
			timeout := firstTokenTimer.C
			if idleTimer != nil {
				timeout = idleTimer.C
			}

			select {
			case <-ctx.Done():
				yield(zero, ctx.Err())
				return

			case c, ok := <-chunkChan:
				if !ok {
					return
				}
				if c.err != nil {
					yield(zero, fmt.Errorf("decode stream chunk: %w", c.err))
					return
				}
				if c.chunk.Error != "" {
					yield(zero, fmt.Errorf("ollama error: %s", c.chunk.Error))
					return
				}

				if idleTimer == nil {
					firstTokenTimer.Stop()
					idleTimer = time.NewTimer(p.timeoutConfig.StreamIdleTimeout)
					defer idleTimer.Stop()
				} else {
					idleTimer.Reset(p.timeoutConfig.StreamIdleTimeout)
				}

				totalBytes += int64(len(c.chunk.Message.Content))
				if totalBytes > MaxStreamedResponseSize {
					yield(zero, fmt.Errorf("response size exceeded limit (%d bytes) - possible runaway generation", MaxStreamedResponseSize))
					return
				}
				if !yield(c.chunk, nil) {
					return
				}

			case <-timeout:
				if idleTimer == nil {
					yield(zero, fmt.Errorf("timeout waiting for first token (waited %v, limit %v) - model may be loading or request stalled",
						time.Since(start).Round(time.Millisecond), p.timeoutConfig.FirstTokenTimeout))
					return
				}
				yield(zero, fmt.Errorf("stream idle timeout (no token received for %v) - model appears to have stalled",
					p.timeoutConfig.StreamIdleTimeout))
				return
			}
		}
	}
}

// Ollama API types
type ollamaChatRequest struct {
	Model     string          `json:"model"`
	Messages  []ollamaMessage `json:"messages"`
	Stream    bool            `json:"stream"`
	Options   ollamaOptions   `json:"options,omitempty"`
	KeepAlive *float64        `json:"keep_alive,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// Images marshal as base64 strings, which is what Ollama expects.
	Images [][]byte `json:"images,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaGenerateRequest struct {
	Model     string   `json:"model"`
	Prompt    string   `json:"prompt"`
	Stream    bool     `json:"stream"`
	KeepAlive *float64 `json:"keep_alive,omitempty"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	Error           string        `json:"error,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

// OllamaModel represents a model available on an Ollama server.
type OllamaModel struct {
	Name       string `json:"name"`
	Model      string `json:"model"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
}

type ollamaTagsResponse struct {
	Models []OllamaModel `json:"models"`
}
