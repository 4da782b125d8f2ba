package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/fairy/internal/agent"
)

func writeChunks(w http.ResponseWriter, tokens ...string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	for i, token := range tokens {
		chunk := ollamaChatResponse{
			Model:           "test-model",
			Message:         ollamaMessage{Role: "assistant", Content: token},
			Done:            i == len(tokens)-1,
			PromptEvalCount: 10,
			EvalCount:       len(tokens),
		}
		json.NewEncoder(w).Encode(chunk)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

func testRequest() *ChatRequest {
	return &ChatRequest{Messages: []Message{{Role: "user", Content: "test"}}}
}

// TestOllamaStreamingNormalCompletion verifies normal stream completion.
func TestOllamaStreamingNormalCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChunks(w, "Hello", " ", "world", "!")
	}))
	defer server.Close()

	provider := NewOllamaProvider(&ProviderConfig{Endpoint: server.URL, Model: "test-model"})

	resp, err := provider.Chat(context.Background(), testRequest())
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, "Hello world!", resp.Content)
	assert.Equal(t, "test-model", resp.Model)
	assert.Equal(t, 10, resp.PromptTokens)
	assert.Equal(t, 4, resp.CompletionTokens)
	assert.Equal(t, 14, resp.TokensUsed)
}

func TestOllamaChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChunks(w, "[ACTION:", "SEARCH", "|go]", "")
	}))
	defer server.Close()

	provider := NewOllamaProvider(&ProviderConfig{Endpoint: server.URL})

	var fragments []string
	for fragment, err := range provider.ChatStream(context.Background(), testRequest()) {
		require.NoError(t, err)
		fragments = append(fragments, fragment)
	}
	assert.Equal(t, []string{"[ACTION:", "SEARCH", "|go]"}, fragments)
}

func TestOllamaChatStreamEarlyBreak(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChunks(w, "a", "b", "c", "d")
	}))
	defer server.Close()

	provider := NewOllamaProvider(&ProviderConfig{Endpoint: server.URL})

	var got string
	for fragment, err := range provider.ChatStream(context.Background(), testRequest()) {
		require.NoError(t, err)
		got += fragment
		if got == "ab" {
			break
		}
	}
	assert.Equal(t, "ab", got)
}

// TestOllamaStreamingContextCancellation verifies that streaming exits cleanly on cancellation.
func TestOllamaStreamingContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		for i := 0; i < 10; i++ {
			chunk := ollamaChatResponse{
				Model:   "test-model",
				Message: ollamaMessage{Role: "assistant", Content: "token "},
				Done:    i == 9,
			}
			if err := json.NewEncoder(w).Encode(chunk); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			select {
			case <-r.Context().Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
		}
	}))
	defer server.Close()

	provider := NewOllamaProvider(&ProviderConfig{Endpoint: server.URL, Model: "test-model"})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var err error
	go func() {
		_, err = provider.Chat(ctx, testRequest())
		close(done)
	}()

	time.Sleep(150 * time.Millisecond)
	cancel()

	select {
	case <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "context canceled")
	case <-time.After(2 * time.Second):
		t.Fatal("Chat() did not return after context cancellation")
	}
}

// TestOllamaStreamingErrorHandling verifies error handling in the reader goroutine.
func TestOllamaStreamingErrorHandling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Model:   "test-model",
			Message: ollamaMessage{Role: "assistant", Content: "token"},
		})
		w.Write([]byte("{invalid json\n"))
	}))
	defer server.Close()

	provider := NewOllamaProvider(&ProviderConfig{Endpoint: server.URL})

	_, err := provider.Chat(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode stream chunk")
}

func TestOllamaErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model \"nope\" not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	provider := NewOllamaProvider(&ProviderConfig{Endpoint: server.URL, Model: "nope"})

	_, err := provider.Chat(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")

	for _, err := range provider.ChatStream(context.Background(), testRequest()) {
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 404")
	}
}

func TestOllamaInlineError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"error":"out of memory"}` + "\n"))
	}))
	defer server.Close()

	provider := NewOllamaProvider(&ProviderConfig{Endpoint: server.URL})
	_, err := provider.Chat(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of memory")
}

func TestOllamaEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	provider := NewOllamaProvider(&ProviderConfig{Endpoint: server.URL})
	_, err := provider.Chat(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty response")
}

// TestOllamaFirstTokenTimeout verifies first token timeout detection.
func TestOllamaFirstTokenTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	}))
	defer server.Close()

	provider := NewOllamaProvider(&ProviderConfig{Endpoint: server.URL},
		WithFirstTokenTimeout(200*time.Millisecond))

	start := time.Now()
	_, err := provider.Chat(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout waiting for first token")
	assert.Less(t, time.Since(start), 2*time.Second, "Should timeout quickly")
}

// TestOllamaStreamIdleTimeout verifies idle timeout between tokens.
func TestOllamaStreamIdleTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Model:   "test-model",
			Message: ollamaMessage{Role: "assistant", Content: "first "},
		})
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	}))
	defer server.Close()

	provider := NewOllamaProvider(&ProviderConfig{Endpoint: server.URL},
		WithStreamIdleTimeout(100*time.Millisecond))

	start := time.Now()
	resp, err := provider.Chat(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream idle timeout")
	assert.Nil(t, resp)
	assert.Less(t, time.Since(start), time.Second, "Should timeout quickly after idle")
}

func TestOllamaRequestBody(t *testing.T) {
	var mu sync.Mutex
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		mu.Lock()
		json.NewDecoder(r.Body).Decode(&got)
		mu.Unlock()
		writeChunks(w, "ok")
	}))
	defer server.Close()

	provider := NewOllamaProvider(&ProviderConfig{Endpoint: server.URL, Model: "llama3.2"})
	unload := time.Duration(0)
	_, err := provider.Chat(context.Background(), &ChatRequest{
		Model:        "moondream",
		SystemPrompt: "be brief",
		Messages:     []Message{{Role: "user", Content: "what is this", Images: [][]byte{[]byte("PNGDATA")}}},
		KeepAlive:    &unload,
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "moondream", got["model"])
	assert.Equal(t, true, got["stream"])
	assert.Equal(t, float64(0), got["keep_alive"])

	messages := got["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	user := messages[1].(map[string]any)
	assert.Equal(t, []any{base64.StdEncoding.EncodeToString([]byte("PNGDATA"))}, user["images"])
}

func TestOllamaRequestOmitsKeepAliveByDefault(t *testing.T) {
	provider := NewOllamaProvider(&ProviderConfig{Endpoint: "http://localhost:11434"})
	body, err := json.Marshal(provider.buildRequest(testRequest()))
	require.NoError(t, err)
	assert.NotContains(t, string(body), "keep_alive")
	assert.Contains(t, string(body), `"model":"llama3.2"`)
}

func TestOllamaUnload(t *testing.T) {
	var got ollamaGenerateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(raw), `"keep_alive":0`)
		json.Unmarshal(raw, &got)
		w.Write([]byte(`{"model":"llama3.2","done":true}`))
	}))
	defer server.Close()

	provider := NewOllamaProvider(&ProviderConfig{Endpoint: server.URL})
	require.NoError(t, provider.Unload(context.Background(), "llama3.2:latest"))
	assert.Equal(t, "llama3.2:latest", got.Model)
}

func TestOllamaModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models":[{"name":"llama3.2:latest"},{"name":"moondream:latest"}]}`))
	}))
	defer server.Close()

	provider := NewOllamaProvider(&ProviderConfig{Endpoint: server.URL})
	models, err := provider.Models(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "moondream:latest", models[1].Name)
	assert.True(t, provider.Available(context.Background()))

	server.Close()
	assert.False(t, provider.Available(context.Background()))
}

// TestOllamaTimeoutConfigOptions verifies timeout configuration options.
func TestOllamaTimeoutConfigOptions(t *testing.T) {
	t.Run("default_config", func(t *testing.T) {
		cfg := DefaultTimeoutConfig()
		assert.Equal(t, 30*time.Second, cfg.ConnectionTimeout)
		assert.Equal(t, 120*time.Second, cfg.FirstTokenTimeout)
		assert.Equal(t, 30*time.Second, cfg.StreamIdleTimeout)
	})

	t.Run("remote_endpoint_uses_remote_config", func(t *testing.T) {
		provider := NewOllamaProvider(&ProviderConfig{Endpoint: "http://192.168.1.20:11434"})
		assert.Equal(t, RemoteTimeoutConfig(), provider.timeoutConfig)
	})

	t.Run("custom_config", func(t *testing.T) {
		custom := TimeoutConfig{
			ConnectionTimeout: 10 * time.Second,
			FirstTokenTimeout: 20 * time.Second,
			StreamIdleTimeout: 5 * time.Second,
		}
		provider := NewOllamaProvider(&ProviderConfig{Endpoint: "http://localhost:11434"}, WithTimeoutConfig(custom))
		assert.Equal(t, custom, provider.timeoutConfig)
	})
}

// TestIsRemoteEndpoint verifies remote endpoint detection.
func TestIsRemoteEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		want     bool
	}{
		{"http://localhost:11434", false},
		{"http://127.0.0.1:11434", false},
		{"http://[::1]:11434", false},
		{"http://host.docker.internal:11434", false},
		{"http://192.168.1.100:11434", true},
		{"https://ollama.example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.want, isRemoteEndpoint(tt.endpoint))
		})
	}
}

func TestNewProvider(t *testing.T) {
	p, err := New(context.Background(), &ProviderConfig{Name: "ollama"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())
	assert.Equal(t, "llama3.2", p.(*OllamaProvider).Model())

	_, err = New(context.Background(), &ProviderConfig{Name: "gemini"})
	assert.ErrorContains(t, err, "API key")

	_, err = New(context.Background(), &ProviderConfig{Name: "gpt"})
	assert.ErrorContains(t, err, "unknown LLM provider")
}

// chatOnly is a Provider without streaming.
type chatOnly struct {
	mu   sync.Mutex
	reqs []*ChatRequest
	err  error
}

func (c *chatOnly) Chat(_ context.Context, req *ChatRequest) (*ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	if c.err != nil {
		return nil, c.err
	}
	return &ChatResponse{Content: "reply", TokensUsed: 7}, nil
}

func (c *chatOnly) Name() string                   { return "fake" }
func (c *chatOnly) Available(context.Context) bool { return true }

type inferenceLog struct {
	mu    sync.Mutex
	calls []error
}

func (l *inferenceLog) ObserveInference(_ string, _ time.Duration, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, err)
}

func TestAgentAdapterSplitsSystemTurns(t *testing.T) {
	p := &chatOnly{}
	obs := &inferenceLog{}
	a := NewAgentAdapter(p, "llama3.2").WithObserver(obs)

	reply, err := a.Chat(context.Background(), []agent.Turn{
		{Role: agent.RoleSystem, Content: "You are Fairy."},
		{Role: agent.RoleUser, Content: "hi"},
		{Role: agent.RoleAssistant, Content: "hello"},
		{Role: agent.RoleUser, Content: "[SYSTEM OBSERVATION]\n1. ok"},
	})
	require.NoError(t, err)
	assert.Equal(t, "reply", reply)
	assert.Equal(t, 7, a.TotalTokens())

	require.Len(t, p.reqs, 1)
	req := p.reqs[0]
	assert.Equal(t, "llama3.2", req.Model)
	assert.Equal(t, "You are Fairy.", req.SystemPrompt)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "assistant", req.Messages[1].Role)
	assert.Len(t, obs.calls, 1)
	assert.NoError(t, obs.calls[0])
}

func TestAgentAdapterStreamFallback(t *testing.T) {
	a := NewAgentAdapter(&chatOnly{}, "")
	var got []string
	for fragment, err := range a.Stream(context.Background(), []agent.Turn{{Role: agent.RoleUser, Content: "hi"}}) {
		require.NoError(t, err)
		got = append(got, fragment)
	}
	assert.Equal(t, []string{"reply"}, got)

	boom := errors.New("connection refused")
	a = NewAgentAdapter(&chatOnly{err: boom}, "")
	for _, err := range a.Stream(context.Background(), nil) {
		assert.ErrorIs(t, err, boom)
	}
}

func TestAgentAdapterStreamsOllama(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChunks(w, "Hel", "lo")
	}))
	defer server.Close()

	obs := &inferenceLog{}
	a := NewAgentAdapter(NewOllamaProvider(&ProviderConfig{Endpoint: server.URL}), "").WithObserver(obs)

	var sb strings.Builder
	for fragment, err := range a.Stream(context.Background(), []agent.Turn{{Role: agent.RoleUser, Content: "hi"}}) {
		require.NoError(t, err)
		sb.WriteString(fragment)
	}
	assert.Equal(t, "Hello", sb.String())
	assert.Len(t, obs.calls, 1)
}

func TestGeminiContents(t *testing.T) {
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 16)...)
	contents := geminiContents([]Message{
		{Role: "user", Content: "look", Images: [][]byte{png}},
		{Role: "assistant", Content: "done"},
	})
	require.Len(t, contents, 2)
	assert.Equal(t, "user", contents[0].Role)
	require.Len(t, contents[0].Parts, 2)
	assert.Equal(t, "look", contents[0].Parts[0].Text)
	require.NotNil(t, contents[0].Parts[1].InlineData)
	assert.Equal(t, "image/png", contents[0].Parts[1].InlineData.MIMEType)
	assert.Equal(t, "model", contents[1].Role)
}
