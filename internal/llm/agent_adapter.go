package llm

import (
	"context"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/normanking/fairy/internal/agent"
)

// InferenceObserver is told how long each model call took.
type InferenceObserver interface {
	ObserveInference(provider string, elapsed time.Duration, err error)
}

// AgentLLMAdapter adapts a Provider to the agent's LLMProvider and
// StreamingLLMProvider interfaces. It also tracks token usage.
type AgentLLMAdapter struct {
	provider    Provider
	model       string
	observer    InferenceObserver
	totalTokens int
	mu          sync.Mutex
}

// NewAgentAdapter creates an adapter for the agent to use our LLM provider.
// An empty model uses the provider default.
func NewAgentAdapter(p Provider, model string) *AgentLLMAdapter {
	return &AgentLLMAdapter{
		provider: p,
		model:    model,
	}
}

// WithObserver attaches an inference observer and returns the adapter.
func (a *AgentLLMAdapter) WithObserver(o InferenceObserver) *AgentLLMAdapter {
	a.observer = o
	return a
}

// Chat implements agent.LLMProvider.
func (a *AgentLLMAdapter) Chat(ctx context.Context, history []agent.Turn) (string, error) {
	start := time.Now()
	resp, err := a.provider.Chat(ctx, a.request(history))
	a.observe(start, err)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	a.totalTokens += resp.TokensUsed
	a.mu.Unlock()

	return resp.Content, nil
}

// Stream implements agent.StreamingLLMProvider. Providers without
// streaming yield their complete reply as a single fragment.
func (a *AgentLLMAdapter) Stream(ctx context.Context, history []agent.Turn) iter.Seq2[string, error] {
	sp, ok := a.provider.(StreamingProvider)
	if !ok {
		return func(yield func(string, error) bool) {
			yield(a.Chat(ctx, history))
		}
	}

	return func(yield func(string, error) bool) {
		start := time.Now()
		for fragment, err := range sp.ChatStream(ctx, a.request(history)) {
			if err != nil {
				a.observe(start, err)
				yield("", err)
				return
			}
			if !yield(fragment, nil) {
				a.observe(start, nil)
				return
			}
		}
		a.observe(start, nil)
	}
}

// TotalTokens returns the tokens consumed so far.
func (a *AgentLLMAdapter) TotalTokens() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalTokens
}

func (a *AgentLLMAdapter) observe(start time.Time, err error) {
	if a.observer != nil {
		a.observer.ObserveInference(a.provider.Name(), time.Since(start), err)
	}
}

// request splits system turns out of the history into the system prompt.
func (a *AgentLLMAdapter) request(history []agent.Turn) *ChatRequest {
	req := &ChatRequest{Model: a.model}
	var system []string
	for _, t := range history {
		if t.Role == agent.RoleSystem {
			system = append(system, t.Content)
			continue
		}
		req.Messages = append(req.Messages, Message{Role: t.Role, Content: t.Content})
	}
	req.SystemPrompt = strings.Join(system, "\n\n")
	return req
}
