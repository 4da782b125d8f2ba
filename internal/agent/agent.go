// Package agent runs the bounded reason-act loop: it asks the model for a
// reply, executes the directives embedded in it, feeds the results back as an
// observation and repeats until the model answers without acting, the step
// budget runs out, or every requested action fails.
package agent

import (
	"context"
	"iter"
)

// ═══════════════════════════════════════════════════════════════════════════════
// COLLABORATORS
// ═══════════════════════════════════════════════════════════════════════════════

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry of the conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMProvider returns a complete reply for the conversation so far.
type LLMProvider interface {
	Chat(ctx context.Context, history []Turn) (string, error)
}

// StreamingLLMProvider yields the reply as a finite sequence of fragments.
// The sequence can be ranged over once. A non-nil error ends it.
type StreamingLLMProvider interface {
	LLMProvider
	Stream(ctx context.Context, history []Turn) iter.Seq2[string, error]
}

// Memory is the long-term store consulted before and written after each run.
type Memory interface {
	Store(ctx context.Context, text string, meta map[string]string) error
	Retrieve(ctx context.Context, query string, n int) ([]string, error)
}

// ═══════════════════════════════════════════════════════════════════════════════
// EVENTS
// ═══════════════════════════════════════════════════════════════════════════════

// EventType identifies a loop event.
type EventType string

const (
	EventThinking EventType = "thinking" // model call started
	EventStream   EventType = "stream"   // reply fragment
	EventAction   EventType = "action"   // one directive executed
	EventLog      EventType = "log"      // diagnostic for the caller
	EventWarning  EventType = "warning"  // step cap or hallucination stop
	EventError    EventType = "error"    // invocation failed
	EventDone     EventType = "done"     // final answer
)

// Event is emitted to the caller while a run progresses.
type Event struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"request_id"`
	Step      int       `json:"step"`
	Message   string    `json:"message"`
	Action    string    `json:"action,omitempty"`
	Args      []string  `json:"args,omitempty"`
	Success   bool      `json:"success,omitempty"`
	State     State     `json:"state,omitempty"`
}

// EventSink receives loop events. It is called synchronously from the loop.
type EventSink func(Event)

func discard(Event) {}
