// Package bus is Fairy's in-process event bus. The agent loop, the
// websocket hub and the inference adapter publish here; the metrics
// collector and /health read from it.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// EventType names an event.
type EventType string

const (
	// Client lifecycle
	EventClientConnected    EventType = "client_connected"
	EventClientDisconnected EventType = "client_disconnected"

	// Commands
	EventCommandReceived EventType = "command_received"
	EventTranscript      EventType = "transcript"

	// Agent loop
	EventActionExecuted EventType = "action_executed"
	EventRunFinished    EventType = "run_finished"
	EventRunFailed      EventType = "run_failed"

	// Phone intents forwarded to devices
	EventIntentSent EventType = "intent_sent"
)

// Event is one occurrence on the bus. Fields not relevant to a type stay empty.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	RequestID string `json:"request_id,omitempty"`
	Client    string `json:"client,omitempty"`

	Action  string `json:"action,omitempty"`
	Success bool   `json:"success,omitempty"`
	State   string `json:"state,omitempty"`
	Steps   int    `json:"steps,omitempty"`

	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewEvent creates an event with a fresh id and the current time.
func NewEvent(eventType EventType) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
	}
}
