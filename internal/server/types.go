// Package server is Fairy's websocket transport. The phone app connects to
// /ws, sends text or audio commands and receives server actions: status
// logs, streamed reply fragments, the spoken answer and phone intents.
package server

import (
	"encoding/json"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ═══════════════════════════════════════════════════════════════════════════════

// Config holds server settings.
type Config struct {
	// Addr is the listen address (default: 0.0.0.0:5000)
	Addr string `mapstructure:"addr" yaml:"addr"`

	// AllowedOrigins restricts websocket upgrades. Empty allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`

	// CommandTimeout bounds one agent run (default: 2m)
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`

	// ShutdownTimeout is the graceful shutdown timeout (default: 5s)
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// MaxMessageBytes caps inbound frames; audio arrives base64 encoded.
	MaxMessageBytes int64 `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
}

// DefaultConfig returns the standard server settings.
func DefaultConfig() Config {
	return Config{
		Addr:            "0.0.0.0:5000",
		CommandTimeout:  2 * time.Minute,
		ShutdownTimeout: 5 * time.Second,
		MaxMessageBytes: 16 << 20,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = def.CommandTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = def.MaxMessageBytes
	}
	return c
}

// ═══════════════════════════════════════════════════════════════════════════════
// WIRE PROTOCOL
// ═══════════════════════════════════════════════════════════════════════════════

// Inbound event names.
const (
	EventClientCommand = "client_command"
	EventAudioCommand  = "audio_command"
)

// EventServerAction is the only outbound event name.
const EventServerAction = "server_action"

// ActionType is the kind of a server action.
type ActionType string

const (
	ActionLog           ActionType = "log"
	ActionSpeak         ActionType = "speak"
	ActionTranscript    ActionType = "transcript"
	ActionStream        ActionType = "stream"
	ActionTriggerIntent ActionType = "trigger_intent"
	ActionDone          ActionType = "done"
)

// InboundMessage is a command from a client. Audio is base64 in JSON.
type InboundMessage struct {
	Event string `json:"event"`
	Text  string `json:"text,omitempty"`
	Audio []byte `json:"audio,omitempty"`
}

// OutboundMessage wraps every server action.
type OutboundMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ServerAction is the payload of log, speak, transcript, stream and done.
type ServerAction struct {
	Type    ActionType `json:"type"`
	Message string     `json:"message"`
}

func encode(data any) ([]byte, error) {
	return json.Marshal(OutboundMessage{Event: EventServerAction, Data: data})
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	StartedAt time.Time `json:"started_at"`
	Clients   int       `json:"clients"`
	Bus       any       `json:"bus,omitempty"`
	Recent    any       `json:"recent_events,omitempty"`
}
