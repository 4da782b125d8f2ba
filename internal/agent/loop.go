package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/normanking/fairy/internal/capability"
	"github.com/normanking/fairy/internal/directive"
	"github.com/normanking/fairy/internal/logging"
)

// DefaultMaxSteps bounds the number of model calls per command.
const DefaultMaxSteps = 5

// DefaultRecallLimit is how many memories are folded into the first user turn.
const DefaultRecallLimit = 3

const persistTimeout = 5 * time.Second

// ═══════════════════════════════════════════════════════════════════════════════
// STATE MACHINE
// ═══════════════════════════════════════════════════════════════════════════════

// State is a loop state.
type State string

const (
	StateThinking          State = "THINKING"
	StateDispatching       State = "DISPATCHING"
	StateDone              State = "DONE"
	StateMaxSteps          State = "MAX_STEPS"
	StateHallucinationStop State = "HALLUCINATION_STOP"
)

func (s State) String() string { return string(s) }

// Terminal reports whether the loop stops in s.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateMaxSteps, StateHallucinationStop:
		return true
	}
	return false
}

// nextState decides where DISPATCHING goes given one round's counts.
func nextState(found, executed, step, maxSteps int) State {
	switch {
	case found == 0:
		return StateDone
	case executed == 0:
		return StateHallucinationStop
	case step >= maxSteps:
		return StateMaxSteps
	default:
		return StateThinking
	}
}

// LoopState is the per-command working state. It is never shared between runs.
type LoopState struct {
	Step              int
	MaxSteps          int
	History           []Turn
	LastAssistantText string
}

func (s *LoopState) append(role, content string) {
	s.History = append(s.History, Turn{Role: role, Content: content})
}

// Outcome is the result of one run.
type Outcome struct {
	RequestID string
	State     State
	Steps     int
	FinalText string
	Records   []ExecutionRecord
	History   []Turn
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOOP
// ═══════════════════════════════════════════════════════════════════════════════

// Config tunes the loop.
type Config struct {
	MaxSteps     int
	SystemPrompt string
	RecallLimit  int

	// DisableStreaming forces atomic Chat calls even for streaming providers.
	DisableStreaming bool
}

// DefaultConfig returns the standard loop configuration.
func DefaultConfig() Config {
	return Config{
		MaxSteps:     DefaultMaxSteps,
		SystemPrompt: DefaultSystemPrompt,
		RecallLimit:  DefaultRecallLimit,
	}
}

// Loop drives the reason-act cycle. A Loop holds no per-run state, so one
// instance serves concurrent commands.
type Loop struct {
	llm        LLMProvider
	dispatcher capability.Dispatcher
	memory     Memory
	config     Config
	log        zerolog.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithMemory sets the long-term memory store.
func WithMemory(m Memory) Option {
	return func(l *Loop) { l.memory = m }
}

// WithConfig replaces the loop configuration. Zero fields fall back to defaults.
func WithConfig(cfg Config) Option {
	return func(l *Loop) {
		def := DefaultConfig()
		if cfg.MaxSteps <= 0 {
			cfg.MaxSteps = def.MaxSteps
		}
		if cfg.SystemPrompt == "" {
			cfg.SystemPrompt = def.SystemPrompt
		}
		if cfg.RecallLimit <= 0 {
			cfg.RecallLimit = def.RecallLimit
		}
		l.config = cfg
	}
}

// WithLogger overrides the loop logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loop) { l.log = logger }
}

// NewLoop creates a loop over the given model and dispatcher.
func NewLoop(llm LLMProvider, dispatcher capability.Dispatcher, opts ...Option) *Loop {
	l := &Loop{
		llm:        llm,
		dispatcher: dispatcher,
		config:     DefaultConfig(),
		log:        log.With().Str("component", "agent").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the active configuration.
func (l *Loop) Config() Config {
	return l.config
}

// Run handles one user command. It returns an error only when the model
// cannot be reached; every capability failure becomes an observation.
func (l *Loop) Run(ctx context.Context, userText string, sink EventSink) (*Outcome, error) {
	if sink == nil {
		sink = discard
	}
	requestID := uuid.NewString()
	logger := l.log.With().Str("request_id", requestID).Logger()

	st := &LoopState{MaxSteps: l.config.MaxSteps}
	st.append(RoleSystem, l.config.SystemPrompt)
	st.append(RoleUser, l.composeUserTurn(ctx, logger, userText))

	out := &Outcome{RequestID: requestID}
	emit := func(e Event) {
		e.RequestID = requestID
		e.Step = st.Step
		sink(e)
	}

	logger.Info().Str("text", truncate(userText, 80)).Msg("[Agent] run started")

	state := StateThinking
	for !state.Terminal() {
		switch state {
		case StateThinking:
			emit(Event{Type: EventThinking, Message: "Thinking..."})
			reply, err := l.think(ctx, st, emit)
			if err != nil {
				logger.Error().Err(err).Int("step", st.Step).Msg("[Agent] inference failed")
				emit(Event{Type: EventError, Message: fmt.Sprintf("Inference failed: %v", err)})
				return nil, fmt.Errorf("inference failed: %w", err)
			}
			st.append(RoleAssistant, reply)
			st.LastAssistantText = reply
			st.Step++
			state = StateDispatching

		case StateDispatching:
			obs := Collect(ctx, l.dispatcher, st.LastAssistantText)
			out.Records = append(out.Records, obs.Records...)

			for _, r := range obs.Records {
				emit(Event{
					Type:    EventAction,
					Action:  r.Directive.CanonicalType,
					Args:    r.Directive.Args,
					Success: r.Result.Success,
					Message: r.Result.Message,
				})
			}
			if obs.Found > 0 {
				emit(Event{Type: EventLog, Message: obs.Summary()})
			}

			state = nextState(obs.Found, obs.Executed, st.Step, st.MaxSteps)
			if state == StateThinking || state == StateMaxSteps {
				st.append(RoleUser, obs.Prompt())
			}
			logger.Debug().
				Int("step", st.Step).
				Int("found", obs.Found).
				Int("executed", obs.Executed).
				Str("next", state.String()).
				Msg("[Agent] dispatch round")
		}
	}

	out.State = state
	out.Steps = st.Step
	out.FinalText = directive.Clean(st.LastAssistantText)
	out.History = st.History

	switch state {
	case StateMaxSteps:
		emit(Event{Type: EventWarning, State: state, Message: fmt.Sprintf("Stopped after reaching the limit of %d steps", st.MaxSteps)})
	case StateHallucinationStop:
		emit(Event{Type: EventWarning, State: state, Message: "Stopped: none of the requested actions could be executed"})
	}

	l.persist(ctx, logger, userText, out.FinalText)

	logger.Info().
		Str("state", state.String()).
		Int("steps", st.Step).
		Int("actions", len(out.Records)).
		Msg("[Agent] run finished")
	emit(Event{Type: EventDone, State: state, Message: out.FinalText})
	return out, nil
}

// think calls the model once, streaming fragments to the sink when possible.
func (l *Loop) think(ctx context.Context, st *LoopState, emit func(Event)) (string, error) {
	history := make([]Turn, len(st.History))
	copy(history, st.History)

	streamer, ok := l.llm.(StreamingLLMProvider)
	if !ok || l.config.DisableStreaming {
		return l.llm.Chat(ctx, history)
	}

	var sb strings.Builder
	for fragment, err := range streamer.Stream(ctx, history) {
		if err != nil {
			return "", err
		}
		if fragment == "" {
			continue
		}
		emit(Event{Type: EventStream, Message: fragment})
		sb.WriteString(fragment)
	}
	return sb.String(), nil
}

// composeUserTurn appends recalled memories to the user text as plain prose.
func (l *Loop) composeUserTurn(ctx context.Context, logger zerolog.Logger, userText string) string {
	if l.memory == nil {
		return userText
	}
	memories, err := l.memory.Retrieve(ctx, userText, l.config.RecallLimit)
	if err != nil {
		logger.Warn().Err(err).Msg("[Agent] memory recall failed")
		return userText
	}
	return withRecall(userText, memories)
}

func withRecall(userText string, memories []string) string {
	var kept []string
	for _, m := range memories {
		if m = strings.TrimSpace(m); m != "" {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		return userText
	}
	return userText + "\n\nFor context, here is what you remember from earlier conversations: " +
		strings.Join(kept, " ")
}

// persist stores the exchange once per run. Failures are logged, not returned.
func (l *Loop) persist(ctx context.Context, logger zerolog.Logger, userText, finalText string) {
	if l.memory == nil {
		return
	}
	entries := []struct {
		role string
		text string
	}{
		{RoleUser, userText},
		{RoleAssistant, finalText},
	}
	// A client that disconnects mid-run cancels ctx; the exchange is still kept.
	ctx, cancel := logging.DetachContextWithTimeout(ctx, persistTimeout)
	defer cancel()

	ts := time.Now().UTC().Format(time.RFC3339)
	for _, e := range entries {
		if err := l.memory.Store(ctx, e.text, map[string]string{"role": e.role, "timestamp": ts}); err != nil {
			logger.Warn().Err(err).Str("role", e.role).Msg("[Agent] memory store failed")
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
