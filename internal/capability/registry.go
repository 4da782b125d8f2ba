package capability

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrDuplicateBinding is returned when two bindings share an id.
	ErrDuplicateBinding = errors.New("duplicate capability binding")

	// ErrInvalidBinding is returned for bindings without an id or handler.
	ErrInvalidBinding = errors.New("invalid capability binding")
)

// Handler performs one capability. Handlers report failure through Result;
// a panic is treated as a fault and contained by the dispatcher.
type Handler func(ctx context.Context, args []string) Result

// Binding ties a canonical id to its handler and argument contract.
type Binding struct {
	ID          string
	MinArgs     int
	Description string
	Usage       string
	Invoke      Handler
}

// Observer is notified after every dispatch.
type Observer interface {
	ObserveDispatch(id string, result Result, elapsed time.Duration)
}

// Dispatcher is the surface the agent loop depends on.
type Dispatcher interface {
	Dispatch(ctx context.Context, id string, args []string) Result
}

// Registry is the process-wide table of capability bindings.
// It is immutable once built, so concurrent dispatches need no locking.
type Registry struct {
	bindings map[string]Binding
	observer Observer
	log      zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithObserver attaches a dispatch observer.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		r.observer = o
	}
}

// WithLogger overrides the registry logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) {
		r.log = l
	}
}

// NewRegistry builds a registry from a fixed set of bindings.
func NewRegistry(bindings []Binding, opts ...Option) (*Registry, error) {
	r := &Registry{
		bindings: make(map[string]Binding, len(bindings)),
		log:      log.With().Str("component", "capability").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, b := range bindings {
		if b.ID == "" || b.Invoke == nil || b.MinArgs < 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidBinding, b.ID)
		}
		if _, exists := r.bindings[b.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateBinding, b.ID)
		}
		r.bindings[b.ID] = b
	}
	return r, nil
}

// Lookup returns the binding for id.
func (r *Registry) Lookup(id string) (Binding, bool) {
	b, ok := r.bindings[id]
	return b, ok
}

// IDs returns the registered ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.bindings))
	for id := range r.bindings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Bindings returns all bindings sorted by id.
func (r *Registry) Bindings() []Binding {
	out := make([]Binding, 0, len(r.bindings))
	for _, id := range r.IDs() {
		out = append(out, r.bindings[id])
	}
	return out
}

// Len returns the number of bindings.
func (r *Registry) Len() int {
	return len(r.bindings)
}

// Dispatch invokes the handler bound to id. It never panics.
func (r *Registry) Dispatch(ctx context.Context, id string, args []string) Result {
	start := time.Now()
	result := r.dispatch(ctx, id, args)
	elapsed := time.Since(start)

	r.log.Debug().
		Str("action", id).
		Int("args", len(args)).
		Bool("success", result.Success).
		Dur("elapsed", elapsed).
		Msg("dispatched")

	if r.observer != nil {
		r.observer.ObserveDispatch(id, result, elapsed)
	}
	return result
}

func (r *Registry) dispatch(ctx context.Context, id string, args []string) (result Result) {
	b, ok := r.bindings[id]
	if !ok {
		return Failf("Unknown action type: %s", id)
	}
	if len(args) < b.MinArgs {
		return Failf("%s requires %d argument(s)", id, b.MinArgs)
	}
	if args == nil {
		args = []string{}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().
				Str("action", id).
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("capability handler panicked")
			result = Failf("Error executing %s: %v", id, rec)
		}
	}()

	result = b.Invoke(ctx, args)
	if result.Message == "" {
		if result.Success {
			result.Message = "ok"
		} else {
			result.Message = "failed"
		}
	}
	return result
}
