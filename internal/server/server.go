package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/normanking/fairy/internal/agent"
	"github.com/normanking/fairy/internal/bus"
	"github.com/normanking/fairy/internal/tools/android"
	"github.com/normanking/fairy/internal/transcribe"
)

const (
	// WebSocketEndpoint is the path for client connections.
	WebSocketEndpoint = "/ws"

	// HealthEndpoint is the path for health checks.
	HealthEndpoint = "/health"

	// MetricsEndpoint serves Prometheus metrics.
	MetricsEndpoint = "/metrics"
)

// Runner executes one user command. *agent.Loop satisfies it.
type Runner interface {
	Run(ctx context.Context, userText string, sink agent.EventSink) (*agent.Outcome, error)
}

// Server accepts websocket clients and runs their commands. It also
// implements android.Emitter by broadcasting intents to every client.
type Server struct {
	cfg         Config
	runner      Runner
	transcriber transcribe.Transcriber
	bus         *bus.Bus
	gatherer    prometheus.Gatherer
	version     string
	upgrader    websocket.Upgrader
	startedAt   time.Time
	log         zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithTranscriber enables audio commands.
func WithTranscriber(t transcribe.Transcriber) Option {
	return func(s *Server) { s.transcriber = t }
}

// WithBus publishes client and command events to b.
func WithBus(b *bus.Bus) Option {
	return func(s *Server) { s.bus = b }
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// New creates a server. Commands are executed by runner.
func New(cfg Config, runner Runner, opts ...Option) *Server {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:       cfg,
		runner:    runner,
		gatherer:  prometheus.DefaultGatherer,
		version:   "dev",
		startedAt: time.Now(),
		log:       log.With().Str("component", "server").Logger(),
		clients:   make(map[*client]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketEndpoint, s.handleWebSocket)
	mux.HandleFunc(HealthEndpoint, s.handleHealth)
	mux.Handle(MetricsEndpoint, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintln(w, "Fairy Assistant is running!")
	})
	return mux
}

// Run listens on cfg.Addr until ctx is cancelled, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	<-errCh

	s.log.Info().Msg("server stopped")
	if err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Close disconnects every client, cancels running commands and waits for
// their goroutines.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	s.cancel()
	for _, c := range clients {
		c.close()
	}
	s.wg.Wait()
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Emit broadcasts a phone intent. It returns android.ErrNoClients when
// nobody is connected.
func (s *Server) Emit(ctx context.Context, intent android.Intent) error {
	data, err := encode(intent)
	if err != nil {
		return fmt.Errorf("encode intent: %w", err)
	}

	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	if len(clients) == 0 {
		return android.ErrNoClients
	}

	delivered := 0
	for _, c := range clients {
		if c.enqueue(ctx, data) {
			delivered++
		}
	}
	if delivered == 0 {
		return android.ErrNoClients
	}

	e := bus.NewEvent(bus.EventIntentSent)
	e.Action = intent.Intent
	e.Content = intent.Package + intent.PhoneNumber
	s.publish(e)
	return nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newClient(s, conn)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.wg.Add(2)
	s.mu.Unlock()

	s.log.Info().Str("client", c.id).Str("remote", r.RemoteAddr).Int("clients", n).Msg("client connected")
	e := bus.NewEvent(bus.EventClientConnected)
	e.Client = c.id
	s.publish(e)

	go c.writePump()
	go c.readPump()

	c.sendAction(s.ctx, ActionLog, "Connected to Fairy Assistant")
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	n := len(s.clients)
	s.mu.Unlock()

	c.close()
	if !ok {
		return
	}
	s.log.Info().Str("client", c.id).Int("clients", n).Msg("client disconnected")
	e := bus.NewEvent(bus.EventClientDisconnected)
	e.Client = c.id
	s.publish(e)
}

// startCommand runs fn on its own goroutine tracked by the server.
func (s *Server) startCommand(fn func()) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

func (s *Server) publish(e bus.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:    "healthy",
		Service:   "fairy",
		Version:   s.version,
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		StartedAt: s.startedAt,
		Clients:   s.ClientCount(),
	}
	if s.bus != nil {
		health.Bus = s.bus.Stats()
		health.Recent = s.bus.History(20)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}
