package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/normanking/fairy/internal/agent"
	"github.com/normanking/fairy/internal/bus"
	"github.com/normanking/fairy/internal/tools/android"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type runFunc func(ctx context.Context, text string, sink agent.EventSink) (*agent.Outcome, error)

type fakeRunner struct {
	mu    sync.Mutex
	texts []string
	fn    runFunc
}

func (f *fakeRunner) Run(ctx context.Context, text string, sink agent.EventSink) (*agent.Outcome, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, text, sink)
	}
	return &agent.Outcome{State: agent.StateDone, FinalText: "ok: " + text}, nil
}

func (f *fakeRunner) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f fakeTranscriber) Transcribe(context.Context, []byte) (string, error) {
	return f.text, f.err
}

type action struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

func startServer(t *testing.T, runner Runner, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	s := New(Config{}, runner, opts...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + WebSocketEndpoint
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	greeting := read(t, conn)
	require.Equal(t, "log", greeting.Data["type"])
	require.Equal(t, "Connected to Fairy Assistant", greeting.Data["message"])
	return conn
}

func read(t *testing.T, conn *websocket.Conn) action {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var a action
	require.NoError(t, conn.ReadJSON(&a))
	require.Equal(t, EventServerAction, a.Event)
	return a
}

// readUntil collects actions up to and including the first of type stop.
func readUntil(t *testing.T, conn *websocket.Conn, stop string) []action {
	t.Helper()
	var out []action
	for {
		a := read(t, conn)
		out = append(out, a)
		if a.Data["type"] == stop {
			return out
		}
	}
}

func pairs(actions []action) [][2]string {
	out := make([][2]string, len(actions))
	for i, a := range actions {
		msg, _ := a.Data["message"].(string)
		out[i] = [2]string{a.Data["type"].(string), msg}
	}
	return out
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func TestClientCommand(t *testing.T) {
	runner := &fakeRunner{fn: func(ctx context.Context, text string, sink agent.EventSink) (*agent.Outcome, error) {
		sink(agent.Event{Type: agent.EventThinking, Message: "Thinking..."})
		sink(agent.Event{Type: agent.EventStream, Message: "Opening "})
		sink(agent.Event{Type: agent.EventStream, Message: "[ACTION: OPEN_LINUX | firefox]"})
		sink(agent.Event{Type: agent.EventAction, Action: "OPEN_LINUX", Success: true, Message: "Launched firefox successfully"})
		sink(agent.Event{Type: agent.EventLog, Message: "Executed 1/1 actions"})
		sink(agent.Event{Type: agent.EventDone, State: agent.StateDone, Message: "Opening"})
		return &agent.Outcome{State: agent.StateDone, FinalText: "Opening Firefox."}, nil
	}}
	b := bus.NewBus()
	defer b.Close()

	_, ts := startServer(t, runner, WithBus(b))
	conn := dial(t, ts)

	send(t, conn, InboundMessage{Event: EventClientCommand, Text: "  open firefox "})
	got := pairs(readUntil(t, conn, "done"))

	assert.Equal(t, [][2]string{
		{"stream", "Opening "},
		{"stream", "[ACTION: OPEN_LINUX | firefox]"},
		{"log", "OPEN_LINUX: Launched firefox successfully"},
		{"log", "Executed 1/1 actions"},
		{"speak", "Opening Firefox."},
		{"done", "DONE"},
	}, got)
	assert.Equal(t, []string{"open firefox"}, runner.seen())

	var types []bus.EventType
	for _, e := range b.History(0) {
		types = append(types, e.Type)
	}
	assert.Equal(t, []bus.EventType{
		bus.EventClientConnected,
		bus.EventCommandReceived,
		bus.EventActionExecuted,
		bus.EventRunFinished,
	}, types)
}

func TestInvalidMessages(t *testing.T) {
	runner := &fakeRunner{}
	_, ts := startServer(t, runner)
	conn := dial(t, ts)

	send(t, conn, InboundMessage{Event: EventClientCommand, Text: "   "})
	assert.Equal(t, "Empty command received", read(t, conn).Data["message"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "Malformed message", read(t, conn).Data["message"])

	send(t, conn, map[string]string{"event": "dance"})
	assert.Equal(t, "Unknown event: dance", read(t, conn).Data["message"])

	send(t, conn, InboundMessage{Event: EventAudioCommand})
	assert.Equal(t, "Empty audio received", read(t, conn).Data["message"])

	send(t, conn, InboundMessage{Event: EventAudioCommand, Audio: []byte("RIFF")})
	assert.Equal(t, "Audio commands are not enabled", read(t, conn).Data["message"])

	assert.Empty(t, runner.seen())
}

func TestAudioCommand(t *testing.T) {
	runner := &fakeRunner{}
	_, ts := startServer(t, runner, WithTranscriber(fakeTranscriber{text: "what time is it"}))
	conn := dial(t, ts)

	send(t, conn, InboundMessage{Event: EventAudioCommand, Audio: []byte("RIFF....WAVE")})
	assert.Equal(t, [][2]string{
		{"transcript", "what time is it"},
		{"speak", "ok: what time is it"},
		{"done", "DONE"},
	}, pairs(readUntil(t, conn, "done")))

	// Raw binary frames are treated as audio.
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("RIFF")))
	got := readUntil(t, conn, "done")
	assert.Equal(t, "transcript", got[0].Data["type"])
	assert.Equal(t, []string{"what time is it", "what time is it"}, runner.seen())
}

func TestAudioNotUnderstood(t *testing.T) {
	testCases := []struct {
		name string
		tr   fakeTranscriber
	}{
		{"silence", fakeTranscriber{}},
		{"error", fakeTranscriber{err: errors.New("whisper down")}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			runner := &fakeRunner{}
			_, ts := startServer(t, runner, WithTranscriber(tc.tr))
			conn := dial(t, ts)

			send(t, conn, InboundMessage{Event: EventAudioCommand, Audio: []byte("RIFF")})
			assert.Equal(t, [][2]string{{"transcript", ""}}, pairs([]action{read(t, conn)}))
			assert.Equal(t, "Could not transcribe audio", read(t, conn).Data["message"])
			assert.Empty(t, runner.seen())
		})
	}
}

func TestOneCommandInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	runner := &fakeRunner{fn: func(ctx context.Context, text string, sink agent.EventSink) (*agent.Outcome, error) {
		close(started)
		<-release
		return &agent.Outcome{State: agent.StateDone, FinalText: "finished"}, nil
	}}
	_, ts := startServer(t, runner)
	conn := dial(t, ts)

	send(t, conn, InboundMessage{Event: EventClientCommand, Text: "first"})
	<-started
	send(t, conn, InboundMessage{Event: EventClientCommand, Text: "second"})
	assert.Equal(t, "Still working on the previous command", read(t, conn).Data["message"])

	close(release)
	got := pairs(readUntil(t, conn, "done"))
	assert.Equal(t, [2]string{"speak", "finished"}, got[0])
	assert.Equal(t, []string{"first"}, runner.seen())
}

func TestRunFailure(t *testing.T) {
	runner := &fakeRunner{fn: func(context.Context, string, agent.EventSink) (*agent.Outcome, error) {
		return nil, errors.New("connection refused")
	}}
	_, ts := startServer(t, runner)
	conn := dial(t, ts)

	send(t, conn, InboundMessage{Event: EventClientCommand, Text: "hi"})
	assert.Equal(t, [][2]string{
		{"speak", "Error communicating with the language model: connection refused"},
		{"done", "ERROR"},
	}, pairs(readUntil(t, conn, "done")))
}

func TestEmit(t *testing.T) {
	s, ts := startServer(t, &fakeRunner{})
	ctx := context.Background()

	err := s.Emit(ctx, android.Intent{Type: "trigger_intent", Intent: android.IntentCall, PhoneNumber: "5550100"})
	assert.ErrorIs(t, err, android.ErrNoClients)

	a := dial(t, ts)
	b := dial(t, ts)
	require.Eventually(t, func() bool { return s.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	intent := android.Intent{Type: "trigger_intent", Intent: android.IntentOpenApp, Package: "com.spotify.music"}
	require.NoError(t, s.Emit(ctx, intent))

	for _, conn := range []*websocket.Conn{a, b} {
		got := read(t, conn)
		assert.Equal(t, map[string]any{
			"type":    "trigger_intent",
			"intent":  "open_app",
			"package": "com.spotify.music",
		}, got.Data)
	}
}

func TestBridgeOverServer(t *testing.T) {
	s, ts := startServer(t, &fakeRunner{})
	conn := dial(t, ts)

	res := android.NewBridge(s).SendSMS(context.Background(), "555 0100", "on my way")
	require.True(t, res.Success, res.Message)

	got := read(t, conn)
	assert.Equal(t, "sms", got.Data["intent"])
	assert.Equal(t, "5550100", got.Data["phone_number"])
	assert.Equal(t, "on my way", got.Data["message"])
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "fairy_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	b := bus.NewBus()
	defer b.Close()

	_, ts := startServer(t, &fakeRunner{}, WithBus(b), WithGatherer(reg), WithVersion("1.2.3"))
	dial(t, ts)

	resp, err := ts.Client().Get(ts.URL + HealthEndpoint)
	require.NoError(t, err)
	defer resp.Body.Close()

	var health struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		Clients int    `json:"clients"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "1.2.3", health.Version)
	assert.Equal(t, 1, health.Clients)

	resp2, err := ts.Client().Get(ts.URL + MetricsEndpoint)
	require.NoError(t, err)
	defer resp2.Body.Close()
	body, _ := io.ReadAll(resp2.Body)
	assert.Contains(t, string(body), "fairy_test_total 1")

	resp3, err := ts.Client().Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp3.Body.Close()
	body, _ = io.ReadAll(resp3.Body)
	assert.Equal(t, "Fairy Assistant is running!\n", string(body))
}

func TestDisconnectCancelsCommand(t *testing.T) {
	cancelled := make(chan struct{})
	started := make(chan struct{})
	runner := &fakeRunner{fn: func(ctx context.Context, text string, sink agent.EventSink) (*agent.Outcome, error) {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	}}
	s, ts := startServer(t, runner)
	conn := dial(t, ts)

	send(t, conn, InboundMessage{Event: EventClientCommand, Text: "long task"})
	<-started
	conn.Close()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("command was not cancelled on disconnect")
	}
	require.Eventually(t, func() bool { return s.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestCheckOrigin(t *testing.T) {
	s := New(Config{AllowedOrigins: []string{"http://phone.local"}}, &fakeRunner{})
	defer s.Close()

	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, WebSocketEndpoint, nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}
	assert.True(t, s.checkOrigin(req("")))
	assert.True(t, s.checkOrigin(req("http://phone.local")))
	assert.False(t, s.checkOrigin(req("http://evil.example")))
}

func TestServeShutdown(t *testing.T) {
	s := New(Config{ShutdownTimeout: time.Second}, &fakeRunner{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, ln) }()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+WebSocketEndpoint, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.Zero(t, s.ClientCount())
}
