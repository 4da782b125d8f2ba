package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/fairy/internal/agent"
	"github.com/normanking/fairy/internal/bus"
)

const (
	// WriteWait is the timeout for writing to a WebSocket.
	WriteWait = 10 * time.Second

	// PongWait is the timeout for pong responses.
	PongWait = 60 * time.Second

	// PingPeriod is how often to send ping frames.
	PingPeriod = (PongWait * 9) / 10

	sendBuffer = 256
)

// client is one websocket connection. Commands from a client run one at a
// time; a command arriving while another is in flight is refused.
type client struct {
	id     string
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	busy   atomic.Bool
	log    zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(s *Server, conn *websocket.Conn) *client {
	id := uuid.NewString()[:8]
	ctx, cancel := context.WithCancel(s.ctx)
	return &client{
		id:     id,
		server: s,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		log:    s.log.With().Str("client", id).Logger(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.done)
		c.conn.Close()
	})
}

// enqueue queues one frame. It gives up when the client goes away, ctx
// ends or the buffer stays full for WriteWait.
func (c *client) enqueue(ctx context.Context, data []byte) bool {
	timer := time.NewTimer(WriteWait)
	defer timer.Stop()
	select {
	case c.send <- data:
		return true
	case <-c.done:
	case <-ctx.Done():
	case <-timer.C:
		c.log.Warn().Msg("send buffer full, dropping message")
	}
	return false
}

func (c *client) sendAction(ctx context.Context, t ActionType, message string) {
	data, err := encode(ServerAction{Type: t, Message: message})
	if err != nil {
		c.log.Error().Err(err).Msg("encode server action")
		return
	}
	c.enqueue(ctx, data)
}

// writePump sends queued frames and keeps the connection alive with pings.
func (c *client) writePump() {
	defer c.server.wg.Done()

	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.server.removeClient(c)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.server.removeClient(c)
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}

// readPump reads commands until the connection closes.
func (c *client) readPump() {
	defer c.server.wg.Done()
	defer c.server.removeClient(c)

	c.conn.SetReadLimit(c.server.cfg.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("websocket error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(PongWait))

		// Raw binary frames are audio commands.
		if kind == websocket.BinaryMessage {
			c.handle(InboundMessage{Event: EventAudioCommand, Audio: data})
			continue
		}

		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendAction(c.ctx, ActionLog, "Malformed message")
			continue
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg InboundMessage) {
	switch msg.Event {
	case EventClientCommand:
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			c.sendAction(c.ctx, ActionLog, "Empty command received")
			return
		}
		c.start(func(ctx context.Context) {
			e := bus.NewEvent(bus.EventCommandReceived)
			e.Client = c.id
			e.Content = text
			c.server.publish(e)
			c.run(ctx, text)
		})

	case EventAudioCommand:
		if len(msg.Audio) == 0 {
			c.sendAction(c.ctx, ActionLog, "Empty audio received")
			return
		}
		if c.server.transcriber == nil {
			c.sendAction(c.ctx, ActionLog, "Audio commands are not enabled")
			return
		}
		audio := msg.Audio
		c.start(func(ctx context.Context) {
			c.runAudio(ctx, audio)
		})

	default:
		c.sendAction(c.ctx, ActionLog, fmt.Sprintf("Unknown event: %s", msg.Event))
	}
}

// start runs fn unless a command is already in flight.
func (c *client) start(fn func(ctx context.Context)) {
	if !c.busy.CompareAndSwap(false, true) {
		c.sendAction(c.ctx, ActionLog, "Still working on the previous command")
		return
	}
	ok := c.server.startCommand(func() {
		defer c.busy.Store(false)
		ctx, cancel := context.WithTimeout(c.ctx, c.server.cfg.CommandTimeout)
		defer cancel()
		fn(ctx)
	})
	if !ok {
		c.busy.Store(false)
	}
}

func (c *client) runAudio(ctx context.Context, audio []byte) {
	text, err := c.server.transcriber.Transcribe(ctx, audio)
	if err != nil {
		c.log.Error().Err(err).Int("bytes", len(audio)).Msg("transcription failed")
		text = ""
	}
	c.sendAction(ctx, ActionTranscript, text)
	if text == "" {
		c.sendAction(ctx, ActionLog, "Could not transcribe audio")
		return
	}

	e := bus.NewEvent(bus.EventTranscript)
	e.Client = c.id
	e.Content = text
	c.server.publish(e)
	c.run(ctx, text)
}

// run executes one command and streams its progress back.
func (c *client) run(ctx context.Context, text string) {
	sink := bus.AgentSink(c.server.bus, c.id, func(e agent.Event) {
		switch e.Type {
		case agent.EventStream:
			c.sendAction(ctx, ActionStream, e.Message)
		case agent.EventAction:
			c.sendAction(ctx, ActionLog, fmt.Sprintf("%s: %s", e.Action, e.Message))
		case agent.EventLog, agent.EventWarning:
			c.sendAction(ctx, ActionLog, e.Message)
		}
	})

	out, err := c.server.runner.Run(ctx, text, sink)
	if err != nil {
		c.log.Error().Err(err).Msg("command failed")
		c.sendAction(ctx, ActionSpeak, fmt.Sprintf("Error communicating with the language model: %v", err))
		c.sendAction(ctx, ActionDone, "ERROR")
		return
	}

	c.sendAction(ctx, ActionSpeak, out.FinalText)
	c.sendAction(ctx, ActionDone, out.State.String())
}
