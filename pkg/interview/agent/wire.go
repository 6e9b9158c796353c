package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hirekruit/interviewkit/pkg/interview/transcript"
)

// WSConfig configures the websocket agent transport.
type WSConfig struct {
	URL              string
	Credential       string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
}

func (c *WSConfig) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
}

// WSTransport carries the voice-agent session over a websocket. It implements
// Transport and MuteControl.
type WSTransport struct {
	cfg    WSConfig
	logger *slog.Logger

	events chan Event
	done   chan struct{}
	closed atomic.Bool

	writeMu sync.Mutex
	conn    *websocket.Conn
}

var (
	_ Transport   = (*WSTransport)(nil)
	_ MuteControl = (*WSTransport)(nil)
)

func NewWSTransport(cfg WSConfig, logger *slog.Logger) (*WSTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("agent transport URL must not be empty")
	}
	if cfg.Credential == "" {
		return nil, fmt.Errorf("agent transport credential must not be empty")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &WSTransport{
		cfg:    cfg,
		logger: logger,
		events: make(chan Event, 32),
		done:   make(chan struct{}),
	}, nil
}

type startMessage struct {
	Type         string             `json:"type"`
	Model        string             `json:"model"`
	Voice        string             `json:"voice"`
	SystemPrompt string             `json:"systemPrompt"`
	Prior        []transcript.Entry `json:"prior,omitempty"`
}

type controlMessage struct {
	Type  string `json:"type"`
	Muted bool   `json:"muted,omitempty"`
}

// Start dials the agent endpoint, sends the session start request, and begins
// streaming events.
func (t *WSTransport) Start(ctx context.Context, cfg StartConfig) error {
	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.HandshakeTimeout}
	header := http.Header{"Authorization": {"Bearer " + t.cfg.Credential}}

	conn, resp, err := dialer.DialContext(ctx, t.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial agent endpoint: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial agent endpoint: %w", err)
	}
	t.writeMu.Lock()
	t.conn = conn
	t.writeMu.Unlock()

	if err := t.writeJSON(startMessage{
		Type:         "start",
		Model:        cfg.Model,
		Voice:        cfg.Voice,
		SystemPrompt: cfg.SystemPrompt,
		Prior:        cfg.Prior,
	}); err != nil {
		conn.Close()
		return fmt.Errorf("send session start: %w", err)
	}

	go t.readLoop(conn)
	go t.pingLoop(conn)
	return nil
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	defer close(t.events)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !t.closed.Load() {
				t.logger.Warn("agent stream closed unexpectedly", "err", err)
				t.events <- Event{Type: EventError, Message: err.Error()}
			}
			return
		}
		ev, err := DecodeEvent(data)
		if err != nil {
			t.logger.Warn("dropping malformed agent event", "err", err)
			continue
		}
		select {
		case t.events <- ev:
		case <-t.done:
			return
		}
	}
}

func (t *WSTransport) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.cfg.WriteTimeout))
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-t.done:
			return
		}
	}
}

// Stop ends the session and closes the event stream.
func (t *WSTransport) Stop(ctx context.Context) error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(t.done)

	t.writeMu.Lock()
	conn := t.conn
	t.writeMu.Unlock()
	if conn == nil {
		close(t.events)
		return nil
	}

	// Best effort: tell the agent, then close the socket either way.
	_ = t.writeJSON(controlMessage{Type: "end"})
	deadline := time.Now().Add(t.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"), deadline)
	return conn.Close()
}

// Events returns the inbound event stream.
func (t *WSTransport) Events() <-chan Event {
	return t.events
}

// SetMuted forwards the user mute state so the agent stops reading the
// user's audio at the source.
func (t *WSTransport) SetMuted(muted bool) error {
	return t.writeJSON(controlMessage{Type: "mute", Muted: muted})
}

func (t *WSTransport) writeJSON(v any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("agent transport not connected")
	}
	t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	return t.conn.WriteJSON(v)
}
