package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type phase int

const (
	phaseIdle phase = iota
	phaseConnecting
	phaseOpen
)

// Option customizes a Client.
type Option func(*Client)

// WithDialer replaces the default gorilla/websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithClock replaces the wall-clock timer used for reconnect scheduling.
func WithClock(clock Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// Client maintains one auto-recovering connection to a streaming endpoint.
type Client struct {
	cfg    Config
	logger *slog.Logger
	dialer Dialer
	clock  Clock

	// State
	mu       sync.Mutex
	conn     Conn
	phase    phase
	gen      uint64 // Bumped by every Connect that starts a dial
	cancel   context.CancelFunc
	timer    Timer
	timerSeq uint64
	attempts int
	closed   bool // Explicitly closed by Disconnect

	// Write serialization
	writeMu sync.Mutex

	// Callback serialization
	callbackMu sync.Mutex
}

// New creates a Client. It does not connect.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}
	if cfg.OnMessage == nil {
		return nil, fmt.Errorf("%w: OnMessage is required", ErrInvalidConfig)
	}
	cfg.applyDefaults()

	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg:    cfg,
		logger: logger.With("url", cfg.URL),
		clock:  realClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = NewWebSocketDialer(cfg)
	}

	return c, nil
}

// Connect opens the connection in the background. It is a no-op while a
// connection is already open or being opened. A pending reconnect timer is
// cancelled.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.phase != phaseIdle {
		c.mu.Unlock()
		c.debug("connect ignored, connection already active")
		return
	}

	c.stopTimerLocked()
	c.closed = false
	c.gen++
	gen := c.gen

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.phase = phaseConnecting
	c.mu.Unlock()

	go c.run(ctx, gen)
}

// Disconnect closes the connection and suppresses automatic reconnects.
// It is safe to call at any time, including before Connect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closed = true
	c.stopTimerLocked()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.phase = phaseIdle
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			c.debug("close failed", "error", err)
		}
	}
}

// Send encodes v as JSON and writes it as a text frame. Nothing is written
// when the connection is not open; ErrNotConnected is returned instead.
// There is no outbound queue.
func (c *Client) Send(v any) error {
	c.mu.Lock()
	conn := c.conn
	open := c.phase == phaseOpen && conn != nil
	c.mu.Unlock()

	if !open {
		c.debug("send dropped, not connected")
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// IsConnected reports whether the connection is currently open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == phaseOpen && c.conn != nil
}

// run dials, then reads until the connection goes away.
func (c *Client) run(ctx context.Context, gen uint64) {
	conn, err := c.dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// Aborted by Disconnect
			return
		}
		c.logger.Warn("websocket dial failed", "error", err)
		c.emitError(err)
		c.handleClose(gen, CloseEvent{Code: CloseAbnormal, Reason: "dial failed", Err: err})
		return
	}

	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.phase = phaseOpen
	c.attempts = 0
	c.mu.Unlock()

	c.logger.Info("websocket connected")
	c.emitOpen()

	c.readLoop(gen, conn)
}

func (c *Client) dial(ctx context.Context) (Conn, error) {
	header := c.cfg.Header.Clone()
	if c.cfg.HeaderFunc != nil {
		extra, err := c.cfg.HeaderFunc()
		if err != nil {
			return nil, fmt.Errorf("build headers: %w", err)
		}
		if header == nil {
			header = http.Header{}
		}
		for k, v := range extra {
			header[k] = v
		}
	}
	return c.dialer.Dial(ctx, c.cfg.URL, header)
}

// readLoop delivers frames until the transport fails or is closed.
func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			c.handleReadError(gen, err)
			return
		}

		if !json.Valid(data) {
			c.debug("dropping undecodable frame", "bytes", len(data))
			continue
		}

		c.emitMessage(Message{Data: data, ReceivedAt: receivedAt})
	}
}

func (c *Client) handleReadError(gen uint64, err error) {
	c.mu.Lock()
	local := c.closed || gen != c.gen
	c.mu.Unlock()

	var closeErr *websocket.CloseError
	switch {
	case errors.As(err, &closeErr):
		c.handleClose(gen, CloseEvent{Code: closeErr.Code, Reason: closeErr.Text})
	case local:
		c.handleClose(gen, CloseEvent{Code: CloseNormal, Reason: "client disconnect"})
	default:
		c.emitError(err)
		c.handleClose(gen, CloseEvent{Code: CloseAbnormal, Err: err})
	}
}

// handleClose releases the handle, notifies OnClose and, unless the close was
// requested through Disconnect, schedules a reconnect. The close of a
// connection replaced by a later Connect is not reported while the newer one
// is opening or open.
func (c *Client) handleClose(gen uint64, ev CloseEvent) {
	c.mu.Lock()
	current := gen == c.gen
	var conn Conn
	if current {
		conn = c.conn
		c.conn = nil
		c.phase = phaseIdle
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
	}
	reconnect := current && !c.closed
	// A newer Connect owns the client now; its OnOpen may already have run
	superseded := !current && c.phase != phaseIdle
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	if superseded {
		c.debug("dropping close of superseded connection", "code", ev.Code)
		return
	}

	c.logger.Info("websocket closed",
		"code", ev.Code,
		"reason", ev.Reason,
		"error", ev.Err,
	)
	c.emitClose(ev)

	if reconnect {
		c.scheduleReconnect(gen)
	}
}

func (c *Client) scheduleReconnect(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A callback may have reconnected or disconnected in the meantime
	if gen != c.gen || c.closed || c.phase != phaseIdle || c.timer != nil {
		return
	}

	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.logger.Warn("reconnect attempts exhausted",
			"attempts", c.attempts,
			"max", c.cfg.MaxReconnectAttempts,
		)
		return
	}

	c.attempts++
	delay := BackoffDelay(c.cfg.BaseReconnectDelay, c.cfg.MaxReconnectDelay, c.attempts)

	c.timerSeq++
	seq := c.timerSeq
	c.timer = c.clock.AfterFunc(delay, func() {
		c.fireReconnect(seq)
	})

	c.logger.Info("scheduling reconnect",
		"attempt", c.attempts,
		"max", c.cfg.MaxReconnectAttempts,
		"delay", delay,
	)
}

func (c *Client) fireReconnect(seq uint64) {
	c.mu.Lock()
	if seq != c.timerSeq || c.timer == nil || c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	c.Connect()
}

// stopTimerLocked cancels a pending reconnect. Must be called with mu held.
func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) emitOpen() {
	if c.cfg.OnOpen == nil {
		return
	}
	c.callback("open", func() { c.cfg.OnOpen() })
}

func (c *Client) emitMessage(msg Message) {
	c.callback("message", func() { c.cfg.OnMessage(msg) })
}

func (c *Client) emitClose(ev CloseEvent) {
	if c.cfg.OnClose == nil {
		return
	}
	c.callback("close", func() { c.cfg.OnClose(ev) })
}

func (c *Client) emitError(err error) {
	if c.cfg.OnError == nil {
		return
	}
	c.callback("error", func() { c.cfg.OnError(err) })
}

// callback runs fn under the callback lock. A panicking callback is logged
// and does not take down the read loop.
func (c *Client) callback(name string, fn func()) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("stream callback panicked", "callback", name, "panic", r)
		}
	}()

	fn()
}

func (c *Client) debug(msg string, args ...any) {
	if c.cfg.Debug {
		c.logger.Debug(msg, args...)
	}
}
