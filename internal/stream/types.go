package stream

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrInvalidConfig = errors.New("invalid stream config")
)

// Close codes reported in CloseEvent.
const (
	CloseNormal   = websocket.CloseNormalClosure   // 1000
	CloseAbnormal = websocket.CloseAbnormalClosure // 1006
)

// Message is a decoded inbound frame.
type Message struct {
	Data       json.RawMessage // Valid JSON, as received
	ReceivedAt time.Time       // Local timestamp when the frame was read
}

// Decode unmarshals the message into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// CloseEvent describes why a connection went away.
type CloseEvent struct {
	Code   int    // WebSocket close code; CloseAbnormal when no close frame was seen
	Reason string // Close frame text, if any
	Err    error  // Underlying transport error for abnormal closes
}

// WasClean reports whether the peer (or this client) closed with a normal close frame.
func (e CloseEvent) WasClean() bool {
	return e.Code == CloseNormal && e.Err == nil
}

// Config configures a Client.
type Config struct {
	URL string // Endpoint, e.g. wss://stream.example.com/v1/ws

	OnMessage func(Message)    // Required
	OnOpen    func()           // Optional
	OnClose   func(CloseEvent) // Optional
	OnError   func(error)      // Optional

	// MaxReconnectAttempts caps consecutive automatic reconnects.
	// Negative disables automatic reconnects.
	MaxReconnectAttempts int
	BaseReconnectDelay   time.Duration
	MaxReconnectDelay    time.Duration // 0 = uncapped

	Header     http.Header                 // Static headers sent on every dial
	HeaderFunc func() (http.Header, error) // Per-dial headers (e.g. signed auth), merged over Header

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration // Negative disables client pings
	PingTimeout      time.Duration // Negative disables stale detection

	Debug bool
}

// Defaults for zero-valued Config fields.
const (
	DefaultMaxReconnectAttempts = 5
	DefaultBaseReconnectDelay   = 2 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultPingInterval         = 15 * time.Second
	DefaultPingTimeout          = 60 * time.Second
)

func (c *Config) applyDefaults() {
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.BaseReconnectDelay <= 0 {
		c.BaseReconnectDelay = DefaultBaseReconnectDelay
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = DefaultPingTimeout
	}
}

// BackoffDelay returns the wait before the given 1-based reconnect attempt:
// base * 2^(attempt-1), capped at maxDelay when maxDelay > 0.
func BackoffDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if maxDelay > 0 && delay >= maxDelay {
			break
		}
		if delay > math.MaxInt64/2 {
			break
		}
		delay *= 2
	}
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return delay
}
