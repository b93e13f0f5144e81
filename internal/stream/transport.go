package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a live transport handle.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens transport handles.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// Clock schedules reconnect timers.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// wsDialer dials gorilla/websocket connections with keepalive.
type wsDialer struct {
	dialer       websocket.Dialer
	writeTimeout time.Duration
	pingInterval time.Duration
	pingTimeout  time.Duration
}

// NewWebSocketDialer returns the default Dialer for cfg.
func NewWebSocketDialer(cfg Config) Dialer {
	cfg.applyDefaults()
	return &wsDialer{
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		writeTimeout: cfg.WriteTimeout,
		pingInterval: cfg.PingInterval,
		pingTimeout:  cfg.PingTimeout,
	}
}

func (d *wsDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	ws, resp, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return newWSConn(ws, d.writeTimeout, d.pingInterval, d.pingTimeout), nil
}

// wsConn wraps a websocket.Conn with write deadlines, client pings and a
// read deadline that any inbound frame, ping or pong pushes forward.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	pingInterval time.Duration
	pingTimeout  time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn, writeTimeout, pingInterval, pingTimeout time.Duration) *wsConn {
	c := &wsConn{
		ws:           ws,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		pingTimeout:  pingTimeout,
		done:         make(chan struct{}),
	}

	if pingTimeout > 0 {
		c.extendReadDeadline()

		// Server sends ping, we respond with pong
		ws.SetPingHandler(func(data string) error {
			c.extendReadDeadline()
			err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
			if err == websocket.ErrCloseSent {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil
			}
			return err
		})

		// Server responds to our ping
		ws.SetPongHandler(func(string) error {
			c.extendReadDeadline()
			return nil
		})
	}

	if pingInterval > 0 {
		go c.pingLoop()
	}

	return c
}

func (c *wsConn) extendReadDeadline() {
	c.ws.SetReadDeadline(time.Now().Add(c.pingTimeout))
}

func (c *wsConn) ReadMessage() (int, []byte, error) {
	mt, data, err := c.ws.ReadMessage()
	if err == nil && c.pingTimeout > 0 {
		c.extendReadDeadline()
	}
	return mt, data, err
}

// WriteMessage must not be called concurrently; Client serializes writes.
func (c *wsConn) WriteMessage(messageType int, data []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}

// Close sends a close frame (best effort) and releases the connection.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.writeTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				return
			}
		}
	}
}
