package stream

import (
	"errors"
	"net/http"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, cfg Config, d *fakeDialer, clock *fakeClock) *Client {
	t.Helper()
	c, err := New(cfg, nil, WithDialer(d), WithClock(clock))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(c.Disconnect)
	return c
}

// openClient connects and waits for the first open.
func openClient(t *testing.T, c *Client, rec *recorder) {
	t.Helper()
	c.Connect()
	waitFor(t, "open", func() bool { return rec.Opens() >= 1 })
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing url", cfg: Config{OnMessage: func(Message) {}}},
		{name: "missing OnMessage", cfg: Config{URL: "wss://example/test"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, nil)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(Config{URL: "wss://example/test", OnMessage: func(Message) {}}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if c.cfg.MaxReconnectAttempts != 5 {
		t.Errorf("MaxReconnectAttempts = %d, want 5", c.cfg.MaxReconnectAttempts)
	}
	if c.cfg.BaseReconnectDelay != 2*time.Second {
		t.Errorf("BaseReconnectDelay = %v, want 2s", c.cfg.BaseReconnectDelay)
	}
	if c.cfg.Debug {
		t.Error("Debug should default to false")
	}
	if _, ok := c.dialer.(*wsDialer); !ok {
		t.Errorf("dialer = %T, want *wsDialer", c.dialer)
	}
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		name     string
		base     time.Duration
		max      time.Duration
		attempt  int
		expected time.Duration
	}{
		{"first attempt", 2 * time.Second, 0, 1, 2 * time.Second},
		{"second attempt", 2 * time.Second, 0, 2, 4 * time.Second},
		{"third attempt", 2 * time.Second, 0, 3, 8 * time.Second},
		{"fifth attempt", 2 * time.Second, 0, 5, 32 * time.Second},
		{"zero attempt treated as first", time.Second, 0, 0, time.Second},
		{"capped", 2 * time.Second, 5 * time.Second, 3, 5 * time.Second},
		{"below cap", 2 * time.Second, 5 * time.Second, 2, 4 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BackoffDelay(tt.base, tt.max, tt.attempt)
			if got != tt.expected {
				t.Errorf("BackoffDelay(%v, %v, %d) = %v, want %v", tt.base, tt.max, tt.attempt, got, tt.expected)
			}
		})
	}
}

func TestBackoffDelay_NoOverflow(t *testing.T) {
	got := BackoffDelay(time.Second, 0, 200)
	if got <= 0 {
		t.Errorf("BackoffDelay overflowed: %v", got)
	}
}

func TestClient_SingleFlightConnect(t *testing.T) {
	rec := &recorder{}
	dialer := &fakeDialer{hold: make(chan struct{})}
	clock := &fakeClock{}
	c := newTestClient(t, rec.config("wss://example/test"), dialer, clock)

	c.Connect()
	c.Connect()
	close(dialer.hold)

	waitFor(t, "open", func() bool { return rec.Opens() == 1 })

	// Connecting again while open is also a no-op
	c.Connect()
	time.Sleep(20 * time.Millisecond)

	if dialer.Dials() != 1 {
		t.Errorf("dials = %d, want 1", dialer.Dials())
	}
	if rec.Opens() != 1 {
		t.Errorf("opens = %d, want 1", rec.Opens())
	}
}

func TestClient_BackoffSchedule(t *testing.T) {
	rec := &recorder{}
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	cfg := rec.config("wss://example/test")
	cfg.BaseReconnectDelay = 2000 * time.Millisecond
	c := newTestClient(t, cfg, dialer, clock)

	openClient(t, c, rec)
	dialer.failNext(2)

	// Three consecutive unexpected closes
	dialer.Conn(0).remoteClose(1001)
	waitFor(t, "first timer", func() bool { return clock.Len() == 1 })
	clock.Fire(0)
	waitFor(t, "second timer", func() bool { return clock.Len() == 2 })
	clock.Fire(1)
	waitFor(t, "third timer", func() bool { return clock.Len() == 3 })

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	if got := clock.Delays(); !reflect.DeepEqual(got, want) {
		t.Errorf("delays = %v, want %v", got, want)
	}
}

func TestClient_AttemptCeiling(t *testing.T) {
	rec := &recorder{}
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	cfg := rec.config("wss://example/test")
	cfg.MaxReconnectAttempts = 5
	cfg.BaseReconnectDelay = 10 * time.Millisecond
	c := newTestClient(t, cfg, dialer, clock)

	dialer.failNext(6)
	c.Connect()

	for i := 0; i < 5; i++ {
		n := i + 1
		waitFor(t, "timer", func() bool { return clock.Len() == n })
		clock.Fire(i)
	}

	waitFor(t, "sixth dial", func() bool { return rec.Closes() == 6 })
	time.Sleep(20 * time.Millisecond)

	if clock.Len() != 5 {
		t.Errorf("timers = %d, want 5 (no sixth automatic attempt)", clock.Len())
	}
	if dialer.Dials() != 6 {
		t.Errorf("dials = %d, want 6", dialer.Dials())
	}
	if c.IsConnected() {
		t.Error("expected client to stay disconnected after exhausting attempts")
	}
}

func TestClient_ExplicitCloseSuppressesReconnect(t *testing.T) {
	rec := &recorder{}
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	c := newTestClient(t, rec.config("wss://example/test"), dialer, clock)

	openClient(t, c, rec)
	c.Disconnect()

	// The transport still reports its close
	waitFor(t, "close", func() bool { return rec.Closes() == 1 })
	time.Sleep(20 * time.Millisecond)

	if clock.Len() != 0 {
		t.Errorf("timers = %d, want 0 after Disconnect", clock.Len())
	}
	if c.IsConnected() {
		t.Error("expected IsConnected to return false after Disconnect")
	}

	rec.mu.Lock()
	ev := rec.closes[0]
	rec.mu.Unlock()
	if ev.Code != CloseNormal {
		t.Errorf("close code = %d, want %d", ev.Code, CloseNormal)
	}
	if rec.Errors() != 0 {
		t.Errorf("errors = %d, want 0 for a local close", rec.Errors())
	}
}

func TestClient_SupersededCloseNotReported(t *testing.T) {
	rec := &recorder{}
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	cfg := rec.config("wss://example/test")

	// Hold the first connection's read goroutine inside OnMessage
	gate := make(chan struct{})
	inCallback := make(chan struct{}, 1)
	onMessage := cfg.OnMessage
	cfg.OnMessage = func(m Message) {
		select {
		case inCallback <- struct{}{}:
			<-gate
		default:
		}
		onMessage(m)
	}
	c := newTestClient(t, cfg, dialer, clock)

	openClient(t, c, rec)
	dialer.Conn(0).inbound <- []byte(`{"type":"trade"}`)
	<-inCallback

	c.Disconnect()
	c.Connect()
	waitFor(t, "second connection", func() bool { return c.IsConnected() })

	// The old read loop now sees its closed transport
	close(gate)
	waitFor(t, "reopen", func() bool { return rec.Opens() == 2 })
	time.Sleep(20 * time.Millisecond)

	if rec.Closes() != 0 {
		t.Errorf("closes = %d, want 0 for a superseded connection", rec.Closes())
	}
	if !c.IsConnected() {
		t.Error("expected the new connection to stay open")
	}
	if clock.Len() != 0 {
		t.Errorf("timers = %d, want 0", clock.Len())
	}
}

func TestClient_MalformedFrameDropped(t *testing.T) {
	rec := &recorder{}
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	cfg := rec.config("wss://example/test")
	cfg.Debug = true
	c := newTestClient(t, cfg, dialer, clock)

	openClient(t, c, rec)
	conn := dialer.Conn(0)
	conn.inbound <- []byte(`not json{`)
	conn.inbound <- []byte(`{"type":"trade","symbol":"BTC-USD"}`)

	waitFor(t, "message", func() bool { return len(rec.Messages()) == 1 })

	msgs := rec.Messages()
	if string(msgs[0].Data) != `{"type":"trade","symbol":"BTC-USD"}` {
		t.Errorf("message = %s, want the valid frame", msgs[0].Data)
	}
	if msgs[0].ReceivedAt.IsZero() {
		t.Error("ReceivedAt should not be zero")
	}
	if !c.IsConnected() {
		t.Error("malformed frame should not close the connection")
	}
	if rec.Closes() != 0 {
		t.Errorf("closes = %d, want 0", rec.Closes())
	}
}

func TestClient_MessagesInOrder(t *testing.T) {
	rec := &recorder{}
	dialer := &fakeDialer{}
	c := newTestClient(t, rec.config("wss://example/test"), dialer, &fakeClock{})

	openClient(t, c, rec)
	frames := []string{`{"n":1}`, `{"n":2}`, `{"n":3}`, `{"n":4}`, `{"n":5}`}
	for _, f := range frames {
		dialer.Conn(0).inbound <- []byte(f)
	}

	waitFor(t, "messages", func() bool { return len(rec.Messages()) == len(frames) })

	for i, msg := range rec.Messages() {
		if string(msg.Data) != frames[i] {
			t.Errorf("message %d: got %s, want %s", i, msg.Data, frames[i])
		}
	}
}

func TestClient_SendNotConnected(t *testing.T) {
	rec := &recorder{}
	dialer := &fakeDialer{}
	c := newTestClient(t, rec.config("wss://example/test"), dialer, &fakeClock{})

	err := c.Send(map[string]string{"type": "ping"})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
	if dialer.Dials() != 0 {
		t.Errorf("dials = %d, want 0", dialer.Dials())
	}
}

func TestClient_SendBeforeOpen(t *testing.T) {
	rec := &recorder{}
	dialer := &fakeDialer{hold: make(chan struct{})}
	c := newTestClient(t, rec.config("wss://example/test"), dialer, &fakeClock{})

	c.Connect()
	if err := c.Send(map[string]string{"type": "ping"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() before open error = %v, want ErrNotConnected", err)
	}

	close(dialer.hold)
	waitFor(t, "open", func() bool { return rec.Opens() == 1 })

	conn := dialer.Conn(0)
	if n := len(conn.Writes()); n != 0 {
		t.Fatalf("writes before open = %d, want 0", n)
	}

	if err := c.Send(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("Send() after open failed: %v", err)
	}
	writes := conn.Writes()
	if len(writes) != 1 || string(writes[0]) != `{"type":"ping"}` {
		t.Errorf("writes = %q, want one ping frame", writes)
	}
}

func TestClient_SendEncodeError(t *testing.T) {
	rec := &recorder{}
	dialer := &fakeDialer{}
	c := newTestClient(t, rec.config("wss://example/test"), dialer, &fakeClock{})

	openClient(t, c, rec)
	if err := c.Send(make(chan int)); err == nil {
		t.Error("expected encode error for unsupported value")
	}
	if n := len(dialer.Conn(0).Writes()); n != 0 {
		t.Errorf("writes = %d, want 0", n)
	}
}

func TestClient_ReconnectResetsCounter(t *testing.T) {
	rec := &recorder{}
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	cfg := rec.config("wss://example/test")
	cfg.MaxReconnectAttempts = 5
	cfg.BaseReconnectDelay = 10 * time.Millisecond
	c := newTestClient(t, cfg, dialer, clock)

	// Two failures, then a successful open
	dialer.failNext(2)
	c.Connect()
	waitFor(t, "timer 1", func() bool { return clock.Len() == 1 })
	clock.Fire(0)
	waitFor(t, "timer 2", func() bool { return clock.Len() == 2 })
	clock.Fire(1)
	waitFor(t, "open", func() bool { return rec.Opens() == 1 })

	c.mu.Lock()
	attempts := c.attempts
	c.mu.Unlock()
	if attempts != 0 {
		t.Fatalf("attempts after open = %d, want 0", attempts)
	}

	// Five new failures schedule five fresh retries
	dialer.failNext(5)
	dialer.Conn(0).remoteClose(1012)
	for i := 2; i < 7; i++ {
		n := i + 1
		waitFor(t, "retry timer", func() bool { return clock.Len() == n })
		clock.Fire(i)
	}
	waitFor(t, "final close", func() bool { return rec.Closes() == 8 })
	time.Sleep(20 * time.Millisecond)

	if got := clock.Len() - 2; got != 5 {
		t.Errorf("retries after reset = %d, want 5", got)
	}

	want := []time.Duration{
		10 * time.Millisecond, 20 * time.Millisecond,
		10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 80 * time.Millisecond, 160 * time.Millisecond,
	}
	if got := clock.Delays(); !reflect.DeepEqual(got, want) {
		t.Errorf("delays = %v, want %v", got, want)
	}
}

func TestClient_TwoFailureScenario(t *testing.T) {
	rec := &recorder{}
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	cfg := rec.config("wss://example/test")
	cfg.MaxReconnectAttempts = 2
	cfg.BaseReconnectDelay = 100 * time.Millisecond
	c := newTestClient(t, cfg, dialer, clock)

	openClient(t, c, rec)
	dialer.failNext(2)

	dialer.Conn(0).remoteClose(1006)
	waitFor(t, "first timer", func() bool { return clock.Len() == 1 })
	clock.Fire(0)
	waitFor(t, "second timer", func() bool { return clock.Len() == 2 })
	clock.Fire(1)
	waitFor(t, "last close", func() bool { return rec.Closes() == 3 })
	time.Sleep(20 * time.Millisecond)

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if got := clock.Delays(); !reflect.DeepEqual(got, want) {
		t.Errorf("delays = %v, want %v (and no third timer)", got, want)
	}
}

func TestClient_DisconnectBeforeConnect(t *testing.T) {
	rec := &recorder{}
	dialer := &fakeDialer{}
	c := newTestClient(t, rec.config("wss://example/test"), dialer, &fakeClock{})

	c.Disconnect()
	c.Disconnect()

	if c.IsConnected() {
		t.Error("expected IsConnected to return false")
	}
	if rec.Closes() != 0 {
		t.Errorf("closes = %d, want 0", rec.Closes())
	}
}

func TestClient_DisconnectCancelsPendingReconnect(t *testing.T) {
	rec := &recorder{}
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	c := newTestClient(t, rec.config("wss://example/test"), dialer, clock)

	openClient(t, c, rec)
	dialer.Conn(0).remoteClose(1001)
	waitFor(t, "timer", func() bool { return clock.Len() == 1 })

	c.Disconnect()
	if !clock.Timer(0).Stopped() {
		t.Error("expected pending timer to be stopped")
	}

	// A timer that already started firing must not revive the connection
	clock.Timer(0).fn()
	time.Sleep(20 * time.Millisecond)

	if dialer.Dials() != 1 {
		t.Errorf("dials = %d, want 1", dialer.Dials())
	}
}

func TestClient_DisconnectAbortsDial(t *testing.T) {
	rec := &recorder{}
	dialer := &fakeDialer{hold: make(chan struct{})}
	clock := &fakeClock{}
	c := newTestClient(t, rec.config("wss://example/test"), dialer, clock)

	c.Connect()
	waitFor(t, "dial", func() bool { return dialer.Dials() == 1 })
	c.Disconnect()
	time.Sleep(20 * time.Millisecond)

	if rec.Opens() != 0 || rec.Closes() != 0 || rec.Errors() != 0 {
		t.Errorf("callbacks fired for an aborted dial: opens=%d closes=%d errors=%d",
			rec.Opens(), rec.Closes(), rec.Errors())
	}
	if clock.Len() != 0 {
		t.Errorf("timers = %d, want 0", clock.Len())
	}
}

func TestClient_ConnectSupersedesPendingTimer(t *testing.T) {
	rec := &recorder{}
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	c := newTestClient(t, rec.config("wss://example/test"), dialer, clock)

	openClient(t, c, rec)
	dialer.Conn(0).remoteClose(1001)
	waitFor(t, "timer", func() bool { return clock.Len() == 1 })

	c.Connect()
	waitFor(t, "reopen", func() bool { return rec.Opens() == 2 })

	if !clock.Timer(0).Stopped() {
		t.Error("expected pending timer to be stopped by Connect")
	}
	if dialer.Dials() != 2 {
		t.Errorf("dials = %d, want 2", dialer.Dials())
	}
}

func TestClient_ManualConnectAfterExhaustion(t *testing.T) {
	rec := &recorder{}
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	cfg := rec.config("wss://example/test")
	cfg.MaxReconnectAttempts = 1
	c := newTestClient(t, cfg, dialer, clock)

	dialer.failNext(2)
	c.Connect()
	waitFor(t, "timer", func() bool { return clock.Len() == 1 })
	clock.Fire(0)
	waitFor(t, "second failure", func() bool { return rec.Closes() == 2 })
	time.Sleep(20 * time.Millisecond)
	if clock.Len() != 1 {
		t.Fatalf("timers = %d, want 1", clock.Len())
	}

	c.Connect()
	waitFor(t, "open", func() bool { return rec.Opens() == 1 })
	if !c.IsConnected() {
		t.Error("expected manual Connect to succeed after exhaustion")
	}
}

func TestClient_NegativeMaxAttemptsDisablesReconnect(t *testing.T) {
	rec := &recorder{}
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	cfg := rec.config("wss://example/test")
	cfg.MaxReconnectAttempts = -1
	c := newTestClient(t, cfg, dialer, clock)

	openClient(t, c, rec)
	dialer.Conn(0).remoteClose(1001)
	waitFor(t, "close", func() bool { return rec.Closes() == 1 })
	time.Sleep(20 * time.Millisecond)

	if clock.Len() != 0 {
		t.Errorf("timers = %d, want 0", clock.Len())
	}
}

func TestClient_TransportErrorThenClose(t *testing.T) {
	rec := &recorder{}
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	c := newTestClient(t, rec.config("wss://example/test"), dialer, clock)

	openClient(t, c, rec)
	resetErr := errors.New("connection reset by peer")
	dialer.Conn(0).failure <- resetErr

	waitFor(t, "timer", func() bool { return clock.Len() == 1 })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], resetErr) {
		t.Errorf("errors = %v, want [%v]", rec.errs, resetErr)
	}
	if len(rec.closes) != 1 {
		t.Fatalf("closes = %d, want 1", len(rec.closes))
	}
	ev := rec.closes[0]
	if ev.Code != CloseAbnormal || ev.WasClean() {
		t.Errorf("close event = %+v, want abnormal", ev)
	}
}

func TestClient_RemoteCloseIsNotAnError(t *testing.T) {
	rec := &recorder{}
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	c := newTestClient(t, rec.config("wss://example/test"), dialer, clock)

	openClient(t, c, rec)
	dialer.Conn(0).remoteClose(1001)
	waitFor(t, "timer", func() bool { return clock.Len() == 1 })

	if rec.Errors() != 0 {
		t.Errorf("errors = %d, want 0", rec.Errors())
	}
	rec.mu.Lock()
	ev := rec.closes[0]
	rec.mu.Unlock()
	if ev.Code != 1001 || ev.Reason != "bye" {
		t.Errorf("close event = %+v, want code 1001 reason bye", ev)
	}
}

func TestClient_DialFailureFeedsReconnect(t *testing.T) {
	rec := &recorder{}
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	c := newTestClient(t, rec.config("wss://example/test"), dialer, clock)

	dialer.failNext(1)
	c.Connect()
	waitFor(t, "timer", func() bool { return clock.Len() == 1 })

	if rec.Errors() != 1 {
		t.Errorf("errors = %d, want 1", rec.Errors())
	}
	if rec.Closes() != 1 {
		t.Errorf("closes = %d, want 1", rec.Closes())
	}
	if rec.Opens() != 0 {
		t.Errorf("opens = %d, want 0", rec.Opens())
	}

	clock.Fire(0)
	waitFor(t, "open", func() bool { return rec.Opens() == 1 })
}

func TestClient_Headers(t *testing.T) {
	rec := &recorder{}
	dialer := &fakeDialer{}
	cfg := rec.config("wss://example/test")
	cfg.Header = http.Header{"Accept": []string{"application/json"}}
	cfg.HeaderFunc = func() (http.Header, error) {
		return http.Header{"X-Access-Signature": []string{"sig"}}, nil
	}
	c := newTestClient(t, cfg, dialer, &fakeClock{})

	openClient(t, c, rec)

	dialer.mu.Lock()
	header := dialer.headers[0]
	dialer.mu.Unlock()
	if header.Get("Accept") != "application/json" {
		t.Errorf("Accept = %q, want application/json", header.Get("Accept"))
	}
	if header.Get("X-Access-Signature") != "sig" {
		t.Errorf("X-Access-Signature = %q, want sig", header.Get("X-Access-Signature"))
	}
	if cfg.Header.Get("X-Access-Signature") != "" {
		t.Error("static headers must not be mutated")
	}
}

func TestClient_HeaderFuncError(t *testing.T) {
	rec := &recorder{}
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	cfg := rec.config("wss://example/test")
	cfg.HeaderFunc = func() (http.Header, error) {
		return nil, errors.New("key unavailable")
	}
	c := newTestClient(t, cfg, dialer, clock)

	c.Connect()
	waitFor(t, "timer", func() bool { return clock.Len() == 1 })

	if dialer.Dials() != 0 {
		t.Errorf("dials = %d, want 0", dialer.Dials())
	}
	if rec.Errors() != 1 {
		t.Errorf("errors = %d, want 1", rec.Errors())
	}
}

func TestClient_CallbackPanicRecovered(t *testing.T) {
	var delivered atomic.Int32
	dialer := &fakeDialer{}
	opened := make(chan struct{}, 1)
	cfg := Config{
		URL: "wss://example/test",
		OnMessage: func(m Message) {
			if delivered.Add(1) == 1 {
				panic("boom")
			}
		},
		OnOpen: func() { opened <- struct{}{} },
	}
	c := newTestClient(t, cfg, dialer, &fakeClock{})

	c.Connect()
	<-opened
	dialer.Conn(0).inbound <- []byte(`{"n":1}`)
	dialer.Conn(0).inbound <- []byte(`{"n":2}`)

	waitFor(t, "second message", func() bool { return delivered.Load() == 2 })
	if !c.IsConnected() {
		t.Error("a panicking callback should not close the connection")
	}
}

func TestClient_CallbacksMayReenter(t *testing.T) {
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	var c *Client
	var closes atomic.Int32
	cfg := Config{
		URL:       "wss://example/test",
		OnMessage: func(Message) {},
		OnOpen: func() {
			if err := c.Send(map[string]string{"op": "subscribe"}); err != nil {
				t.Errorf("Send from OnOpen failed: %v", err)
			}
		},
		OnClose: func(CloseEvent) {
			closes.Add(1)
			c.Disconnect()
		},
	}
	c = newTestClient(t, cfg, dialer, clock)

	c.Connect()
	waitFor(t, "subscribe write", func() bool {
		conn := dialer.Conn(0)
		return conn != nil && len(conn.Writes()) == 1
	})

	dialer.Conn(0).remoteClose(1001)
	waitFor(t, "close", func() bool { return closes.Load() == 1 })
	time.Sleep(20 * time.Millisecond)

	if clock.Len() != 0 {
		t.Errorf("timers = %d, want 0 after Disconnect from OnClose", clock.Len())
	}
}
