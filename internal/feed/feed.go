package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rickgao/marketstream/internal/stream"
)

// Subscription operations.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
)

// Subscription names one channel for one symbol.
type Subscription struct {
	Channel string // "trades", "orderbook" or "ticker"
	Symbol  string
}

func (s Subscription) String() string {
	return s.Channel + ":" + s.Symbol
}

// Request is the subscription frame sent to the server.
type Request struct {
	ID      int64  `json:"id"`
	Op      string `json:"op"`
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
}

// Config configures a Feed. Stream callbacks are owned by the feed and are
// overwritten.
type Config struct {
	Stream        stream.Config
	Subscriptions []Subscription

	// OnDisconnect is called after every close of the underlying connection.
	OnDisconnect func(stream.CloseEvent)
}

// Stats contains feed counters.
type Stats struct {
	Opens          int64
	Closes         int64
	Errors         int64
	Messages       int64 // Data frames forwarded
	Dropped        int64 // Data frames dropped on a full output channel
	ControlReplies int64
	Connected      bool
}

// Feed manages subscriptions on a reconnecting stream.
type Feed struct {
	client       *stream.Client
	out          chan<- stream.Message
	logger       *slog.Logger
	onDisconnect func(stream.CloseEvent)

	nextID atomic.Int64

	mu   sync.Mutex
	subs map[Subscription]struct{}
	// replayed is set once handleOpen has taken the set for the current
	// connection. Before that, Subscribe and Unsubscribe only update the set.
	replayed bool

	opens, closes, errs     atomic.Int64
	messages, dropped, ctrl atomic.Int64
}

// New creates a Feed. It does not connect until Start is called.
func New(cfg Config, out chan<- stream.Message, logger *slog.Logger, opts ...stream.Option) (*Feed, error) {
	if out == nil {
		return nil, errors.New("output channel is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	f := &Feed{
		out:          out,
		logger:       logger.With("component", "feed"),
		onDisconnect: cfg.OnDisconnect,
		subs:         make(map[Subscription]struct{}),
	}
	for _, sub := range cfg.Subscriptions {
		if err := validate(sub); err != nil {
			return nil, err
		}
		f.subs[sub] = struct{}{}
	}

	sc := cfg.Stream
	sc.OnOpen = f.handleOpen
	sc.OnMessage = f.handleMessage
	sc.OnClose = f.handleClose
	sc.OnError = f.handleError

	client, err := stream.New(sc, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("create stream client: %w", err)
	}
	f.client = client

	return f, nil
}

// Start connects in the background.
func (f *Feed) Start() {
	f.logger.Info("starting feed", "subscriptions", len(f.Subscriptions()))
	f.client.Connect()
}

// Stop disconnects and suppresses reconnects.
func (f *Feed) Stop() {
	f.logger.Info("stopping feed")
	f.client.Disconnect()
}

// Subscribe adds sub to the set. It is sent immediately when connected and
// on every later open either way.
func (f *Feed) Subscribe(sub Subscription) error {
	if err := validate(sub); err != nil {
		return err
	}

	f.mu.Lock()
	_, exists := f.subs[sub]
	f.subs[sub] = struct{}{}
	direct := f.replayed
	f.mu.Unlock()

	if exists || !direct {
		return nil
	}
	return f.send(OpSubscribe, sub)
}

// Unsubscribe removes sub from the set.
func (f *Feed) Unsubscribe(sub Subscription) error {
	f.mu.Lock()
	_, exists := f.subs[sub]
	delete(f.subs, sub)
	direct := f.replayed
	f.mu.Unlock()

	if !exists || !direct {
		return nil
	}
	return f.send(OpUnsubscribe, sub)
}

// Subscriptions returns the current set in (channel, symbol) order.
func (f *Feed) Subscriptions() []Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sortedLocked()
}

func (f *Feed) sortedLocked() []Subscription {
	out := make([]Subscription, 0, len(f.subs))
	for sub := range f.subs {
		out = append(out, sub)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Channel != out[j].Channel {
			return out[i].Channel < out[j].Channel
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Connected reports whether the underlying connection is open.
func (f *Feed) Connected() bool {
	return f.client.IsConnected()
}

// Stats returns current counters.
func (f *Feed) Stats() Stats {
	return Stats{
		Opens:          f.opens.Load(),
		Closes:         f.closes.Load(),
		Errors:         f.errs.Load(),
		Messages:       f.messages.Load(),
		Dropped:        f.dropped.Load(),
		ControlReplies: f.ctrl.Load(),
		Connected:      f.client.IsConnected(),
	}
}

// send writes one request. Not being connected is not an error: the
// subscription set is replayed on the next open.
func (f *Feed) send(op string, sub Subscription) error {
	req := Request{
		ID:      f.nextID.Add(1),
		Op:      op,
		Channel: sub.Channel,
		Symbol:  sub.Symbol,
	}

	err := f.client.Send(req)
	switch {
	case err == nil:
		f.logger.Debug("sent request", "id", req.ID, "op", op, "subscription", sub.String())
		return nil
	case errors.Is(err, stream.ErrNotConnected):
		f.logger.Debug("not connected, request deferred to next open", "op", op, "subscription", sub.String())
		return nil
	default:
		return fmt.Errorf("%s %s: %w", op, sub, err)
	}
}

// handleOpen replays the set. Taking the set and marking it replayed under
// one lock means each subscription is sent once per connection, either here
// or directly by Subscribe.
func (f *Feed) handleOpen() {
	f.opens.Add(1)

	f.mu.Lock()
	subs := f.sortedLocked()
	f.replayed = true
	f.mu.Unlock()

	f.logger.Info("stream open, subscribing", "subscriptions", len(subs))

	for _, sub := range subs {
		if err := f.send(OpSubscribe, sub); err != nil {
			f.logger.Warn("resubscribe failed", "subscription", sub.String(), "error", err)
			return
		}
	}
}

// controlEnvelope covers the server's replies to requests.
type controlEnvelope struct {
	Type    string `json:"type"`
	ID      int64  `json:"id"`
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
	Message string `json:"message"`
}

func (f *Feed) handleMessage(msg stream.Message) {
	var env controlEnvelope
	if err := json.Unmarshal(msg.Data, &env); err == nil {
		switch env.Type {
		case "subscribed", "unsubscribed":
			f.ctrl.Add(1)
			f.logger.Debug("subscription acknowledged", "type", env.Type, "id", env.ID, "channel", env.Channel, "symbol", env.Symbol)
			return
		case "error":
			f.ctrl.Add(1)
			f.logger.Warn("server error reply", "id", env.ID, "message", env.Message)
			return
		case "pong", "heartbeat":
			f.ctrl.Add(1)
			return
		}
	}

	select {
	case f.out <- msg:
		f.messages.Add(1)
	default:
		n := f.dropped.Add(1)
		f.logger.Warn("output channel full, dropping frame", "dropped_total", n)
	}
}

func (f *Feed) handleClose(ev stream.CloseEvent) {
	f.closes.Add(1)

	f.mu.Lock()
	f.replayed = false
	f.mu.Unlock()

	if f.onDisconnect != nil {
		f.onDisconnect(ev)
	}
}

func (f *Feed) handleError(err error) {
	f.errs.Add(1)
	f.logger.Warn("stream error", "error", err)
}

func validate(sub Subscription) error {
	if sub.Channel == "" || sub.Symbol == "" {
		return fmt.Errorf("invalid subscription %q: channel and symbol are required", sub.String())
	}
	return nil
}
