package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/stream"
)

// Router parses decoded stream frames and routes them to typed buffers.
type Router interface {
	// Start begins routing messages from the input channel.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the router.
	Stop(ctx context.Context) error

	// Buffers returns output buffers for consumers.
	Buffers() RouterBuffers

	// Stats returns current router statistics.
	Stats() RouterStats
}

// RouterBuffers provides access to output buffers.
type RouterBuffers struct {
	Orderbook *GrowableBuffer[OrderbookMsg]
	Trade     *GrowableBuffer[TradeMsg]
	Ticker    *GrowableBuffer[TickerMsg]
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived int64
	MessagesRouted   int64
	ParseErrors      int64
	UnknownMessages  int64
	SeqGaps          int64
	OrderbookBuffer  BufferStats
	TradeBuffer      BufferStats
	TickerBuffer     BufferStats
}

// router is the internal implementation.
type router struct {
	cfg    RouterConfig
	logger *slog.Logger

	input <-chan stream.Message

	orderbookBuf *GrowableBuffer[OrderbookMsg]
	tradeBuf     *GrowableBuffer[TradeMsg]
	tickerBuf    *GrowableBuffer[TickerMsg]

	// Last sequence number per channel and symbol. Only touched by routeLoop.
	seqs map[seqKey]int64

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Stats
	mu              sync.RWMutex
	received        int64
	routed          int64
	parseErrors     int64
	unknownMessages int64
	seqGaps         int64
}

type seqKey struct {
	channel string
	symbol  string
}

// NewRouter creates a new Message Router.
func NewRouter(cfg RouterConfig, input <-chan stream.Message, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &router{
		cfg:          cfg,
		logger:       logger,
		input:        input,
		orderbookBuf: NewGrowableBuffer[OrderbookMsg](cfg.OrderbookBufferSize),
		tradeBuf:     NewGrowableBuffer[TradeMsg](cfg.TradeBufferSize),
		tickerBuf:    NewGrowableBuffer[TickerMsg](cfg.TickerBufferSize),
		seqs:         make(map[seqKey]int64),
	}
}

// Start begins routing messages.
func (r *router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("message router started",
		"orderbook_buffer", r.cfg.OrderbookBufferSize,
		"trade_buffer", r.cfg.TradeBufferSize,
		"ticker_buffer", r.cfg.TickerBufferSize,
	)

	return nil
}

// Stop gracefully shuts down the router and closes the output buffers.
func (r *router) Stop(ctx context.Context) error {
	r.logger.Info("stopping message router")

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("message router stopped")
	case <-ctx.Done():
		r.logger.Warn("message router stop timed out")
	}

	r.orderbookBuf.Close()
	r.tradeBuf.Close()
	r.tickerBuf.Close()

	return nil
}

// Buffers returns output buffers.
func (r *router) Buffers() RouterBuffers {
	return RouterBuffers{
		Orderbook: r.orderbookBuf,
		Trade:     r.tradeBuf,
		Ticker:    r.tickerBuf,
	}
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RouterStats{
		MessagesReceived: r.received,
		MessagesRouted:   r.routed,
		ParseErrors:      r.parseErrors,
		UnknownMessages:  r.unknownMessages,
		SeqGaps:          r.seqGaps,
		OrderbookBuffer:  r.orderbookBuf.Stats(),
		TradeBuffer:      r.tradeBuf.Stats(),
		TickerBuffer:     r.tickerBuf.Stats(),
	}
}

func (r *router) routeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case msg, ok := <-r.input:
			if !ok {
				r.logger.Info("input channel closed")
				return
			}
			r.route(msg)
		}
	}
}

// route parses and routes a single message. The received counter is bumped
// after the outcome counters.
func (r *router) route(msg stream.Message) {
	defer func() {
		r.mu.Lock()
		r.received++
		r.mu.Unlock()
	}()

	msgType, err := extractType(msg.Data)
	if err != nil {
		r.parseFailed("envelope", err)
		return
	}

	var sent bool

	switch msgType {
	case "orderbook_snapshot", "orderbook_update":
		ob, err := parseOrderbook(msgType, msg)
		if err != nil {
			r.parseFailed(msgType, err)
			return
		}
		ob.SeqGap, ob.GapSize = r.checkSeq("orderbook", ob.Symbol, ob.Seq, ob.Kind == KindSnapshot)
		sent = r.orderbookBuf.Send(ob)

	case "trade":
		tr, err := parseTrade(msg)
		if err != nil {
			r.parseFailed(msgType, err)
			return
		}
		tr.SeqGap, tr.GapSize = r.checkSeq("trades", tr.Symbol, tr.Seq, false)
		sent = r.tradeBuf.Send(tr)

	case "ticker":
		tk, err := parseTicker(msg)
		if err != nil {
			r.parseFailed(msgType, err)
			return
		}
		sent = r.tickerBuf.Send(tk)

	case "subscribed", "unsubscribed", "error", "pong", "heartbeat":
		return

	default:
		r.logger.Debug("skipping message type", "type", msgType)
		r.mu.Lock()
		r.unknownMessages++
		r.mu.Unlock()
		return
	}

	if sent {
		r.mu.Lock()
		r.routed++
		r.mu.Unlock()
	}
}

func (r *router) parseFailed(what string, err error) {
	r.logger.Warn("failed to parse message", "type", what, "error", err)
	r.mu.Lock()
	r.parseErrors++
	r.mu.Unlock()
}

// checkSeq records seq for (channel, symbol) and reports a gap when it does
// not follow the previous value. A reset (snapshot) starts a new sequence.
// Frames without a sequence number are never flagged.
func (r *router) checkSeq(channel, symbol string, seq int64, reset bool) (bool, int) {
	if seq <= 0 {
		return false, 0
	}

	key := seqKey{channel: channel, symbol: symbol}
	last, seen := r.seqs[key]
	r.seqs[key] = seq

	if reset || !seen || seq == last+1 {
		return false, 0
	}

	gap := int(seq - last - 1)
	if gap < 0 {
		// Sequence went backwards; treat as a gap of unknown size
		gap = 0
	}

	r.logger.Warn("sequence gap detected",
		"channel", channel,
		"symbol", symbol,
		"last_seq", last,
		"seq", seq,
	)
	r.mu.Lock()
	r.seqGaps++
	r.mu.Unlock()

	return true, gap
}

// extractType extracts the message type without a full parse.
func extractType(data []byte) (string, error) {
	var envelope messageEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", err
	}
	if envelope.Type == "" {
		return "", errors.New("missing type")
	}
	return envelope.Type, nil
}

func parseOrderbook(msgType string, msg stream.Message) (OrderbookMsg, error) {
	var wire orderbookWire
	if err := json.Unmarshal(msg.Data, &wire); err != nil {
		return OrderbookMsg{}, err
	}
	if wire.Symbol == "" {
		return OrderbookMsg{}, errors.New("missing symbol")
	}

	bids, err := parsePriceLevels(wire.Data.Bids)
	if err != nil {
		return OrderbookMsg{}, fmt.Errorf("bids: %w", err)
	}
	asks, err := parsePriceLevels(wire.Data.Asks)
	if err != nil {
		return OrderbookMsg{}, fmt.Errorf("asks: %w", err)
	}

	kind := KindUpdate
	if msgType == "orderbook_snapshot" {
		kind = KindSnapshot
	}

	return OrderbookMsg{
		Kind:       kind,
		Symbol:     wire.Symbol,
		Seq:        wire.Seq,
		ExchangeTs: model.MicrosFromMillis(wire.Data.Ts),
		ReceivedAt: msg.ReceivedAt,
		Bids:       bids,
		Asks:       asks,
	}, nil
}

func parseTrade(msg stream.Message) (TradeMsg, error) {
	var wire tradeWire
	if err := json.Unmarshal(msg.Data, &wire); err != nil {
		return TradeMsg{}, err
	}
	if wire.Symbol == "" {
		return TradeMsg{}, errors.New("missing symbol")
	}
	if wire.Data.TradeID == "" {
		return TradeMsg{}, errors.New("missing trade_id")
	}

	return TradeMsg{
		Symbol:     wire.Symbol,
		TradeID:    wire.Data.TradeID,
		Price:      wire.Data.Price,
		Size:       wire.Data.Size,
		Side:       wire.Data.Side,
		Seq:        wire.Seq,
		ExchangeTs: model.MicrosFromMillis(wire.Data.Ts),
		ReceivedAt: msg.ReceivedAt,
	}, nil
}

func parseTicker(msg stream.Message) (TickerMsg, error) {
	var wire tickerWire
	if err := json.Unmarshal(msg.Data, &wire); err != nil {
		return TickerMsg{}, err
	}
	if wire.Symbol == "" {
		return TickerMsg{}, errors.New("missing symbol")
	}

	return TickerMsg{
		Symbol:     wire.Symbol,
		Price:      wire.Data.Price,
		BestBid:    wire.Data.BestBid,
		BestAsk:    wire.Data.BestAsk,
		Volume24h:  wire.Data.Volume24h,
		ExchangeTs: model.MicrosFromMillis(wire.Data.Ts),
		ReceivedAt: msg.ReceivedAt,
	}, nil
}

// parsePriceLevels converts [["64000.5","1.2"], ...] to []PriceLevel.
func parsePriceLevels(levels [][]string) ([]PriceLevel, error) {
	result := make([]PriceLevel, 0, len(levels))
	for i, level := range levels {
		if len(level) < 2 {
			return nil, fmt.Errorf("level %d has %d fields", i, len(level))
		}
		result = append(result, PriceLevel{
			Price: level[0],
			Size:  level[1],
		})
	}
	return result, nil
}
