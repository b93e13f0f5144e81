// Package book maintains in-memory order books built from router messages.
package book

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/router"
)

// ErrUnknownSymbol is returned for symbols that have never received a snapshot.
var ErrUnknownSymbol = errors.New("unknown symbol")

// level keeps the exchange's decimal strings alongside a parsed price used
// for ordering.
type level struct {
	price float64
	model.PriceLevel
}

type orderBook struct {
	bids      map[float64]level
	asks      map[float64]level
	seq       int64
	stale     bool
	updatedAt int64
}

// Store holds one order book per symbol. It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	books map[string]*orderBook
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{books: make(map[string]*orderBook)}
}

// Apply folds one orderbook message into the store. A snapshot replaces the
// symbol's book. An update sets each listed level, removing it when the size
// is zero; updates for a symbol without a snapshot are rejected. A sequence
// gap marks the book stale until the next snapshot.
func (s *Store) Apply(msg router.OrderbookMsg) error {
	bids, err := parseLevels(msg.Bids)
	if err != nil {
		return fmt.Errorf("%s bids: %w", msg.Symbol, err)
	}
	asks, err := parseLevels(msg.Asks)
	if err != nil {
		return fmt.Errorf("%s asks: %w", msg.Symbol, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ob, ok := s.books[msg.Symbol]

	switch msg.Kind {
	case router.KindSnapshot:
		ob = &orderBook{
			bids: make(map[float64]level, len(bids)),
			asks: make(map[float64]level, len(asks)),
		}
		s.books[msg.Symbol] = ob
	case router.KindUpdate:
		if !ok {
			return fmt.Errorf("%s: update before snapshot: %w", msg.Symbol, ErrUnknownSymbol)
		}
		if msg.SeqGap {
			ob.stale = true
		}
	default:
		return fmt.Errorf("%s: unknown orderbook kind %q", msg.Symbol, msg.Kind)
	}

	setLevels(ob.bids, bids)
	setLevels(ob.asks, asks)
	ob.seq = msg.Seq
	ob.updatedAt = updatedAt(msg)
	return nil
}

// Top returns the best bid and ask for symbol.
func (s *Store) Top(symbol string) (model.BookTop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ob, ok := s.books[symbol]
	if !ok {
		return model.BookTop{}, ErrUnknownSymbol
	}

	top := model.BookTop{
		Symbol:    symbol,
		Seq:       ob.seq,
		Stale:     ob.stale,
		UpdatedAt: ob.updatedAt,
	}

	bid, hasBid := best(ob.bids, true)
	ask, hasAsk := best(ob.asks, false)
	if hasBid {
		top.BestBid = bid.PriceLevel
	}
	if hasAsk {
		top.BestAsk = ask.PriceLevel
	}
	if hasBid && hasAsk {
		top.Spread = ask.price - bid.price
	}
	return top, nil
}

// Snapshot returns up to depth levels per side, best first. depth <= 0
// returns every level.
func (s *Store) Snapshot(symbol string, depth int) (bids, asks []model.PriceLevel, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ob, ok := s.books[symbol]
	if !ok {
		return nil, nil, ErrUnknownSymbol
	}
	return sorted(ob.bids, true, depth), sorted(ob.asks, false, depth), nil
}

// Symbols returns the symbols with a book, sorted.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.books))
	for sym := range s.books {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Consume applies messages from buf until it is closed. onTop, when non-nil,
// receives the symbol's top of book after every applied message.
func (s *Store) Consume(buf *router.GrowableBuffer[router.OrderbookMsg], logger *slog.Logger, onTop func(model.BookTop)) {
	if logger == nil {
		logger = slog.Default()
	}

	for {
		msg, ok := buf.Receive()
		if !ok {
			return
		}

		if err := s.Apply(msg); err != nil {
			logger.Warn("failed to apply orderbook message", "symbol", msg.Symbol, "error", err)
			continue
		}
		if msg.SeqGap {
			logger.Warn("order book marked stale", "symbol", msg.Symbol, "gap", msg.GapSize)
		}

		if onTop != nil {
			if top, err := s.Top(msg.Symbol); err == nil {
				onTop(top)
			}
		}
	}
}

// MarkStale flags every book stale until its next snapshot. Called when the
// stream drops.
func (s *Store) MarkStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ob := range s.books {
		ob.stale = true
	}
}

func parseLevels(in []router.PriceLevel) ([]level, error) {
	out := make([]level, 0, len(in))
	for _, l := range in {
		price, err := parseDecimal(l.Price)
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", l.Price, err)
		}
		if _, err := parseDecimal(l.Size); err != nil {
			return nil, fmt.Errorf("size %q: %w", l.Size, err)
		}
		out = append(out, level{price: price, PriceLevel: model.PriceLevel{Price: l.Price, Size: l.Size}})
	}
	return out, nil
}

// parseDecimal parses a wire decimal. NaN and infinities are rejected: a NaN
// map key can never be deleted.
func parseDecimal(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.New("not a finite number")
	}
	return f, nil
}

func setLevels(side map[float64]level, levels []level) {
	for _, l := range levels {
		if isZero(l.Size) {
			delete(side, l.price)
			continue
		}
		side[l.price] = l
	}
}

func isZero(size string) bool {
	f, err := strconv.ParseFloat(size, 64)
	return err == nil && f == 0
}

func best(side map[float64]level, highest bool) (level, bool) {
	var out level
	found := false
	for _, l := range side {
		if !found || (highest && l.price > out.price) || (!highest && l.price < out.price) {
			out = l
			found = true
		}
	}
	return out, found
}

func sorted(side map[float64]level, descending bool, depth int) []model.PriceLevel {
	levels := make([]level, 0, len(side))
	for _, l := range side {
		levels = append(levels, l)
	}
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].price > levels[j].price
		}
		return levels[i].price < levels[j].price
	})
	if depth > 0 && depth < len(levels) {
		levels = levels[:depth]
	}

	out := make([]model.PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = l.PriceLevel
	}
	return out
}

func updatedAt(msg router.OrderbookMsg) int64 {
	if msg.ExchangeTs > 0 {
		return msg.ExchangeTs
	}
	if !msg.ReceivedAt.IsZero() {
		return msg.ReceivedAt.UnixMicro()
	}
	return time.Now().UnixMicro()
}
