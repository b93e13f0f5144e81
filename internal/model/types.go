package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Side is the taker side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide normalizes the wire spellings of a trade side.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "buy", "bid", "b":
		return SideBuy, nil
	case "sell", "ask", "s":
		return SideSell, nil
	default:
		return "", fmt.Errorf("unknown side %q", s)
	}
}

// Trade represents an executed trade.
type Trade struct {
	TradeID    uuid.UUID // Primary key
	ExchangeTS int64     // Exchange timestamp (µs since epoch)
	ReceivedAt int64     // Local receive timestamp (µs since epoch)
	Symbol     string    // e.g. "BTC-USD"
	Price      string    // Decimal string
	Size       string    // Decimal string
	Side       Side
}

// PriceLevel is one price point of an order book.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookTop is the best bid and ask of one order book.
type BookTop struct {
	Symbol    string
	BestBid   PriceLevel // Zero value when the bid side is empty
	BestAsk   PriceLevel
	Spread    float64 // BestAsk - BestBid; 0 when either side is empty
	Seq       int64
	Stale     bool  // A sequence gap was seen since the last snapshot
	UpdatedAt int64 // µs since epoch
}

// Ticker represents a ticker update (price/volume snapshot).
type Ticker struct {
	ExchangeTS int64
	ReceivedAt int64
	Symbol     string
	Price      string
	BestBid    string
	BestAsk    string
	Volume24h  string
}

// MicrosFromMillis converts an exchange millisecond timestamp to the
// microsecond convention used throughout the module.
func MicrosFromMillis(ms int64) int64 {
	return ms * 1_000
}
